package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/usecase"
)

// BatchIngestArgs names the staged transfer files to ingest. No files means
// every staged file.
type BatchIngestArgs struct {
	Files []string `json:"files,omitempty"`
	Reset bool     `json:"reset,omitempty"`
}

// Kind returns the job kind identifier for staged ingestion.
func (BatchIngestArgs) Kind() string { return "batch_ingest" }

// InsertOpts returns default insert options for ingestion jobs.
func (BatchIngestArgs) InsertOpts() river.InsertOpts { return batchInsertOpts() }

// BatchIngestWorker ingests staged transfer files.
//
// A retry after a partial run is harmless: records admitted by the earlier
// attempt come back as DESTINATION_CONFLICT record errors.
type BatchIngestWorker struct {
	river.WorkerDefaults[BatchIngestArgs]
	staged *usecase.StagedIngestUseCase
}

// NewBatchIngestWorker creates a new BatchIngestWorker.
func NewBatchIngestWorker(staged *usecase.StagedIngestUseCase) *BatchIngestWorker {
	return &BatchIngestWorker{staged: staged}
}

// Work runs the ingestion. Record errors do not fail the job; a missing or
// malformed staged file cancels it.
func (w *BatchIngestWorker) Work(ctx context.Context, job *river.Job[BatchIngestArgs]) error {
	if w == nil || w.staged == nil {
		return fmt.Errorf("batch ingest worker is not initialized")
	}
	log := logger.With(zap.Int("attempt", attempt(job.JobRow)), zap.Strings("files", job.Args.Files))
	log.Info("Processing batch ingest job")

	rep, err := w.staged.Execute(ctx, job.Args.Files, job.Args.Reset)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeStagedFileNotFound, apperrors.CodeMissingHeader:
			log.Warn("batch ingest job cancelled", zap.Error(err))
			return river.JobCancel(err)
		}
		return fmt.Errorf("ingest staged files: %w", err)
	}

	log.Info("batch ingest job finished",
		zap.String("run_id", rep.RunID),
		zap.Int("records", rep.Records),
		zap.Int("errors", len(rep.Errors)),
	)
	return nil
}
