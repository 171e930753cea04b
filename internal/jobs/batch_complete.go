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

// BatchCompleteArgs names the batch to finalize.
type BatchCompleteArgs struct {
	BatchID string `json:"batch_id"`
}

// Kind returns the job kind identifier for batch completion.
func (BatchCompleteArgs) Kind() string { return "batch_complete" }

// InsertOpts returns default insert options for completion jobs.
func (BatchCompleteArgs) InsertOpts() river.InsertOpts { return batchInsertOpts() }

// BatchCompleteWorker finalizes batches. Completion is idempotent, so
// retries are safe.
type BatchCompleteWorker struct {
	river.WorkerDefaults[BatchCompleteArgs]
	completion *usecase.CompleteBatchUseCase
}

// NewBatchCompleteWorker creates a new BatchCompleteWorker.
func NewBatchCompleteWorker(completion *usecase.CompleteBatchUseCase) *BatchCompleteWorker {
	return &BatchCompleteWorker{completion: completion}
}

// Work completes the batch. An unknown batch cancels the job; a busy batch
// is retried.
func (w *BatchCompleteWorker) Work(ctx context.Context, job *river.Job[BatchCompleteArgs]) error {
	if w == nil || w.completion == nil {
		return fmt.Errorf("batch complete worker is not initialized")
	}
	batchID := job.Args.BatchID
	logger.Info("Processing batch complete job",
		zap.String("batch_id", batchID),
		zap.Int("attempt", attempt(job.JobRow)),
	)

	res, err := w.completion.Execute(ctx, batchID)
	if err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeBatchNotFound {
			return river.JobCancel(err)
		}
		return fmt.Errorf("complete batch %s: %w", batchID, err)
	}
	if res.AlreadyComplete {
		logger.Info("batch already complete, skipping", zap.String("batch_id", batchID))
	}
	return nil
}
