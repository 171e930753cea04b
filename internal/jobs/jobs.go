// Package jobs defines River Queue job types for async batch processing.
//
// Jobs carry only names (staged file names, batch IDs); the worker reads
// everything else from the stores when it runs.
//
// Import Path: samasy.io/samasy/internal/jobs
package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"go.uber.org/zap"

	"samasy.io/samasy/internal/infrastructure"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/usecase"
)

// Register adds every batch worker to workers. engine.Staged may be nil, in
// which case staged ingestion jobs are not served.
func Register(workers *river.Workers, engine *usecase.Engine) error {
	if engine.Staged != nil {
		if err := river.AddWorkerSafely(workers, NewBatchIngestWorker(engine.Staged)); err != nil {
			return fmt.Errorf("register batch ingest worker: %w", err)
		}
	}
	if err := river.AddWorkerSafely(workers, NewBatchCompleteWorker(engine.Completion)); err != nil {
		return fmt.Errorf("register batch complete worker: %w", err)
	}
	return nil
}

// Inserter is the part of a River client that enqueues jobs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// Enqueuer submits batch jobs.
type Enqueuer struct {
	client Inserter
}

// NewEnqueuer wraps a River client.
func NewEnqueuer(client Inserter) *Enqueuer {
	return &Enqueuer{client: client}
}

// EnqueueIngest schedules ingestion of staged files. Duplicate requests for
// the same files collapse into one job while it is pending.
func (e *Enqueuer) EnqueueIngest(ctx context.Context, files []string, reset bool) (int64, error) {
	return e.insert(ctx, BatchIngestArgs{Files: files, Reset: reset})
}

// EnqueueComplete schedules completion of a batch.
func (e *Enqueuer) EnqueueComplete(ctx context.Context, batchID string) (int64, error) {
	return e.insert(ctx, BatchCompleteArgs{BatchID: batchID})
}

func (e *Enqueuer) insert(ctx context.Context, args river.JobArgs) (int64, error) {
	res, err := e.client.Insert(ctx, args, nil)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	logger.Info("job enqueued",
		zap.String("kind", args.Kind()),
		zap.Int64("job_id", res.Job.ID),
		zap.Bool("duplicate", res.UniqueSkippedAsDuplicate),
	)
	return res.Job.ID, nil
}

func batchInsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       infrastructure.QueueBatchOperations,
		MaxAttempts: 3,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByQueue: true,
		},
	}
}

func attempt(job *rivertype.JobRow) int {
	if job == nil {
		return 0
	}
	return job.Attempt
}
