package usecase

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/pkg/worker"
	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/service"
)

// CompleteResult is the outcome of completing a batch.
type CompleteResult struct {
	BatchID string `json:"batch_id"`
	// AlreadyComplete is set when the batch had been completed earlier;
	// nothing changed.
	AlreadyComplete bool `json:"already_complete"`
	Mappings        int  `json:"mappings"`
}

// CompleteBatchUseCase finalizes batches.
type CompleteBatchUseCase struct {
	deps      Deps
	finalizer *service.Finalizer
	pools     *worker.Pools
}

// NewCompleteBatchUseCase creates a new CompleteBatchUseCase.
func NewCompleteBatchUseCase(deps Deps) *CompleteBatchUseCase {
	deps = deps.withDefaults()
	return &CompleteBatchUseCase{
		deps:      deps,
		finalizer: service.NewFinalizer(deps.Identity),
	}
}

// WithPools sets the worker pools CompleteAll fans out on (optional
// dependency; without pools batches complete one after the other).
func (uc *CompleteBatchUseCase) WithPools(pools *worker.Pools) *CompleteBatchUseCase {
	uc.pools = pools
	return uc
}

// Execute completes the batch in one transaction while holding its lock.
// Completing a completed batch is a no-op reported through AlreadyComplete.
func (uc *CompleteBatchUseCase) Execute(ctx context.Context, batchID string) (CompleteResult, error) {
	unlock, err := uc.deps.Locker.Lock(ctx, batchID)
	if err != nil {
		return CompleteResult{}, err
	}
	defer unlock()
	return uc.completeLocked(ctx, batchID)
}

func (uc *CompleteBatchUseCase) completeLocked(ctx context.Context, batchID string) (CompleteResult, error) {
	res := CompleteResult{BatchID: batchID}
	err := uc.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		n, err := uc.finalizer.Complete(ctx, tx, batchID)
		res.Mappings = n
		return err
	})
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.CodeAlreadyComplete {
			logger.Debug("batch already complete", zap.String("batch_id", batchID))
			return CompleteResult{BatchID: batchID, AlreadyComplete: true}, nil
		}
		logger.Error("batch completion failed",
			zap.String("batch_id", batchID),
			zap.String("code", apperrors.CodeOf(err)),
			zap.Error(err),
		)
		return CompleteResult{}, err
	}

	logger.Info("batch completed",
		zap.String("batch_id", batchID),
		zap.Int("mappings", res.Mappings),
	)
	uc.deps.Events.Emit(ctx, domain.EventBatchCompleted, domain.AggregateBatch, batchID, domain.BatchCompletedPayload{
		BatchID:  batchID,
		Mappings: res.Mappings,
	})
	return res, nil
}

// CompleteAll completes every open batch. With pools each batch completes
// as its own task on the general pool; batch and provider locks keep them
// apart. Results are in batch creation order. On failure the first error in
// creation order is returned along with the batches that did complete.
func (uc *CompleteBatchUseCase) CompleteAll(ctx context.Context) ([]CompleteResult, error) {
	var open []string
	err := uc.deps.Store.View(ctx, func(tx repository.Tx) error {
		batches, err := tx.ListBatches(ctx)
		if err != nil {
			return err
		}
		for _, b := range batches {
			if !b.IsComplete {
				open = append(open, b.BatchID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	results := make([]CompleteResult, len(open))
	errs := make([]error, len(open))
	if uc.pools == nil {
		for i, id := range open {
			results[i], errs[i] = uc.Execute(ctx, id)
		}
	} else {
		var wg sync.WaitGroup
		for i, id := range open {
			wg.Add(1)
			// Every task must run to release wg; cancellation is checked inside.
			err := uc.pools.General.Submit(context.WithoutCancel(ctx), func(context.Context) {
				defer wg.Done()
				if err := ctx.Err(); err != nil {
					errs[i] = err
					return
				}
				results[i], errs[i] = uc.Execute(ctx, id)
			})
			if err != nil {
				wg.Done()
				errs[i] = fmt.Errorf("submit completion of %s: %w", id, err)
			}
		}
		wg.Wait()
	}

	out := make([]CompleteResult, 0, len(open))
	var firstErr error
	for i := range open {
		if err := errs[i]; err != nil {
			// A batch removed since listing is skipped.
			if apperrors.CodeOf(err) == apperrors.CodeBatchNotFound {
				continue
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		out = append(out, results[i])
	}
	if firstErr != nil {
		logger.Warn("complete all finished with failures",
			zap.Int("completed", len(out)),
			zap.Int("open", len(open)),
			zap.Error(firstErr),
		)
	}
	return out, firstErr
}
