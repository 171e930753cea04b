package usecase

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/lock"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/repository"
)

// RemoveResult counts what RemoveAllBatches deleted.
type RemoveResult struct {
	Batches int `json:"batches"`
	Plates  int `json:"plates"`
}

// BatchAdminUseCase holds the administrative operations: control plates
// and deletions.
type BatchAdminUseCase struct {
	deps Deps
}

// NewBatchAdminUseCase creates a new BatchAdminUseCase.
func NewBatchAdminUseCase(deps Deps) *BatchAdminUseCase {
	return &BatchAdminUseCase{deps: deps.withDefaults()}
}

// SetControlPlates marks the named plates as Control plates. Either all of
// them change or none does.
func (uc *BatchAdminUseCase) SetControlPlates(ctx context.Context, plateIDs []string) error {
	err := uc.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		for _, id := range plateIDs {
			p, err := tx.PlateByKey(ctx, id)
			if err != nil {
				return err
			}
			if p.Kind == domain.PlateKindControl {
				continue
			}
			p.Kind = domain.PlateKindControl
			if err := tx.UpdatePlate(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("control plates set", zap.Strings("plate_ids", plateIDs))
	uc.deps.Events.Emit(ctx, domain.EventPlatesControlled, domain.AggregatePlate, strings.Join(plateIDs, ","),
		domain.PlatesControlledPayload{PlateIDs: plateIDs})
	return nil
}

// DeleteBatch removes a batch with its pods and mappings. Wells and samples
// stay. The batch lock is held so no ingestion or completion interleaves.
func (uc *BatchAdminUseCase) DeleteBatch(ctx context.Context, batchID string) error {
	unlock, err := uc.deps.Locker.Lock(ctx, batchID)
	if err != nil {
		return err
	}
	defer unlock()

	err = uc.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		b, err := tx.BatchByKey(ctx, batchID)
		if err != nil {
			return err
		}
		return tx.DeleteBatch(ctx, b.ID)
	})
	if err != nil {
		return err
	}
	logger.Info("batch removed", zap.String("batch_id", batchID))
	uc.deps.Events.Emit(ctx, domain.EventBatchRemoved, domain.AggregateBatch, batchID, domain.BatchRemovedPayload{BatchID: batchID})
	return nil
}

// DeletePlate removes a plate with its wells and their samples. A plate
// whose wells take part in any mapping is in use and is kept.
func (uc *BatchAdminUseCase) DeletePlate(ctx context.Context, plateID string) error {
	var wells int
	err := uc.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		p, err := tx.PlateByKey(ctx, plateID)
		if err != nil {
			return err
		}
		if err := ensurePlateUnused(ctx, tx, p); err != nil {
			return err
		}
		ws, err := tx.WellsOnPlate(ctx, p.ID)
		if err != nil {
			return err
		}
		wells = len(ws)
		return tx.DeletePlate(ctx, p.ID)
	})
	if err != nil {
		return err
	}
	logger.Info("plate deleted", zap.String("plate_id", plateID), zap.Int("wells", wells))
	uc.deps.Events.Emit(ctx, domain.EventPlateDeleted, domain.AggregatePlate, plateID,
		domain.PlateDeletedPayload{PlateID: plateID, Wells: wells})
	return nil
}

func ensurePlateUnused(ctx context.Context, tx repository.Tx, p domain.Plate) error {
	wells, err := tx.WellsOnPlate(ctx, p.ID)
	if err != nil {
		return err
	}
	for _, w := range wells {
		out, err := tx.MappingsByProvider(ctx, w.ID)
		if err != nil {
			return err
		}
		_, inErr := tx.MappingByDestination(ctx, w.ID)
		if len(out) > 0 || inErr == nil {
			return apperrors.Conflict(apperrors.CodePlateInUse,
				fmt.Sprintf("plate %s is referenced by mappings (well %s)", p.PlateID, w.Position.Label())).
				WithParams(map[string]interface{}{"plate_id": p.PlateID, "well": w.Position.Label()})
		}
	}
	return nil
}

// RemoveAllBatches deletes every batch, pod and mapping. With alsoPlates it
// also deletes the plates ingestion created, with their wells and samples.
// Only the batches listed up front are removed, each under its batch lock; a
// batch created meanwhile survives together with the plates it references.
func (uc *BatchAdminUseCase) RemoveAllBatches(ctx context.Context, alsoPlates bool) (RemoveResult, error) {
	var keys []string
	err := uc.deps.Store.View(ctx, func(tx repository.Tx) error {
		batches, err := tx.ListBatches(ctx)
		for _, b := range batches {
			keys = append(keys, b.BatchID)
		}
		return err
	})
	if err != nil {
		return RemoveResult{}, err
	}
	unlock, err := lock.LockAll(ctx, uc.deps.Locker, keys)
	if err != nil {
		return RemoveResult{}, err
	}
	defer unlock()

	var res RemoveResult
	var removed []string
	err = uc.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		res, removed = RemoveResult{}, removed[:0]
		for _, key := range keys {
			b, err := tx.BatchByKey(ctx, key)
			if apperrors.CodeOf(err) == apperrors.CodeBatchNotFound {
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.DeleteBatch(ctx, b.ID); err != nil {
				return err
			}
			removed = append(removed, b.BatchID)
			res.Batches++
		}
		if !alsoPlates {
			return nil
		}
		plates, err := tx.ListPlates(ctx)
		if err != nil {
			return err
		}
		for _, p := range plates {
			if !p.BatchCreated {
				continue
			}
			err := ensurePlateUnused(ctx, tx, p)
			if apperrors.CodeOf(err) == apperrors.CodePlateInUse {
				continue
			}
			if err != nil {
				return err
			}
			if err := tx.DeletePlate(ctx, p.ID); err != nil {
				return err
			}
			res.Plates++
		}
		return nil
	})
	if err != nil {
		return RemoveResult{}, err
	}

	logger.Info("all batches removed",
		zap.Int("batches", res.Batches),
		zap.Int("plates", res.Plates),
	)
	for _, id := range removed {
		uc.deps.Events.Emit(ctx, domain.EventBatchRemoved, domain.AggregateBatch, id, domain.BatchRemovedPayload{BatchID: id})
	}
	return res, nil
}
