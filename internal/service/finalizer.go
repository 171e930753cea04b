package service

import (
	"context"
	"fmt"
	"sort"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/repository"
)

// Finalizer materializes a batch's admitted mappings.
type Finalizer struct {
	id Identity
}

// NewFinalizer creates a Finalizer.
func NewFinalizer(id Identity) *Finalizer {
	return &Finalizer{id: id.WithDefaults()}
}

// Complete moves every mapping of the batch from pending to complete:
// each provider sample is cloned into its destination well and volume is
// moved from provider to clone. It returns the number of mappings processed.
//
// The caller owns the transaction; any error must roll it back so no
// partial state survives. A completed batch reports ALREADY_COMPLETE.
func (f *Finalizer) Complete(ctx context.Context, tx repository.Tx, batchID string) (int, error) {
	batch, err := tx.BatchByKey(ctx, batchID)
	if err != nil {
		return 0, err
	}
	if batch.IsComplete {
		return 0, apperrors.ErrAlreadyCompletef(batchID)
	}

	mappings, err := tx.MappingsByBatch(ctx, batch.ID)
	if err != nil {
		return 0, err
	}
	if err := lockProviders(ctx, tx, mappings); err != nil {
		return 0, err
	}
	for _, m := range mappings {
		if err := f.materialize(ctx, tx, m); err != nil {
			return 0, fmt.Errorf("complete mapping %s: %w", m.ID, err)
		}
	}

	batch.IsComplete = true
	if err := tx.UpdateBatch(ctx, batch); err != nil {
		return 0, err
	}
	return len(mappings), nil
}

// lockProviders row-locks every provider well the mappings draw from, in
// ID order, so completions of batches sharing a provider debit its volume
// one after the other.
func lockProviders(ctx context.Context, tx repository.Tx, mappings []domain.Mapping) error {
	ids := make([]string, 0, len(mappings))
	seen := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		if !seen[m.ProviderRef] {
			seen[m.ProviderRef] = true
			ids = append(ids, m.ProviderRef)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		if err := tx.LockWell(ctx, id); err != nil {
			return fmt.Errorf("lock provider %s: %w", id, err)
		}
	}
	return nil
}

func (f *Finalizer) materialize(ctx context.Context, tx repository.Tx, m domain.Mapping) error {
	provider, err := tx.WellByID(ctx, m.ProviderRef)
	if err != nil {
		return err
	}
	if !provider.HasSample() {
		return apperrors.NotFound(apperrors.CodeSampleNotFound,
			fmt.Sprintf("provider %s has no sample", provider.Label()))
	}
	src, err := tx.SampleByID(ctx, provider.SampleRef)
	if err != nil {
		return err
	}
	dest, err := tx.WellByID(ctx, m.DestinationRef)
	if err != nil {
		return err
	}

	clone := src.Clone(f.id.NewID(), f.id.Now())
	if src.Volume.Valid && m.Volume.Valid {
		src.Volume.Decimal = src.Volume.Decimal.Sub(m.Volume.Decimal)
		clone.Volume = m.Volume
		if err := tx.UpdateSample(ctx, src); err != nil {
			return err
		}
	}
	if err := tx.InsertSample(ctx, clone); err != nil {
		return err
	}

	dest.SampleRef = clone.ID
	dest.Status = domain.WellStatusUsed
	if err := tx.UpdateWell(ctx, dest); err != nil {
		return err
	}

	m.IsComplete = true
	return tx.UpdateMapping(ctx, m)
}
