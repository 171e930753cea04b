package service

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/repository"
)

// Admission decides whether a proposed transfer becomes a Mapping.
type Admission struct {
	id Identity
}

// NewAdmission creates an Admission controller.
func NewAdmission(id Identity) *Admission {
	return &Admission{id: id.WithDefaults()}
}

// Admit checks, in order, destination conflict, provider usability and
// provider volume, then inserts the pending Mapping.
//
// The provider well is locked before its claimed volume is read, so two
// concurrent admissions drawing from one well cannot both pass the check.
func (a *Admission) Admit(ctx context.Context, tx repository.Tx, batch domain.Batch, provider, destination domain.Well, volume decimal.NullDecimal) (domain.Mapping, error) {
	existing, err := tx.MappingByDestination(ctx, destination.ID)
	switch {
	case err == nil:
		return domain.Mapping{}, apperrors.ErrDestinationConflictf(destination.Label(), a.wellLabel(ctx, tx, existing.ProviderRef))
	case !errors.Is(err, apperrors.ErrNotFound):
		return domain.Mapping{}, err
	}

	if err := tx.LockWell(ctx, provider.ID); err != nil {
		return domain.Mapping{}, err
	}
	// Re-read under the lock.
	provider, err = tx.WellByID(ctx, provider.ID)
	if err != nil {
		return domain.Mapping{}, err
	}
	if !provider.HasSample() {
		return domain.Mapping{}, apperrors.ErrUnusableSourcef(provider.Label(), string(domain.WellStatusEmpty))
	}
	sample, err := tx.SampleByID(ctx, provider.SampleRef)
	if err != nil {
		return domain.Mapping{}, err
	}
	if !sample.Usable() {
		return domain.Mapping{}, apperrors.ErrUnusableSourcef(provider.Label(), string(sample.Status))
	}

	if sample.Volume.Valid {
		claimed, err := tx.PendingVolume(ctx, provider.ID)
		if err != nil {
			return domain.Mapping{}, err
		}
		requested := decimal.Zero
		if volume.Valid {
			requested = volume.Decimal
		}
		if sample.Volume.Decimal.Sub(claimed.Add(requested)).IsNegative() {
			return domain.Mapping{}, apperrors.ErrInsufficientVolumef(
				provider.Label(),
				sample.Volume.Decimal.String(),
				claimed.String(),
				domain.FormatVolume(volume),
			)
		}
	}

	m := domain.Mapping{
		ID:             a.id.NewID(),
		ProviderRef:    provider.ID,
		DestinationRef: destination.ID,
		BatchRef:       batch.ID,
		Volume:         volume,
		CreatedAt:      a.id.Now(),
	}
	if err := tx.InsertMapping(ctx, m); err != nil {
		return domain.Mapping{}, err
	}
	return m, nil
}

func (a *Admission) wellLabel(ctx context.Context, tx repository.Tx, id string) string {
	if w, err := tx.WellByID(ctx, id); err == nil {
		return w.Label()
	}
	return id
}
