// Package service holds the engine's domain services: entity resolution,
// pod allocation, transfer admission and batch finalization.
//
// Services operate on a repository.Tx handed in by the caller; they never
// open transactions themselves, so the caller decides the atomicity scope.
//
// Import Path: samasy.io/samasy/internal/service
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/repository"
)

// NewID returns a time-ordered UUIDv7 string.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Identity supplies row IDs and timestamps to the services.
type Identity struct {
	NewID func() string
	Now   func() time.Time
}

// DefaultIdentity uses UUIDv7 and the UTC wall clock.
func DefaultIdentity() Identity {
	return Identity{NewID: NewID, Now: func() time.Time { return time.Now().UTC() }}
}

// WithDefaults fills unset fields from DefaultIdentity.
func (i Identity) WithDefaults() Identity {
	def := DefaultIdentity()
	if i.NewID == nil {
		i.NewID = def.NewID
	}
	if i.Now == nil {
		i.Now = def.Now
	}
	return i
}

// Resolver gets or creates plates, wells and batches.
type Resolver struct {
	id Identity
}

// NewResolver creates a Resolver.
func NewResolver(id Identity) *Resolver {
	return &Resolver{id: id.WithDefaults()}
}

// GetOrCreatePlate returns the plate keyed plateID, creating it with kind
// when absent. An existing plate is returned untouched.
func (r *Resolver) GetOrCreatePlate(ctx context.Context, tx repository.Tx, plateID string, kind domain.PlateKind, batchCreated bool) (domain.Plate, error) {
	p, err := tx.PlateByKey(ctx, plateID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return domain.Plate{}, err
	}
	if !kind.Valid() {
		return domain.Plate{}, apperrors.Invalid(apperrors.CodeInvalidRecord, fmt.Sprintf("invalid plate kind %q", kind))
	}

	p = domain.Plate{
		ID:           r.id.NewID(),
		PlateID:      plateID,
		Kind:         kind,
		BatchCreated: batchCreated,
		CreatedAt:    r.id.Now(),
	}
	if err := tx.InsertPlate(ctx, p); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			return tx.PlateByKey(ctx, plateID)
		}
		return domain.Plate{}, err
	}
	return p, nil
}

// GetOrCreateWell returns the well at pos, creating an empty one when
// absent. Losing an insert race re-reads the winner.
func (r *Resolver) GetOrCreateWell(ctx context.Context, tx repository.Tx, plate domain.Plate, pos domain.Position, isOriginal bool) (domain.Well, error) {
	w, err := tx.WellAt(ctx, plate.ID, pos)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return domain.Well{}, err
	}
	w, err = r.CreateWell(ctx, tx, plate, pos, isOriginal, domain.WellStatusEmpty)
	if errors.Is(err, apperrors.ErrAlreadyExists) {
		return tx.WellAt(ctx, plate.ID, pos)
	}
	return w, err
}

// CreateWell strictly creates a well; an occupied position fails with
// DUPLICATE_WELL.
func (r *Resolver) CreateWell(ctx context.Context, tx repository.Tx, plate domain.Plate, pos domain.Position, isOriginal bool, status domain.WellStatus) (domain.Well, error) {
	if !pos.Valid() {
		return domain.Well{}, apperrors.ErrInvalidWellLabelf(pos.Label())
	}
	if status == "" {
		status = domain.WellStatusEmpty
	}
	w := domain.Well{
		ID:         r.id.NewID(),
		PlateRef:   plate.ID,
		PlateID:    plate.PlateID,
		Position:   pos,
		IsOriginal: isOriginal,
		Status:     status,
	}
	if err := tx.InsertWell(ctx, w); err != nil {
		return domain.Well{}, err
	}
	return w, nil
}

// LookupWell resolves "plateID" + "A1" to an existing well.
func (r *Resolver) LookupWell(ctx context.Context, tx repository.Tx, plateID, label string) (domain.Plate, domain.Well, error) {
	pos, err := domain.SplitWellLabel(label)
	if err != nil {
		return domain.Plate{}, domain.Well{}, err
	}
	p, err := tx.PlateByKey(ctx, plateID)
	if err != nil {
		return domain.Plate{}, domain.Well{}, err
	}
	w, err := tx.WellAt(ctx, p.ID, pos)
	if err != nil {
		return p, domain.Well{}, err
	}
	return p, w, nil
}

// ResolveSource is LookupWell for the provider side of a transfer; unknown
// plates and wells report UNKNOWN_SOURCE_PLATE / UNKNOWN_SOURCE_WELL.
func (r *Resolver) ResolveSource(ctx context.Context, tx repository.Tx, plateID, label string) (domain.Plate, domain.Well, error) {
	p, err := tx.PlateByKey(ctx, plateID)
	if errors.Is(err, apperrors.ErrNotFound) {
		return domain.Plate{}, domain.Well{}, apperrors.ErrUnknownSourcePlatef(plateID)
	}
	if err != nil {
		return domain.Plate{}, domain.Well{}, err
	}
	pos, err := domain.SplitWellLabel(label)
	if err != nil {
		return p, domain.Well{}, err
	}
	w, err := tx.WellAt(ctx, p.ID, pos)
	if errors.Is(err, apperrors.ErrNotFound) {
		return p, domain.Well{}, apperrors.ErrUnknownSourceWellf(plateID, pos.Label())
	}
	if err != nil {
		return p, domain.Well{}, err
	}
	return p, w, nil
}

// GetOrCreateBatch returns the batch keyed batchID, creating it with its
// default pod layout when absent. created reports whether this call made it.
func (r *Resolver) GetOrCreateBatch(ctx context.Context, tx repository.Tx, batchID string) (b domain.Batch, created bool, err error) {
	b, err = tx.BatchByKey(ctx, batchID)
	if err == nil {
		return b, false, nil
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		return domain.Batch{}, false, err
	}
	b = domain.NewBatch(r.id.NewID(), batchID, r.id.Now(), r.id.NewID)
	if err := tx.InsertBatch(ctx, b); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			b, err = tx.BatchByKey(ctx, batchID)
			return b, false, err
		}
		return domain.Batch{}, false, err
	}
	return b, true, nil
}
