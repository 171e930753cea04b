// Package repository defines the entity arena the engine works against.
//
// Entities are indexed by row ID and by business key. Every write happens
// inside Store.RunInTx: the callback's effects are applied all-or-nothing.
// Implementations live in the memory, sqlite and postgres subpackages.
//
// Import Path: samasy.io/samasy/internal/repository
package repository

import (
	"context"

	"github.com/shopspring/decimal"

	"samasy.io/samasy/internal/domain"
)

// Store opens transactions over the entity arena.
type Store interface {
	// RunInTx runs fn in a read-write transaction. A non-nil error from fn
	// rolls back every change fn made.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	// Close releases store resources.
	Close() error
}

// Tx is the set of operations available inside a transaction. Lookups return
// apperrors.ErrNotFound-kind errors when nothing matches. Returned entities
// are copies; changes become visible only through the Update methods.
type Tx interface {
	PlateByKey(ctx context.Context, plateID string) (domain.Plate, error)
	PlateByID(ctx context.Context, id string) (domain.Plate, error)
	// InsertPlate fails with an AlreadyExists-kind error if the key is taken.
	InsertPlate(ctx context.Context, p domain.Plate) error
	UpdatePlate(ctx context.Context, p domain.Plate) error
	ListPlates(ctx context.Context) ([]domain.Plate, error)
	// DeletePlate removes the plate with its wells and their samples.
	DeletePlate(ctx context.Context, id string) error

	WellByID(ctx context.Context, id string) (domain.Well, error)
	WellAt(ctx context.Context, plateRef string, pos domain.Position) (domain.Well, error)
	WellsOnPlate(ctx context.Context, plateRef string) ([]domain.Well, error)
	// InsertWell fails with DUPLICATE_WELL if the position is occupied.
	InsertWell(ctx context.Context, w domain.Well) error
	UpdateWell(ctx context.Context, w domain.Well) error
	// LockWell serializes admission decisions on a provider well.
	LockWell(ctx context.Context, id string) error

	SampleByID(ctx context.Context, id string) (domain.Sample, error)
	InsertSample(ctx context.Context, s domain.Sample) error
	UpdateSample(ctx context.Context, s domain.Sample) error

	// BatchByKey loads the batch with its pod pool.
	BatchByKey(ctx context.Context, batchID string) (domain.Batch, error)
	BatchByID(ctx context.Context, id string) (domain.Batch, error)
	// InsertBatch stores the batch and its pods; AlreadyExists if the key is taken.
	InsertBatch(ctx context.Context, b domain.Batch) error
	// UpdateBatch persists the batch row (not its pods).
	UpdateBatch(ctx context.Context, b domain.Batch) error
	UpdatePod(ctx context.Context, p domain.Pod) error
	// ListBatches returns batches ordered by creation time.
	ListBatches(ctx context.Context) ([]domain.Batch, error)
	// DeleteBatch removes the batch, its pods and its mappings.
	DeleteBatch(ctx context.Context, id string) error

	// InsertMapping fails with DESTINATION_CONFLICT if the destination
	// already has a provider.
	InsertMapping(ctx context.Context, m domain.Mapping) error
	UpdateMapping(ctx context.Context, m domain.Mapping) error
	MappingByDestination(ctx context.Context, wellRef string) (domain.Mapping, error)
	MappingsByProvider(ctx context.Context, wellRef string) ([]domain.Mapping, error)
	MappingsByBatch(ctx context.Context, batchRef string) ([]domain.Mapping, error)
	// PendingVolume sums the volume of the provider's incomplete mappings.
	// Unknown volumes count as zero.
	PendingVolume(ctx context.Context, providerRef string) (decimal.Decimal, error)
}
