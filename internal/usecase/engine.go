package usecase

import (
	"context"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/pkg/worker"
	"samasy.io/samasy/internal/staging"
)

// Engine bundles the use cases behind the operations callers need.
type Engine struct {
	Ingestion  *IngestBatchUseCase
	Completion *CompleteBatchUseCase
	Loading    *LoadSamplesUseCase
	Queries    *BatchQueryUseCase
	Admin      *BatchAdminUseCase
	// Staged is nil when no staging store is configured.
	Staged *StagedIngestUseCase
	Runs   *RunRegistry
}

// EngineOptions are the optional collaborators of NewEngine.
type EngineOptions struct {
	Decoder domain.Decoder
	Pools   *worker.Pools
	Staging staging.Store
}

// NewEngine wires every use case around deps.
func NewEngine(deps Deps, opts EngineOptions) *Engine {
	deps = deps.withDefaults()
	runs := NewRunRegistry()
	ingest := NewIngestBatchUseCase(deps).WithRunRegistry(runs).WithPools(opts.Pools)
	e := &Engine{
		Ingestion:  ingest,
		Completion: NewCompleteBatchUseCase(deps).WithPools(opts.Pools),
		Loading:    NewLoadSamplesUseCase(deps, opts.Decoder).WithRunRegistry(runs),
		Queries:    NewBatchQueryUseCase(deps),
		Admin:      NewBatchAdminUseCase(deps),
		Runs:       runs,
	}
	if opts.Staging != nil {
		e.Staged = NewStagedIngestUseCase(opts.Staging, ingest)
	}
	return e
}

// Ingest runs req to completion.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest) (Report, error) {
	return e.Ingestion.Execute(ctx, req)
}

// StartIngest runs req in the background and returns its handle.
func (e *Engine) StartIngest(ctx context.Context, req IngestRequest) (*Run, error) {
	return e.Ingestion.Start(ctx, req)
}

// Complete finalizes a batch.
func (e *Engine) Complete(ctx context.Context, batchID string) (CompleteResult, error) {
	return e.Completion.Execute(ctx, batchID)
}

// SamplesOf returns the samples of a batch.
func (e *Engine) SamplesOf(ctx context.Context, batchID string) ([]domain.Sample, error) {
	return e.Queries.SamplesOf(ctx, batchID)
}

// CurrentOccupant returns the occupant view of a well.
func (e *Engine) CurrentOccupant(ctx context.Context, plateID, label string) (domain.Occupant, error) {
	return e.Queries.CurrentOccupant(ctx, plateID, label)
}

// ListBatches returns every batch in creation order.
func (e *Engine) ListBatches(ctx context.Context) ([]domain.Batch, error) {
	return e.Queries.ListBatches(ctx)
}

// BatchesUpTo returns the batches created up to and including name.
func (e *Engine) BatchesUpTo(ctx context.Context, name string) ([]domain.Batch, error) {
	return e.Queries.BatchesUpTo(ctx, name)
}
