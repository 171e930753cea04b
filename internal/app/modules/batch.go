package modules

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"samasy.io/samasy/internal/jobs"
	"samasy.io/samasy/internal/usecase"
)

// BatchModule wires the batch engine and its workers.
type BatchModule struct {
	infra  *Infrastructure
	engine *usecase.Engine
}

// NewBatchModule builds the engine on top of infra.
func NewBatchModule(infra *Infrastructure) (*BatchModule, error) {
	decoder, err := infra.Config.Load.Decoder()
	if err != nil {
		return nil, fmt.Errorf("attribute decoder: %w", err)
	}
	engine := usecase.NewEngine(usecase.Deps{
		Store:  infra.Store,
		Locker: infra.Locker,
		Events: infra.Events,
	}, usecase.EngineOptions{
		Decoder: decoder,
		Pools:   infra.Pools,
		Staging: infra.Staging,
	})
	return &BatchModule{infra: infra, engine: engine}, nil
}

func (m *BatchModule) Name() string { return "batch" }

// Engine returns the module's engine.
func (m *BatchModule) Engine() *usecase.Engine { return m.engine }

func (m *BatchModule) RegisterWorkers(workers *river.Workers) error {
	if workers == nil || m == nil {
		return nil
	}
	return jobs.Register(workers, m.engine)
}

// Shutdown drops finished runs from the registry.
func (m *BatchModule) Shutdown(context.Context) error {
	m.engine.Runs.Forget()
	return nil
}
