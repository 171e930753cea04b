// Package app is the composition root. Bootstrap stays orchestration-only.
//
// Import Path: samasy.io/samasy/internal/app
package app

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"

	"samasy.io/samasy/internal/app/modules"
	"samasy.io/samasy/internal/config"
	"samasy.io/samasy/internal/jobs"
	"samasy.io/samasy/internal/usecase"
)

// Options tune Bootstrap.
type Options struct {
	// Worker registers River workers so Start consumes jobs. Otherwise the
	// River client, if any, only inserts.
	Worker bool
}

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Infra   *modules.Infrastructure
	Engine  *usecase.Engine
	Modules []modules.Module

	consumes bool
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config, opts Options) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	batch, err := modules.NewBatchModule(infra)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init batch module: %w", err)
	}
	allModules := []modules.Module{batch}

	var workers *river.Workers
	if opts.Worker {
		workers = river.NewWorkers()
		for _, mod := range allModules {
			if err := mod.RegisterWorkers(workers); err != nil {
				infra.Close()
				return nil, fmt.Errorf("register %s workers: %w", mod.Name(), err)
			}
		}
	}
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}

	return &Application{
		Config:   cfg,
		Infra:    infra,
		Engine:   batch.Engine(),
		Modules:  allModules,
		consumes: opts.Worker,
	}, nil
}

// Enqueuer returns the job enqueuer, or nil when no River client is
// configured (non-postgres storage).
func (a *Application) Enqueuer() *jobs.Enqueuer {
	if a.Infra == nil || a.Infra.DB == nil || a.Infra.DB.RiverClient == nil {
		return nil
	}
	return jobs.NewEnqueuer(a.Infra.DB.RiverClient)
}
