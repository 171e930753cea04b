// Package usecase provides the engine's application use cases.
//
// Use cases are reusable across the CLI, River workers and tests. They own
// transaction boundaries and batch locking; domain decisions live in
// internal/service.
//
// Import Path: samasy.io/samasy/internal/usecase
package usecase

import (
	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/lock"
	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/service"
)

// Deps carries the collaborators shared by every use case.
type Deps struct {
	Store    repository.Store
	Locker   lock.Locker
	Identity service.Identity
	// Events may be nil; events are then dropped.
	Events *domain.EventDispatcher
}

func (d Deps) withDefaults() Deps {
	if d.Locker == nil {
		d.Locker = lock.NewLocalLocker()
	}
	d.Identity = d.Identity.WithDefaults()
	return d
}
