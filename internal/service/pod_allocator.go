package service

import (
	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
)

// Assignment is the outcome of EnsurePodFor.
type Assignment struct {
	// Pod is the pod now holding the plate, as it must be persisted.
	Pod   domain.Pod
	Index int
	// Reused is set when the plate already held the pod; nothing changed.
	Reused bool
	// Retyped is set when a free pod of another kind was converted.
	Retyped      bool
	PreviousKind domain.PlateKind
}

// Changed reports whether the pod row needs to be written back.
func (a Assignment) Changed() bool {
	return !a.Reused
}

// EnsurePodFor gives plate a pod in batch's pool:
//
//  1. the pod the plate already holds;
//  2. else the lowest free pod of the plate's kind;
//  3. else the lowest free pod of any kind, retyped to the plate's kind;
//  4. else PODS_EXHAUSTED, leaving the pool unchanged.
//
// The pool is updated in place; the caller persists Assignment.Pod.
func EnsurePodFor(batch *domain.Batch, plate domain.Plate) (Assignment, error) {
	pool := &batch.Pods
	if idx, ok := pool.Holding(plate.ID); ok {
		return Assignment{Pod: pool.Pods[idx], Index: idx, Reused: true}, nil
	}

	if idx, ok := pool.FirstFree(plate.Kind); ok {
		pool.Pods[idx].PlateRef = plate.ID
		return Assignment{Pod: pool.Pods[idx], Index: idx}, nil
	}

	idx, ok := pool.FirstFreeAny()
	if !ok {
		return Assignment{}, apperrors.ErrPodsExhaustedf(plate.PlateID, batch.BatchID)
	}
	prev := pool.Pods[idx].Kind
	pool.Pods[idx].Kind = plate.Kind
	pool.Pods[idx].PlateRef = plate.ID
	return Assignment{Pod: pool.Pods[idx], Index: idx, Retyped: true, PreviousKind: prev}, nil
}
