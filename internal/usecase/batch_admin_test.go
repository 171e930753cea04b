package usecase

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/lock"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/repository"
)

func TestSetControlPlates(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t", "C1\tA1\tS2\t")

	require.NoError(t, f.engine.Admin.SetControlPlates(f.ctx, []string{"C1"}))
	err := f.engine.Admin.SetControlPlates(f.ctx, []string{"P1", "missing"})
	require.Equal(t, apperrors.CodePlateNotFound, apperrors.CodeOf(err))

	f.view(func(tx repository.Tx) {
		c1, err := tx.PlateByKey(f.ctx, "C1")
		require.NoError(t, err)
		require.Equal(t, domain.PlateKindControl, c1.Kind)
		// All or nothing.
		p1, err := tx.PlateByKey(f.ctx, "P1")
		require.NoError(t, err)
		require.Equal(t, domain.PlateKindSource, p1.Kind)
	})
	require.Equal(t, 1, f.events.count(domain.EventPlatesControlled))

	// A control plate used as a source lands on the Control pod.
	f.ingest(transfers("run", "B1 C1 A1 D1 A1 1"))
	view, err := f.engine.Queries.BatchLayout(f.ctx, "B1")
	require.NoError(t, err)
	for _, p := range view.Pods {
		if p.PlateID == "C1" {
			require.Equal(t, 10, p.Position)
		}
	}
}

func TestDeletePlate(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t", "P9\tA1\tS9\t")
	f.ingest(transfers("run", "B1 P1 A1 D1 A1 1"))

	err := f.engine.Admin.DeletePlate(f.ctx, "P1")
	require.ErrorIs(t, err, apperrors.ErrConflict)
	require.Equal(t, apperrors.CodePlateInUse, apperrors.CodeOf(err))
	err = f.engine.Admin.DeletePlate(f.ctx, "D1")
	require.Equal(t, apperrors.CodePlateInUse, apperrors.CodeOf(err))

	require.NoError(t, f.engine.Admin.DeletePlate(f.ctx, "P9"))
	require.Equal(t, 1, f.events.count(domain.EventPlateDeleted))
	f.view(func(tx repository.Tx) {
		_, err := tx.PlateByKey(f.ctx, "P9")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestRemoveAllBatches(t *testing.T) {
	tests := []struct {
		name       string
		alsoPlates bool
		wantPlates int
	}{
		{name: "keep plates", alsoPlates: false, wantPlates: 0},
		{name: "also batch-created plates", alsoPlates: true, wantPlates: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.load("P1\tA1\tS1\t")
			f.ingest(transfers("run", "B1 P1 A1 D1 A1 1", "B2 P1 A1 D2 A1 1"))

			res, err := f.engine.Admin.RemoveAllBatches(f.ctx, tt.alsoPlates)
			require.NoError(t, err)
			require.Equal(t, RemoveResult{Batches: 2, Plates: tt.wantPlates}, res)

			batches, err := f.engine.ListBatches(f.ctx)
			require.NoError(t, err)
			require.Empty(t, batches)

			f.view(func(tx repository.Tx) {
				_, err := tx.PlateByKey(f.ctx, "P1")
				require.NoError(t, err)
				_, err = tx.PlateByKey(f.ctx, "D1")
				if tt.alsoPlates {
					require.ErrorIs(t, err, apperrors.ErrNotFound)
				} else {
					require.NoError(t, err)
				}
			})
			require.Equal(t, 2, f.events.count(domain.EventBatchRemoved))

			// The freed provider volume is claimable again.
			occ, err := f.engine.CurrentOccupant(f.ctx, "P1", "A1")
			require.NoError(t, err)
			require.Empty(t, occ.Destinations)
		})
	}
}

// beforeFirstLock runs hook once, ahead of the first lock acquisition.
type beforeFirstLock struct {
	lock.Locker
	once sync.Once
	hook func()
}

func (l *beforeFirstLock) Lock(ctx context.Context, key string) (lock.Unlock, error) {
	l.once.Do(l.hook)
	return l.Locker.Lock(ctx, key)
}

func TestRemoveAllBatches_KeepsBatchCreatedMeanwhile(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t")
	f.ingest(transfers("run1", "B1 P1 A1 D1 A1 1"))

	deps := f.deps
	deps.Locker = &beforeFirstLock{
		Locker: f.locker,
		hook:   func() { f.ingest(transfers("run2", "B9 P1 A1 D9 A1 1")) },
	}
	res, err := NewBatchAdminUseCase(deps).RemoveAllBatches(f.ctx, true)
	require.NoError(t, err)
	require.Equal(t, RemoveResult{Batches: 1, Plates: 1}, res)

	batches, err := f.engine.ListBatches(f.ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	require.Equal(t, "B9", batches[0].BatchID)

	f.view(func(tx repository.Tx) {
		_, err := tx.PlateByKey(f.ctx, "D1")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		_, err = tx.PlateByKey(f.ctx, "D9")
		require.NoError(t, err)
	})
	occ, err := f.engine.CurrentOccupant(f.ctx, "D9", "A1")
	require.NoError(t, err)
	require.Equal(t, domain.OccupantPending, occ.State)
	require.Equal(t, "P1: A1", occ.Provider)
}

func TestDeleteBatch_UnknownBatch(t *testing.T) {
	f := newFixture(t)
	err := f.engine.Admin.DeleteBatch(f.ctx, "nope")
	require.Equal(t, apperrors.CodeBatchNotFound, apperrors.CodeOf(err))
}
