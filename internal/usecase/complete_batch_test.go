package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/pkg/worker"
	"samasy.io/samasy/internal/repository"
)

// Completing a batch with one Mapping of 10 from a provider holding 50.
func TestComplete_MaterializesMapping(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t50")
	f.ingest(transfers("run", "B1 P1 A1 P2 A1 10.0"))

	res, err := f.engine.Complete(f.ctx, "B1")
	require.NoError(t, err)
	require.Equal(t, CompleteResult{BatchID: "B1", Mappings: 1}, res)

	provider := f.sampleAt("P1", "A1")
	require.Equal(t, "40", volumeOf(provider))

	clone := f.sampleAt("P2", "A1")
	require.NotEqual(t, provider.ID, clone.ID)
	require.Equal(t, "S1", clone.SampleID)
	require.Equal(t, "10", volumeOf(clone))
	require.Equal(t, domain.SampleStatusGood, clone.Status)

	f.view(func(tx repository.Tx) {
		p2, err := tx.PlateByKey(f.ctx, "P2")
		require.NoError(t, err)
		w, err := tx.WellAt(f.ctx, p2.ID, domain.Position{Row: "A", Col: 1})
		require.NoError(t, err)
		require.Equal(t, domain.WellStatusUsed, w.Status)

		b, err := tx.BatchByKey(f.ctx, "B1")
		require.NoError(t, err)
		require.True(t, b.IsComplete)
	})
	require.Equal(t, 1, f.events.count(domain.EventBatchCompleted))
}

func TestComplete_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t50")
	f.ingest(transfers("run", "B1 P1 A1 P2 A1 10"))

	_, err := f.engine.Complete(f.ctx, "B1")
	require.NoError(t, err)
	again, err := f.engine.Complete(f.ctx, "B1")
	require.NoError(t, err)
	require.True(t, again.AlreadyComplete)
	require.Zero(t, again.Mappings)

	// Volume moved exactly once.
	require.Equal(t, "40", volumeOf(f.sampleAt("P1", "A1")))
	require.Equal(t, 1, f.events.count(domain.EventBatchCompleted))
}

func TestComplete_UnknownBatch(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Complete(f.ctx, "nope")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
	require.Equal(t, apperrors.CodeBatchNotFound, apperrors.CodeOf(err))
}

// Volume is conserved across a chain: provider -> first destination, which
// then provides in a later batch.
func TestComplete_VolumeConservedAcrossBatches(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t30")
	f.ingest(transfers("one", "B1 P1 A1 D1 A1 12", "B1 P1 A1 D1 A2 8"))
	_, err := f.engine.Complete(f.ctx, "B1")
	require.NoError(t, err)

	rep := f.ingest(transfers("two", "B2 D1 A1 D2 A1 5", "B2 D1 A1 D2 A2 8"))
	require.Equal(t, []string{apperrors.CodeInsufficientVolume}, codes(rep.Errors))
	_, err = f.engine.Complete(f.ctx, "B2")
	require.NoError(t, err)

	require.Equal(t, "10", volumeOf(f.sampleAt("P1", "A1")))
	require.Equal(t, "7", volumeOf(f.sampleAt("D1", "A1")))
	require.Equal(t, "8", volumeOf(f.sampleAt("D1", "A2")))
	require.Equal(t, "5", volumeOf(f.sampleAt("D2", "A1")))
}

func TestComplete_WaitsForBatchLock(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t50")
	f.ingest(transfers("run", "B1 P1 A1 P2 A1 10"))

	unlock, err := f.locker.Lock(f.ctx, "B1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(f.ctx, 20*time.Millisecond)
	defer cancel()
	_, err = f.engine.Complete(ctx, "B1")
	require.Equal(t, apperrors.CodeBatchBusy, apperrors.CodeOf(err))
	require.Equal(t, "50", volumeOf(f.sampleAt("P1", "A1")))
}

func TestCompleteAll_CreationOrder(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t", "P1\tA2\tS2\t")
	f.ingest(transfers("run",
		"B2 P1 A1 D1 A1 1",
		"B1 P1 A2 D1 A2 1",
	))
	_, err := f.engine.Complete(f.ctx, "B1")
	require.NoError(t, err)

	results, err := f.engine.Completion.CompleteAll(f.ctx)
	require.NoError(t, err)
	require.Equal(t, []CompleteResult{{BatchID: "B2", Mappings: 1}}, results)

	batches, err := f.engine.ListBatches(f.ctx)
	require.NoError(t, err)
	for _, b := range batches {
		require.True(t, b.IsComplete, b.BatchID)
	}
}

func TestCompleteAll_OnGeneralPool(t *testing.T) {
	f := newFixture(t)
	pools, err := worker.NewPools(f.ctx, worker.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)
	f.engine.Completion.WithPools(pools)

	f.load("P1\tA1\tS1\t100")
	f.ingest(transfers("run",
		"B3 P1 A1 D1 A1 10",
		"B1 P1 A1 D1 A2 20",
		"B2 P1 A1 D2 A1 30",
		"B2 P1 A1 D2 A2 5",
	))

	results, err := f.engine.Completion.CompleteAll(f.ctx)
	require.NoError(t, err)
	require.Equal(t, []CompleteResult{
		{BatchID: "B3", Mappings: 1},
		{BatchID: "B1", Mappings: 1},
		{BatchID: "B2", Mappings: 2},
	}, results)
	require.Equal(t, "35", volumeOf(f.sampleAt("P1", "A1")))
	require.Equal(t, 3, f.events.count(domain.EventBatchCompleted))
}

func TestCompleteAll_CancelledContext(t *testing.T) {
	f := newFixture(t)
	pools, err := worker.NewPools(f.ctx, worker.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)
	f.engine.Completion.WithPools(pools)

	f.load("P1\tA1\tS1\t")
	f.ingest(transfers("run", "B1 P1 A1 D1 A1 1"))

	ctx, cancel := context.WithCancel(f.ctx)
	cancel()
	results, err := f.engine.Completion.CompleteAll(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, results)

	batches, err := f.engine.ListBatches(f.ctx)
	require.NoError(t, err)
	require.False(t, batches[0].IsComplete)
}
