package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/pkg/worker"
	"samasy.io/samasy/internal/repository"
)

// One transfer from a loaded Good well admits one Mapping and seats the
// destination plate on a Destination pod.
func TestIngest_SingleTransfer(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t50")

	rep := f.ingest(transfers("run", "B1 P1 A1 P2 A1 10.0"))
	require.Empty(t, rep.Errors)
	require.Equal(t, 1.0, rep.Progress)
	require.Equal(t, 1, rep.Records)

	ms := f.mappings("B1")
	require.Len(t, ms, 1)
	require.Equal(t, "10", ms[0].Volume.Decimal.String())
	require.False(t, ms[0].IsComplete)

	view, err := f.engine.Queries.BatchLayout(f.ctx, "B1")
	require.NoError(t, err)
	byPlate := map[string]PodView{}
	for _, p := range view.Pods {
		if p.PlateID != "" {
			byPlate[p.PlateID] = p
		}
	}
	require.Len(t, byPlate, 2)
	require.Equal(t, PodView{Position: 11, Kind: domain.PlateKindDestination, PlateID: "P2"}, byPlate["P2"])
	require.Equal(t, PodView{Position: 4, Kind: domain.PlateKindSource, PlateID: "P1"}, byPlate["P1"])

	f.view(func(tx repository.Tx) {
		p2, err := tx.PlateByKey(f.ctx, "P2")
		require.NoError(t, err)
		require.Equal(t, domain.PlateKindDestination, p2.Kind)
		require.True(t, p2.BatchCreated)
	})
	require.Equal(t, 1, f.events.count(domain.EventBatchCreated))
	require.Equal(t, 1, f.events.count(domain.EventMappingAdmitted))
	require.Equal(t, 1, f.events.count(domain.EventIngestFinished))
}

// Cumulative claims of 55 on a 50 volume provider reject the second record
// and leave the first Mapping alone.
func TestIngest_InsufficientVolume(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t50")

	rep := f.ingest(transfers("run",
		"B1 P1 A1 P2 A1 10.0",
		"B1 P1 A1 P2 A2 45.0",
	))
	require.Len(t, rep.Errors, 1)
	require.Equal(t, apperrors.CodeInsufficientVolume, rep.Errors[0].Code)
	require.Equal(t, 3, rep.Errors[0].Line)
	require.Equal(t, "run", rep.Errors[0].File)

	ms := f.mappings("B1")
	require.Len(t, ms, 1)
	require.Equal(t, "10", ms[0].Volume.Decimal.String())

	// The rejected record left no destination well behind.
	f.view(func(tx repository.Tx) {
		p2, err := tx.PlateByKey(f.ctx, "P2")
		require.NoError(t, err)
		wells, err := tx.WellsOnPlate(f.ctx, p2.ID)
		require.NoError(t, err)
		require.Len(t, wells, 1)
	})
}

// A second provider for an already-mapped destination is a conflict.
func TestIngest_DestinationConflict(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t50", "P1\tA2\tS2\t50")

	f.ingest(transfers("first", "B1 P1 A1 P2 A1 10"))
	rep := f.ingest(transfers("second", "B2 P1 A2 P2 A1 10"))

	require.Equal(t, []string{apperrors.CodeDestinationConflict}, codes(rep.Errors))
	require.Equal(t, "second, line 2: destination P2: A1 already provided by P1: A1", rep.Errors[0].String())

	occ, err := f.engine.CurrentOccupant(f.ctx, "P2", "A1")
	require.NoError(t, err)
	require.Equal(t, "P1: A1", occ.Provider)
	require.Len(t, f.mappings("B1"), 1)
	require.Empty(t, f.mappings("B2"))
}

// Ten destination plates from one source plate: two Destination pods, then
// pods 5..10 are retyped, then the pool is exhausted.
func TestIngest_PodRetypingAndExhaustion(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t")

	rows := make([]string, 0, 10)
	for i := 1; i <= 10; i++ {
		rows = append(rows, fmt.Sprintf("B1 P1 A1 D%d A1 1", i))
	}
	rep := f.ingest(transfers("run", rows...))

	require.Equal(t, []string{apperrors.CodePodsExhausted, apperrors.CodePodsExhausted}, codes(rep.Errors))
	require.Equal(t, 10, rep.Errors[0].Line)
	require.Contains(t, rep.Errors[0].Message, "D9")
	require.Equal(t, 11, rep.Errors[1].Line)
	require.Equal(t, 1.0, rep.Progress)
	require.Len(t, f.mappings("B1"), 8)
	require.Equal(t, 6, f.events.count(domain.EventPodRetyped))

	view, err := f.engine.Queries.BatchLayout(f.ctx, "B1")
	require.NoError(t, err)
	want := map[int]string{4: "P1", 5: "D3", 6: "D4", 7: "D5", 8: "D6", 9: "D7", 10: "D8", 11: "D1", 12: "D2"}
	for _, p := range view.Pods {
		require.Equal(t, want[p.Position], p.PlateID, "pod %d", p.Position)
		if p.Position == 4 {
			require.Equal(t, domain.PlateKindSource, p.Kind)
		} else {
			require.Equal(t, domain.PlateKindDestination, p.Kind)
		}
	}

	// The abandoned records created nothing.
	f.view(func(tx repository.Tx) {
		_, err := tx.PlateByKey(f.ctx, "D9")
		require.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestIngest_RecordErrorsInLineOrder(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t")

	rep := f.ingest(transfers("run",
		"B1 PX A1 D1 A1 1",
		"B1 P1 A1 D1 A1 oops",
		"B1 P1 H12 D1 A2 1",
		"B1 P1 A1 D1 Z9 1",
		"B1 P1 A1 D1 A3 1",
	))
	require.Equal(t, []string{
		apperrors.CodeUnknownSourcePlate,
		apperrors.CodeInvalidRecord,
		apperrors.CodeUnknownSourceWell,
		apperrors.CodeInvalidWellLabel,
	}, codes(rep.Errors))
	for i, e := range rep.Errors {
		require.Equal(t, i+2, e.Line)
	}
	require.Equal(t, 5, rep.Records)
	require.Len(t, f.mappings("B1"), 1)
	require.Equal(t, 4, f.events.count(domain.EventRecordRejected))
}

func TestIngest_EmptyRequest(t *testing.T) {
	f := newFixture(t)
	rep := f.ingest()
	require.Equal(t, 1.0, rep.Progress)
	require.Empty(t, rep.Errors)
}

func TestIngest_CompletedBatchRefusesRecords(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t")
	f.ingest(transfers("run", "B1 P1 A1 D1 A1 1"))
	_, err := f.engine.Complete(f.ctx, "B1")
	require.NoError(t, err)

	rep := f.ingest(transfers("late", "B1 P1 A1 D1 A2 1"))
	require.Equal(t, []string{apperrors.CodeAlreadyComplete}, codes(rep.Errors))
}

// Two batches drawing on one provider concurrently never overdraw it.
func TestIngest_ConcurrentBatchesShareProvider(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t10")

	var wg sync.WaitGroup
	reports := make([]Report, 2)
	errs := make([]error, 2)
	for i := range reports {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], errs[i] = f.engine.Ingest(f.ctx, IngestRequest{Files: []domain.TransferFile{
				transfers(fmt.Sprintf("run%d", i), fmt.Sprintf("B%d P1 A1 D%d A1 6", i, i)),
			}})
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	rejected := len(reports[0].Errors) + len(reports[1].Errors)
	require.Equal(t, 1, rejected)
	admitted := len(f.mappings("B0")) + len(f.mappings("B1"))
	require.Equal(t, 1, admitted)
}

// A run waiting on a batch lock is observable and finishes once the lock
// is released.
func TestStartIngest_ObservableWhileLocked(t *testing.T) {
	f := newFixture(t)
	f.load("P1\tA1\tS1\t")
	pools, err := worker.NewPools(f.ctx, worker.DefaultPoolConfig())
	require.NoError(t, err)
	t.Cleanup(pools.Shutdown)
	f.engine.Ingestion.WithPools(pools)

	unlock, err := f.locker.Lock(f.ctx, "B1")
	require.NoError(t, err)

	run, err := f.engine.StartIngest(f.ctx, IngestRequest{Files: []domain.TransferFile{
		transfers("run", "B1 P1 A1 D1 A1 1", "B1 P1 A1 D1 A2 1"),
	}})
	require.NoError(t, err)
	got, ok := f.engine.Runs.Get(run.ID)
	require.True(t, ok)
	require.Same(t, run, got)

	select {
	case <-run.Done():
		t.Fatal("run finished while its batch was locked")
	case <-time.After(50 * time.Millisecond):
	}
	require.Equal(t, 0.0, run.Progress())

	unlock()
	ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
	defer cancel()
	rep, err := run.Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, 1.0, rep.Progress)
	require.Empty(t, rep.Errors)
	require.Len(t, f.mappings("B1"), 2)
}

func TestStartIngest_NeedsPools(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.StartIngest(f.ctx, IngestRequest{})
	require.ErrorIs(t, err, apperrors.ErrInternal)
}

func TestIngestRequest_BatchIDs(t *testing.T) {
	req := IngestRequest{Files: []domain.TransferFile{
		transfers("a", "B2 P1 A1 D1 A1 1", "B1 P1 A1 D1 A2 1"),
		transfers("b", "B2 P1 A1 D1 A3 1"),
	}}
	require.Equal(t, []string{"B1", "B2"}, req.BatchIDs())
	require.Equal(t, 3, req.Total())
}
