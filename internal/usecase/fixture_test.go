package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/lock"
	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/repository/memory"
	"samasy.io/samasy/internal/service"
	"samasy.io/samasy/internal/transferfile"
)

type eventLog struct {
	mu     sync.Mutex
	events []domain.EventType
}

func (l *eventLog) handler(_ context.Context, e *domain.DomainEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e.EventType)
	return nil
}

func (l *eventLog) count(t domain.EventType) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.events {
		if e == t {
			n++
		}
	}
	return n
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *memory.Store
	locker *lock.LocalLocker
	events *eventLog
	deps   Deps
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	var n, tick atomic.Int64
	epoch := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	id := service.Identity{
		NewID: func() string { return fmt.Sprintf("id-%06d", n.Add(1)) },
		Now:   func() time.Time { return epoch.Add(time.Duration(tick.Add(1)) * time.Millisecond) },
	}

	log := &eventLog{}
	dispatcher := domain.NewEventDispatcher()
	for _, et := range []domain.EventType{
		domain.EventBatchCreated, domain.EventBatchCompleted, domain.EventBatchRemoved,
		domain.EventMappingAdmitted, domain.EventPodRetyped, domain.EventRecordRejected,
		domain.EventIngestFinished, domain.EventSamplesLoaded,
		domain.EventPlatesControlled, domain.EventPlateDeleted,
	} {
		dispatcher.Register(et, log.handler)
	}

	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  memory.New(),
		locker: lock.NewLocalLocker(),
		events: log,
	}
	f.deps = Deps{Store: f.store, Locker: f.locker, Identity: id, Events: dispatcher}
	f.engine = NewEngine(f.deps, EngineOptions{})
	return f
}

// load runs a tab-separated sample load with columns PlateID, Well,
// SampleID, Volume.
func (f *fixture) load(rows ...string) Report {
	f.t.Helper()
	text := "PlateID\tWell\tSampleID\tVolume\n" + strings.Join(rows, "\n") + "\n"
	sl, err := transferfile.ReadSampleLoad(strings.NewReader(text), "samples")
	require.NoError(f.t, err)
	rep, err := f.engine.Loading.Execute(f.ctx, sl)
	require.NoError(f.t, err)
	return rep
}

// transfers builds a transfer file from "batch src srcWell dst dstWell vol"
// tuples; "-" stands for an empty volume.
func transfers(name string, rows ...string) domain.TransferFile {
	var b strings.Builder
	b.WriteString(strings.Join(domain.TransferHeaders, "\t") + "\n")
	for _, r := range rows {
		fields := strings.Fields(r)
		if fields[len(fields)-1] == "-" {
			fields[len(fields)-1] = ""
		}
		b.WriteString(strings.Join(fields, "\t") + "\n")
	}
	tf, err := transferfile.ReadTransfers(strings.NewReader(b.String()), name)
	if err != nil {
		panic(err)
	}
	return tf
}

func (f *fixture) ingest(files ...domain.TransferFile) Report {
	f.t.Helper()
	rep, err := f.engine.Ingest(f.ctx, IngestRequest{Files: files})
	require.NoError(f.t, err)
	return rep
}

func (f *fixture) view(fn func(tx repository.Tx)) {
	f.t.Helper()
	require.NoError(f.t, f.store.View(f.ctx, func(tx repository.Tx) error {
		fn(tx)
		return nil
	}))
}

func (f *fixture) sampleAt(plateID, label string) domain.Sample {
	f.t.Helper()
	var s domain.Sample
	f.view(func(tx repository.Tx) {
		_, w, err := service.NewResolver(f.deps.Identity).LookupWell(f.ctx, tx, plateID, label)
		require.NoError(f.t, err)
		require.True(f.t, w.HasSample(), "%s %s has no sample", plateID, label)
		s, err = tx.SampleByID(f.ctx, w.SampleRef)
		require.NoError(f.t, err)
	})
	return s
}

func (f *fixture) mappings(batchID string) []domain.Mapping {
	f.t.Helper()
	var out []domain.Mapping
	f.view(func(tx repository.Tx) {
		b, err := tx.BatchByKey(f.ctx, batchID)
		require.NoError(f.t, err)
		out, err = tx.MappingsByBatch(f.ctx, b.ID)
		require.NoError(f.t, err)
	})
	return out
}

func volumeOf(s domain.Sample) string {
	if !s.Volume.Valid {
		return "unknown"
	}
	return s.Volume.Decimal.String()
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func codes(errs []domain.RecordError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Code
	}
	return out
}
