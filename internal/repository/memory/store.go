// Package memory provides the in-process entity arena.
//
// Transactions hold the store mutex for their whole duration and record an
// undo journal; a failing callback replays the journal in reverse, so readers
// never observe a partially applied transaction.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/repository"
)

var errReadOnly = errors.New("memory store: write in read-only transaction")

type wellKey struct {
	plate string
	row   string
	col   int
}

type state struct {
	plates   map[string]domain.Plate
	wells    map[string]domain.Well
	samples  map[string]domain.Sample
	batches  map[string]domain.Batch
	mappings map[string]domain.Mapping

	plateByKey   map[string]string
	wellByPos    map[wellKey]string
	batchByKey   map[string]string
	mappingByDst map[string]string
}

func newState() *state {
	return &state{
		plates:       map[string]domain.Plate{},
		wells:        map[string]domain.Well{},
		samples:      map[string]domain.Sample{},
		batches:      map[string]domain.Batch{},
		mappings:     map[string]domain.Mapping{},
		plateByKey:   map[string]string{},
		wellByPos:    map[wellKey]string{},
		batchByKey:   map[string]string{},
		mappingByDst: map[string]string{},
	}
}

// Snapshot is the serialisable representation of the store state.
type Snapshot struct {
	Plates   []domain.Plate   `json:"plates"`
	Wells    []domain.Well    `json:"wells"`
	Samples  []domain.Sample  `json:"samples"`
	Batches  []domain.Batch   `json:"batches"`
	Mappings []domain.Mapping `json:"mappings"`
}

// Bucket names one entity collection.
type Bucket string

const (
	BucketPlates   Bucket = "plates"
	BucketWells    Bucket = "wells"
	BucketSamples  Bucket = "samples"
	BucketBatches  Bucket = "batches"
	BucketMappings Bucket = "mappings"
)

// Buckets lists every bucket.
var Buckets = []Bucket{BucketPlates, BucketWells, BucketSamples, BucketBatches, BucketMappings}

// Change is what one transaction wrote: the rows it inserted or updated, in
// their committed form and ID order, and the row IDs it deleted.
type Change struct {
	Plates   []domain.Plate
	Wells    []domain.Well
	Samples  []domain.Sample
	Batches  []domain.Batch
	Mappings []domain.Mapping
	Deleted  map[Bucket][]string
}

// Empty reports whether the transaction wrote nothing.
func (c Change) Empty() bool {
	if len(c.Plates)+len(c.Wells)+len(c.Samples)+len(c.Batches)+len(c.Mappings) > 0 {
		return false
	}
	for _, ids := range c.Deleted {
		if len(ids) > 0 {
			return false
		}
	}
	return true
}

// CommitHook runs while the store lock is held, after a transaction callback
// succeeded, with the rows that transaction wrote. A hook error rolls the
// transaction back.
type CommitHook func(Change) error

// Store is the in-memory implementation of repository.Store.
type Store struct {
	mu   sync.RWMutex
	st   *state
	hook CommitHook
}

var _ repository.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCommitHook installs a hook run on every successful transaction.
func WithCommitHook(hook CommitHook) Option {
	return func(s *Store) { s.hook = hook }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{st: newState()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx implements repository.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(tx repository.Tx) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &txn{st: s.st, writable: true}
	defer func() {
		if r := recover(); r != nil {
			tx.rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if s.hook != nil && len(tx.dirty) > 0 {
		if err := s.hook(tx.change()); err != nil {
			tx.rollback()
			return fmt.Errorf("commit hook: %w", err)
		}
	}
	return nil
}

// View implements repository.Store.
func (s *Store) View(ctx context.Context, fn func(tx repository.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&txn{st: s.st})
}

// Close implements repository.Store.
func (s *Store) Close() error { return nil }

// Export returns a deep copy of the current state.
func (s *Store) Export() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return exportState(s.st)
}

// Import replaces the current state with snap.
func (s *Store) Import(snap Snapshot) error {
	st := newState()
	for _, p := range snap.Plates {
		if _, dup := st.plateByKey[p.PlateID]; dup {
			return fmt.Errorf("import: duplicate plate %s", p.PlateID)
		}
		st.plates[p.ID] = p
		st.plateByKey[p.PlateID] = p.ID
	}
	for _, w := range snap.Wells {
		key := wellKey{plate: w.PlateRef, row: w.Position.Row, col: w.Position.Col}
		if _, dup := st.wellByPos[key]; dup {
			return fmt.Errorf("import: duplicate well %s", w.Label())
		}
		st.wells[w.ID] = w
		st.wellByPos[key] = w.ID
	}
	for _, smp := range snap.Samples {
		smp.Attributes = smp.Attributes.Clone()
		st.samples[smp.ID] = smp
	}
	for _, b := range snap.Batches {
		st.batches[b.ID] = b.Clone()
		st.batchByKey[b.BatchID] = b.ID
	}
	for _, m := range snap.Mappings {
		if _, dup := st.mappingByDst[m.DestinationRef]; dup {
			return fmt.Errorf("import: destination %s mapped twice", m.DestinationRef)
		}
		st.mappings[m.ID] = m
		st.mappingByDst[m.DestinationRef] = m.ID
	}

	s.mu.Lock()
	s.st = st
	s.mu.Unlock()
	return nil
}

func exportState(st *state) Snapshot {
	snap := Snapshot{
		Plates:   make([]domain.Plate, 0, len(st.plates)),
		Wells:    make([]domain.Well, 0, len(st.wells)),
		Samples:  make([]domain.Sample, 0, len(st.samples)),
		Batches:  make([]domain.Batch, 0, len(st.batches)),
		Mappings: make([]domain.Mapping, 0, len(st.mappings)),
	}
	for _, p := range st.plates {
		snap.Plates = append(snap.Plates, p)
	}
	for _, w := range st.wells {
		snap.Wells = append(snap.Wells, w)
	}
	for _, smp := range st.samples {
		smp.Attributes = smp.Attributes.Clone()
		snap.Samples = append(snap.Samples, smp)
	}
	for _, b := range st.batches {
		snap.Batches = append(snap.Batches, b.Clone())
	}
	for _, m := range st.mappings {
		snap.Mappings = append(snap.Mappings, m)
	}
	sort.Slice(snap.Plates, func(i, j int) bool { return snap.Plates[i].ID < snap.Plates[j].ID })
	sort.Slice(snap.Wells, func(i, j int) bool { return snap.Wells[i].ID < snap.Wells[j].ID })
	sort.Slice(snap.Samples, func(i, j int) bool { return snap.Samples[i].ID < snap.Samples[j].ID })
	sort.Slice(snap.Batches, func(i, j int) bool { return snap.Batches[i].ID < snap.Batches[j].ID })
	sort.Slice(snap.Mappings, func(i, j int) bool { return snap.Mappings[i].ID < snap.Mappings[j].ID })
	return snap
}

// sortBatches orders batches by creation time, then by ID.
func sortBatches(out []domain.Batch) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

func sortMappings(out []domain.Mapping) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
}

// notFound builds lookup errors for row IDs.
func notFound(code, what, id string) error {
	return apperrors.NotFound(code, fmt.Sprintf("%s %s not found", what, id))
}
