package usecase

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"samasy.io/samasy/internal/domain"
)

// Run kinds.
const (
	RunKindIngest = "ingest"
	RunKindLoad   = "load"
)

// Report is the outcome of a finished run.
type Report struct {
	RunID    string               `json:"run_id"`
	Kind     string               `json:"kind"`
	Records  int                  `json:"records"`
	Errors   []domain.RecordError `json:"errors"`
	Progress float64              `json:"progress"`
	Duration time.Duration        `json:"duration"`
}

// Run is the observable handle of an ingestion or load run. Progress and
// Errors may be read from any goroutine while the run executes.
type Run struct {
	ID        string
	Kind      string
	StartedAt time.Time

	total     int64
	processed atomic.Int64

	mu       sync.Mutex
	errs     []domain.RecordError
	err      error
	duration time.Duration

	done chan struct{}
}

func newRun(id, kind string, total int, now time.Time) *Run {
	return &Run{
		ID:        id,
		Kind:      kind,
		StartedAt: now,
		total:     int64(total),
		done:      make(chan struct{}),
	}
}

// Total is the number of records the run will process.
func (r *Run) Total() int {
	return int(r.total)
}

// Processed is the number of records handled so far, successful or not.
func (r *Run) Processed() int {
	return int(r.processed.Load())
}

// Progress is processed/total in [0, 1]. An empty run is complete.
func (r *Run) Progress() float64 {
	if r.total == 0 {
		return 1
	}
	p := float64(r.processed.Load()) / float64(r.total)
	if p > 1 {
		p = 1
	}
	return p
}

// Errors returns a copy of the record errors collected so far, in
// processing order.
func (r *Run) Errors() []domain.RecordError {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.RecordError, len(r.errs))
	copy(out, r.errs)
	return out
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Err is the fatal error that stopped the run, if any. Record errors are
// not fatal.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (Report, error) {
	select {
	case <-r.done:
		return r.Report(), r.Err()
	case <-ctx.Done():
		return r.Report(), ctx.Err()
	}
}

// Report snapshots the run.
func (r *Run) Report() Report {
	r.mu.Lock()
	d := r.duration
	r.mu.Unlock()
	return Report{
		RunID:    r.ID,
		Kind:     r.Kind,
		Records:  r.Total(),
		Errors:   r.Errors(),
		Progress: r.Progress(),
		Duration: d,
	}
}

func (r *Run) succeed() {
	r.processed.Add(1)
}

func (r *Run) reject(e domain.RecordError) {
	r.mu.Lock()
	r.errs = append(r.errs, e)
	r.mu.Unlock()
	r.processed.Add(1)
}

// finish closes the run. Progress is forced to 1 so observers always see
// the run end, even when a fatal error cut it short.
func (r *Run) finish(err error, now time.Time) {
	r.mu.Lock()
	r.err = err
	r.duration = now.Sub(r.StartedAt)
	r.mu.Unlock()
	r.processed.Store(r.total)
	close(r.done)
}

// RunRegistry keeps runs observable by ID.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*Run)}
}

func (g *RunRegistry) add(r *Run) {
	if g == nil {
		return
	}
	g.mu.Lock()
	g.runs[r.ID] = r
	g.mu.Unlock()
}

// Get returns the run with id.
func (g *RunRegistry) Get(id string) (*Run, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.runs[id]
	return r, ok
}

// List returns all known runs, oldest first.
func (g *RunRegistry) List() []*Run {
	g.mu.RLock()
	out := make([]*Run, 0, len(g.runs))
	for _, r := range g.runs {
		out = append(out, r)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Forget drops finished runs and returns how many were removed.
func (g *RunRegistry) Forget() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, r := range g.runs {
		select {
		case <-r.done:
			delete(g.runs, id)
			n++
		default:
		}
	}
	return n
}
