package domain

import (
	"time"

	"github.com/shopspring/decimal"

	apperrors "samasy.io/samasy/internal/pkg/errors"
)

// Pod slot geometry. Every batch owns exactly PodCount pods at positions
// MinPodPosition..MaxPodPosition.
const (
	MinPodPosition = 4
	MaxPodPosition = 12
	PodCount       = MaxPodPosition - MinPodPosition + 1
)

// DefaultPodKind returns the initial kind of the pod at position:
// 4–9 Source, 10 Control, 11–12 Destination.
func DefaultPodKind(position int) (PlateKind, error) {
	switch {
	case position >= 4 && position <= 9:
		return PlateKindSource, nil
	case position == 10:
		return PlateKindControl, nil
	case position >= 11 && position <= 12:
		return PlateKindDestination, nil
	}
	return "", apperrors.Invalid(apperrors.CodeInvalidPodPosition, "pod position must be between 4 and 12").
		WithParams(map[string]interface{}{"position": position})
}

// Pod is one physical carrier slot of a batch.
type Pod struct {
	ID       string    `json:"id"`
	BatchRef string    `json:"batch_ref"`
	Position int       `json:"position"`
	Kind     PlateKind `json:"kind"`
	// PlateRef is the held plate's row ID, empty when free.
	PlateRef string `json:"plate_ref,omitempty"`
}

// Free reports whether no plate occupies the pod.
func (p Pod) Free() bool {
	return p.PlateRef == ""
}

// PodPool is the fixed slot pool owned by a Batch, ordered by position.
type PodPool struct {
	Pods []Pod `json:"pods"`
}

// NewPodPool lays out PodCount pods with the default kinds.
func NewPodPool(batchRef string, newID func() string) PodPool {
	pods := make([]Pod, 0, PodCount)
	for pos := MinPodPosition; pos <= MaxPodPosition; pos++ {
		kind, _ := DefaultPodKind(pos)
		pods = append(pods, Pod{
			ID:       newID(),
			BatchRef: batchRef,
			Position: pos,
			Kind:     kind,
		})
	}
	return PodPool{Pods: pods}
}

// Holding returns the index of the pod holding plateRef.
func (p PodPool) Holding(plateRef string) (int, bool) {
	for i, pod := range p.Pods {
		if pod.PlateRef == plateRef && plateRef != "" {
			return i, true
		}
	}
	return -1, false
}

// FirstFree returns the index of the lowest free pod of kind.
func (p PodPool) FirstFree(kind PlateKind) (int, bool) {
	for i, pod := range p.Pods {
		if pod.Free() && pod.Kind == kind {
			return i, true
		}
	}
	return -1, false
}

// FirstFreeAny returns the index of the lowest free pod of any kind.
func (p PodPool) FirstFreeAny() (int, bool) {
	for i, pod := range p.Pods {
		if pod.Free() {
			return i, true
		}
	}
	return -1, false
}

// Clone copies the pool.
func (p PodPool) Clone() PodPool {
	out := PodPool{Pods: make([]Pod, len(p.Pods))}
	copy(out.Pods, p.Pods)
	return out
}

// Batch is a named unit of transfer work.
type Batch struct {
	ID         string    `json:"id"`
	BatchID    string    `json:"batch_id"`
	IsComplete bool      `json:"is_complete"`
	CreatedAt  time.Time `json:"created_at"`
	Pods       PodPool   `json:"pods"`
}

// NewBatch creates an open batch with its default pod layout.
func NewBatch(id, batchID string, now time.Time, newID func() string) Batch {
	return Batch{
		ID:        id,
		BatchID:   batchID,
		CreatedAt: now,
		Pods:      NewPodPool(id, newID),
	}
}

// Clone deep-copies the batch.
func (b Batch) Clone() Batch {
	b.Pods = b.Pods.Clone()
	return b
}

// Mapping is an admitted transfer from a provider well to a destination well.
type Mapping struct {
	ID             string              `json:"id"`
	ProviderRef    string              `json:"provider_ref"`
	DestinationRef string              `json:"destination_ref"`
	BatchRef       string              `json:"batch_ref,omitempty"`
	Volume         decimal.NullDecimal `json:"volume"`
	IsComplete     bool                `json:"is_complete"`
	CreatedAt      time.Time           `json:"created_at"`
}
