package usecase

import (
	"context"
	"errors"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/service"
)

// PodView is one pod of a batch layout.
type PodView struct {
	Position int              `json:"position"`
	Kind     domain.PlateKind `json:"kind"`
	PlateID  string           `json:"plate_id,omitempty"`
}

// BatchView is a batch with its pod layout resolved to plate IDs.
type BatchView struct {
	BatchID    string    `json:"batch_id"`
	IsComplete bool      `json:"is_complete"`
	Pods       []PodView `json:"pods"`
}

// BatchQueryUseCase answers read-only questions about batches and wells.
// Every query runs in one read transaction, so it sees a batch either
// entirely before or entirely after completion.
type BatchQueryUseCase struct {
	store    repository.Store
	resolver *service.Resolver
}

// NewBatchQueryUseCase creates a new BatchQueryUseCase.
func NewBatchQueryUseCase(deps Deps) *BatchQueryUseCase {
	deps = deps.withDefaults()
	return &BatchQueryUseCase{store: deps.Store, resolver: service.NewResolver(deps.Identity)}
}

// ListBatches returns all batches in creation order.
func (uc *BatchQueryUseCase) ListBatches(ctx context.Context) ([]domain.Batch, error) {
	var out []domain.Batch
	err := uc.store.View(ctx, func(tx repository.Tx) error {
		var err error
		out, err = tx.ListBatches(ctx)
		return err
	})
	return out, err
}

// BatchesUpTo returns the batches created up to and including name, in
// creation order.
func (uc *BatchQueryUseCase) BatchesUpTo(ctx context.Context, name string) ([]domain.Batch, error) {
	all, err := uc.ListBatches(ctx)
	if err != nil {
		return nil, err
	}
	for i, b := range all {
		if b.BatchID == name {
			return all[:i+1], nil
		}
	}
	return nil, apperrors.ErrBatchNotFoundf(name)
}

// SamplesOf returns the distinct samples of a batch: the destination
// samples once the batch is complete, the provider samples before.
func (uc *BatchQueryUseCase) SamplesOf(ctx context.Context, batchID string) ([]domain.Sample, error) {
	var out []domain.Sample
	err := uc.store.View(ctx, func(tx repository.Tx) error {
		batch, err := tx.BatchByKey(ctx, batchID)
		if err != nil {
			return err
		}
		mappings, err := tx.MappingsByBatch(ctx, batch.ID)
		if err != nil {
			return err
		}
		seen := make(map[string]struct{}, len(mappings))
		for _, m := range mappings {
			wellRef := m.ProviderRef
			if batch.IsComplete {
				wellRef = m.DestinationRef
			}
			w, err := tx.WellByID(ctx, wellRef)
			if err != nil {
				return err
			}
			if !w.HasSample() {
				continue
			}
			if _, dup := seen[w.SampleRef]; dup {
				continue
			}
			seen[w.SampleRef] = struct{}{}
			s, err := tx.SampleByID(ctx, w.SampleRef)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return nil
	})
	return out, err
}

// CurrentOccupant reports what the well at plateID/label holds: a realized
// sample, the provider's sample a pending mapping will bring in, or nothing.
func (uc *BatchQueryUseCase) CurrentOccupant(ctx context.Context, plateID, label string) (domain.Occupant, error) {
	var occ domain.Occupant
	err := uc.store.View(ctx, func(tx repository.Tx) error {
		_, well, err := uc.resolver.LookupWell(ctx, tx, plateID, label)
		if err != nil {
			return err
		}

		outgoing, err := tx.MappingsByProvider(ctx, well.ID)
		if err != nil {
			return err
		}
		for _, m := range outgoing {
			dest, err := tx.WellByID(ctx, m.DestinationRef)
			if err != nil {
				return err
			}
			occ.Destinations = append(occ.Destinations, dest.Label())
		}

		incoming, err := tx.MappingByDestination(ctx, well.ID)
		hasIncoming := err == nil
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return err
		}
		if hasIncoming {
			provider, err := tx.WellByID(ctx, incoming.ProviderRef)
			if err != nil {
				return err
			}
			occ.Provider = provider.Label()
		}

		switch {
		case well.HasSample():
			s, err := tx.SampleByID(ctx, well.SampleRef)
			if err != nil {
				return err
			}
			occ.State = domain.OccupantSample
			occ.Sample = &s
			occ.Realized = true
		case hasIncoming && !incoming.IsComplete:
			provider, err := tx.WellByID(ctx, incoming.ProviderRef)
			if err != nil {
				return err
			}
			occ.State = domain.OccupantPending
			if provider.HasSample() {
				s, err := tx.SampleByID(ctx, provider.SampleRef)
				if err != nil {
					return err
				}
				occ.Sample = &s
			}
		default:
			occ.State = domain.OccupantEmpty
		}
		return nil
	})
	return occ, err
}

// PlateIsComplete reports whether every mapping into the plate's wells is
// complete. A plate nothing maps into is complete.
func (uc *BatchQueryUseCase) PlateIsComplete(ctx context.Context, plateID string) (bool, error) {
	complete := true
	err := uc.store.View(ctx, func(tx repository.Tx) error {
		p, err := tx.PlateByKey(ctx, plateID)
		if err != nil {
			return err
		}
		wells, err := tx.WellsOnPlate(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, w := range wells {
			m, err := tx.MappingByDestination(ctx, w.ID)
			if errors.Is(err, apperrors.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !m.IsComplete {
				complete = false
				return nil
			}
		}
		return nil
	})
	return complete, err
}

// BatchLayout returns the batch's pods with the plate each one holds.
func (uc *BatchQueryUseCase) BatchLayout(ctx context.Context, batchID string) (BatchView, error) {
	var view BatchView
	err := uc.store.View(ctx, func(tx repository.Tx) error {
		b, err := tx.BatchByKey(ctx, batchID)
		if err != nil {
			return err
		}
		view = BatchView{BatchID: b.BatchID, IsComplete: b.IsComplete, Pods: make([]PodView, 0, len(b.Pods.Pods))}
		for _, pod := range b.Pods.Pods {
			pv := PodView{Position: pod.Position, Kind: pod.Kind}
			if !pod.Free() {
				p, err := tx.PlateByID(ctx, pod.PlateRef)
				if err != nil {
					return err
				}
				pv.PlateID = p.PlateID
			}
			view.Pods = append(view.Pods, pv)
		}
		return nil
	})
	return view, err
}
