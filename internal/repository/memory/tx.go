package memory

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
)

type txn struct {
	st       *state
	writable bool
	undo     []func()
	// dirty holds the row IDs written per bucket.
	dirty map[Bucket]map[string]struct{}
}

func (t *txn) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.dirty = nil
}

func (t *txn) mark(b Bucket, id string) {
	if t.dirty == nil {
		t.dirty = map[Bucket]map[string]struct{}{}
	}
	ids := t.dirty[b]
	if ids == nil {
		ids = map[string]struct{}{}
		t.dirty[b] = ids
	}
	ids[id] = struct{}{}
}

func (t *txn) checkWritable() error {
	if !t.writable {
		return errReadOnly
	}
	return nil
}

func put[K comparable, V any](t *txn, m map[K]V, k K, v V) {
	prev, had := m[k]
	m[k] = v
	t.undo = append(t.undo, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func del[K comparable, V any](t *txn, m map[K]V, k K) {
	prev, had := m[k]
	if !had {
		return
	}
	delete(m, k)
	t.undo = append(t.undo, func() { m[k] = prev })
}

func putEntity[V any](t *txn, b Bucket, m map[string]V, id string, v V) {
	put(t, m, id, v)
	t.mark(b, id)
}

func delEntity[V any](t *txn, b Bucket, m map[string]V, id string) {
	if _, had := m[id]; !had {
		return
	}
	del(t, m, id)
	t.mark(b, id)
}

// change collects the rows written by the transaction in their committed
// form, with the IDs that no longer exist listed as deleted.
func (t *txn) change() Change {
	c := Change{Deleted: map[Bucket][]string{}}
	c.Plates = collect(&c, BucketPlates, t.dirty[BucketPlates], t.st.plates, nil)
	c.Wells = collect(&c, BucketWells, t.dirty[BucketWells], t.st.wells, nil)
	c.Samples = collect(&c, BucketSamples, t.dirty[BucketSamples], t.st.samples, func(s domain.Sample) domain.Sample {
		s.Attributes = s.Attributes.Clone()
		return s
	})
	c.Batches = collect(&c, BucketBatches, t.dirty[BucketBatches], t.st.batches, domain.Batch.Clone)
	c.Mappings = collect(&c, BucketMappings, t.dirty[BucketMappings], t.st.mappings, nil)
	return c
}

func collect[V any](c *Change, b Bucket, ids map[string]struct{}, m map[string]V, clone func(V) V) []V {
	keys := make([]string, 0, len(ids))
	for id := range ids {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	var out []V
	for _, id := range keys {
		v, ok := m[id]
		if !ok {
			c.Deleted[b] = append(c.Deleted[b], id)
			continue
		}
		if clone != nil {
			v = clone(v)
		}
		out = append(out, v)
	}
	return out
}

// Plates

func (t *txn) PlateByKey(_ context.Context, plateID string) (domain.Plate, error) {
	id, ok := t.st.plateByKey[plateID]
	if !ok {
		return domain.Plate{}, apperrors.ErrPlateNotFoundf(plateID)
	}
	return t.st.plates[id], nil
}

func (t *txn) PlateByID(_ context.Context, id string) (domain.Plate, error) {
	p, ok := t.st.plates[id]
	if !ok {
		return domain.Plate{}, notFound(apperrors.CodePlateNotFound, "plate", id)
	}
	return p, nil
}

func (t *txn) InsertPlate(_ context.Context, p domain.Plate) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, taken := t.st.plateByKey[p.PlateID]; taken {
		return apperrors.AlreadyExists(apperrors.CodePlateExists, fmt.Sprintf("plate %s already exists", p.PlateID))
	}
	putEntity(t, BucketPlates, t.st.plates, p.ID, p)
	put(t, t.st.plateByKey, p.PlateID, p.ID)
	return nil
}

func (t *txn) UpdatePlate(_ context.Context, p domain.Plate) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	old, ok := t.st.plates[p.ID]
	if !ok {
		return notFound(apperrors.CodePlateNotFound, "plate", p.ID)
	}
	if old.PlateID != p.PlateID {
		return apperrors.Invalid(apperrors.CodeInvalidRecord, "plate key is immutable")
	}
	putEntity(t, BucketPlates, t.st.plates, p.ID, p)
	return nil
}

func (t *txn) ListPlates(_ context.Context) ([]domain.Plate, error) {
	out := make([]domain.Plate, 0, len(t.st.plates))
	for _, p := range t.st.plates {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (t *txn) DeletePlate(_ context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	p, ok := t.st.plates[id]
	if !ok {
		return notFound(apperrors.CodePlateNotFound, "plate", id)
	}
	for wid, w := range t.st.wells {
		if w.PlateRef != id {
			continue
		}
		for mid, m := range t.st.mappings {
			if m.ProviderRef == wid || m.DestinationRef == wid {
				del(t, t.st.mappingByDst, m.DestinationRef)
				delEntity(t, BucketMappings, t.st.mappings, mid)
			}
		}
		if w.SampleRef != "" {
			delEntity(t, BucketSamples, t.st.samples, w.SampleRef)
		}
		del(t, t.st.wellByPos, wellKey{plate: id, row: w.Position.Row, col: w.Position.Col})
		delEntity(t, BucketWells, t.st.wells, wid)
	}
	for bid, b := range t.st.batches {
		if _, held := b.Pods.Holding(id); !held {
			continue
		}
		nb := b.Clone()
		idx, _ := nb.Pods.Holding(id)
		nb.Pods.Pods[idx].PlateRef = ""
		putEntity(t, BucketBatches, t.st.batches, bid, nb)
	}
	del(t, t.st.plateByKey, p.PlateID)
	delEntity(t, BucketPlates, t.st.plates, id)
	return nil
}

// Wells

func (t *txn) WellByID(_ context.Context, id string) (domain.Well, error) {
	w, ok := t.st.wells[id]
	if !ok {
		return domain.Well{}, notFound(apperrors.CodeWellNotFound, "well", id)
	}
	return w, nil
}

func (t *txn) WellAt(_ context.Context, plateRef string, pos domain.Position) (domain.Well, error) {
	id, ok := t.st.wellByPos[wellKey{plate: plateRef, row: pos.Row, col: pos.Col}]
	if !ok {
		plateID := plateRef
		if p, found := t.st.plates[plateRef]; found {
			plateID = p.PlateID
		}
		return domain.Well{}, apperrors.ErrWellNotFoundf(plateID, pos.Label())
	}
	return t.st.wells[id], nil
}

func (t *txn) WellsOnPlate(_ context.Context, plateRef string) ([]domain.Well, error) {
	var out []domain.Well
	for _, w := range t.st.wells {
		if w.PlateRef == plateRef {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position.Row != out[j].Position.Row {
			return out[i].Position.Row < out[j].Position.Row
		}
		return out[i].Position.Col < out[j].Position.Col
	})
	return out, nil
}

func (t *txn) InsertWell(_ context.Context, w domain.Well) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.st.plates[w.PlateRef]; !ok {
		return notFound(apperrors.CodePlateNotFound, "plate", w.PlateRef)
	}
	key := wellKey{plate: w.PlateRef, row: w.Position.Row, col: w.Position.Col}
	if _, taken := t.st.wellByPos[key]; taken {
		return apperrors.ErrDuplicateWellf(w.PlateID, w.Position.Label())
	}
	putEntity(t, BucketWells, t.st.wells, w.ID, w)
	put(t, t.st.wellByPos, key, w.ID)
	return nil
}

func (t *txn) UpdateWell(_ context.Context, w domain.Well) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	old, ok := t.st.wells[w.ID]
	if !ok {
		return notFound(apperrors.CodeWellNotFound, "well", w.ID)
	}
	if old.PlateRef != w.PlateRef || old.Position != w.Position {
		return apperrors.Invalid(apperrors.CodeInvalidRecord, "well position is immutable")
	}
	putEntity(t, BucketWells, t.st.wells, w.ID, w)
	return nil
}

func (t *txn) LockWell(_ context.Context, id string) error {
	if _, ok := t.st.wells[id]; !ok {
		return notFound(apperrors.CodeWellNotFound, "well", id)
	}
	return nil
}

// Samples

func (t *txn) SampleByID(_ context.Context, id string) (domain.Sample, error) {
	s, ok := t.st.samples[id]
	if !ok {
		return domain.Sample{}, notFound(apperrors.CodeSampleNotFound, "sample", id)
	}
	s.Attributes = s.Attributes.Clone()
	return s, nil
}

func (t *txn) InsertSample(_ context.Context, s domain.Sample) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, exists := t.st.samples[s.ID]; exists {
		return apperrors.AlreadyExists(apperrors.CodeInternal, fmt.Sprintf("sample row %s already exists", s.ID))
	}
	s.Attributes = s.Attributes.Clone()
	putEntity(t, BucketSamples, t.st.samples, s.ID, s)
	return nil
}

func (t *txn) UpdateSample(_ context.Context, s domain.Sample) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.st.samples[s.ID]; !ok {
		return notFound(apperrors.CodeSampleNotFound, "sample", s.ID)
	}
	s.Attributes = s.Attributes.Clone()
	putEntity(t, BucketSamples, t.st.samples, s.ID, s)
	return nil
}

// Batches

func (t *txn) BatchByKey(_ context.Context, batchID string) (domain.Batch, error) {
	id, ok := t.st.batchByKey[batchID]
	if !ok {
		return domain.Batch{}, apperrors.ErrBatchNotFoundf(batchID)
	}
	return t.st.batches[id].Clone(), nil
}

func (t *txn) BatchByID(_ context.Context, id string) (domain.Batch, error) {
	b, ok := t.st.batches[id]
	if !ok {
		return domain.Batch{}, notFound(apperrors.CodeBatchNotFound, "batch", id)
	}
	return b.Clone(), nil
}

func (t *txn) InsertBatch(_ context.Context, b domain.Batch) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, taken := t.st.batchByKey[b.BatchID]; taken {
		return apperrors.AlreadyExists(apperrors.CodeBatchExists, fmt.Sprintf("batch %s already exists", b.BatchID))
	}
	putEntity(t, BucketBatches, t.st.batches, b.ID, b.Clone())
	put(t, t.st.batchByKey, b.BatchID, b.ID)
	return nil
}

func (t *txn) UpdateBatch(_ context.Context, b domain.Batch) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	old, ok := t.st.batches[b.ID]
	if !ok {
		return notFound(apperrors.CodeBatchNotFound, "batch", b.ID)
	}
	nb := old.Clone()
	nb.IsComplete = b.IsComplete
	putEntity(t, BucketBatches, t.st.batches, b.ID, nb)
	return nil
}

func (t *txn) UpdatePod(_ context.Context, p domain.Pod) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	old, ok := t.st.batches[p.BatchRef]
	if !ok {
		return notFound(apperrors.CodeBatchNotFound, "batch", p.BatchRef)
	}
	nb := old.Clone()
	for i := range nb.Pods.Pods {
		if nb.Pods.Pods[i].ID != p.ID {
			continue
		}
		if nb.Pods.Pods[i].Position != p.Position {
			return apperrors.Invalid(apperrors.CodeInvalidPodPosition, "pod position is immutable")
		}
		if p.PlateRef != "" {
			if idx, held := nb.Pods.Holding(p.PlateRef); held && idx != i {
				return apperrors.Conflict(apperrors.CodePersistenceConflict,
					fmt.Sprintf("plate %s already holds pod %d", p.PlateRef, nb.Pods.Pods[idx].Position))
			}
		}
		nb.Pods.Pods[i] = p
		putEntity(t, BucketBatches, t.st.batches, p.BatchRef, nb)
		return nil
	}
	return notFound(apperrors.CodeBatchNotFound, "pod", p.ID)
}

func (t *txn) ListBatches(_ context.Context) ([]domain.Batch, error) {
	out := make([]domain.Batch, 0, len(t.st.batches))
	for _, b := range t.st.batches {
		out = append(out, b.Clone())
	}
	sortBatches(out)
	return out, nil
}

func (t *txn) DeleteBatch(_ context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	b, ok := t.st.batches[id]
	if !ok {
		return notFound(apperrors.CodeBatchNotFound, "batch", id)
	}
	for mid, m := range t.st.mappings {
		if m.BatchRef == id {
			del(t, t.st.mappingByDst, m.DestinationRef)
			delEntity(t, BucketMappings, t.st.mappings, mid)
		}
	}
	del(t, t.st.batchByKey, b.BatchID)
	delEntity(t, BucketBatches, t.st.batches, id)
	return nil
}

// Mappings

func (t *txn) InsertMapping(_ context.Context, m domain.Mapping) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if existing, taken := t.st.mappingByDst[m.DestinationRef]; taken {
		prev := t.st.mappings[existing]
		return apperrors.ErrDestinationConflictf(t.label(m.DestinationRef), t.label(prev.ProviderRef))
	}
	putEntity(t, BucketMappings, t.st.mappings, m.ID, m)
	put(t, t.st.mappingByDst, m.DestinationRef, m.ID)
	return nil
}

func (t *txn) UpdateMapping(_ context.Context, m domain.Mapping) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	old, ok := t.st.mappings[m.ID]
	if !ok {
		return notFound(apperrors.CodeMappingNotFound, "mapping", m.ID)
	}
	if old.DestinationRef != m.DestinationRef {
		return apperrors.Invalid(apperrors.CodeInvalidRecord, "mapping destination is immutable")
	}
	putEntity(t, BucketMappings, t.st.mappings, m.ID, m)
	return nil
}

func (t *txn) MappingByDestination(_ context.Context, wellRef string) (domain.Mapping, error) {
	id, ok := t.st.mappingByDst[wellRef]
	if !ok {
		return domain.Mapping{}, notFound(apperrors.CodeMappingNotFound, "mapping into", wellRef)
	}
	return t.st.mappings[id], nil
}

func (t *txn) MappingsByProvider(_ context.Context, wellRef string) ([]domain.Mapping, error) {
	var out []domain.Mapping
	for _, m := range t.st.mappings {
		if m.ProviderRef == wellRef {
			out = append(out, m)
		}
	}
	sortMappings(out)
	return out, nil
}

func (t *txn) MappingsByBatch(_ context.Context, batchRef string) ([]domain.Mapping, error) {
	var out []domain.Mapping
	for _, m := range t.st.mappings {
		if m.BatchRef == batchRef {
			out = append(out, m)
		}
	}
	sortMappings(out)
	return out, nil
}

func (t *txn) PendingVolume(_ context.Context, providerRef string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, m := range t.st.mappings {
		if m.ProviderRef != providerRef || m.IsComplete || !m.Volume.Valid {
			continue
		}
		total = total.Add(m.Volume.Decimal)
	}
	return total, nil
}

func (t *txn) label(wellRef string) string {
	if w, ok := t.st.wells[wellRef]; ok {
		return w.Label()
	}
	return wellRef
}
