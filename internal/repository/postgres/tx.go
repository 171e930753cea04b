package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
)

type txn struct {
	tx pgx.Tx
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func volumeArg(v decimal.NullDecimal) any {
	if !v.Valid {
		return nil
	}
	return v.Decimal.String()
}

func parseVolume(raw *string) (decimal.NullDecimal, error) {
	if raw == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("parse volume %q: %w", *raw, err)
	}
	return domain.KnownVolume(d), nil
}

func notFound(code, what, id string) error {
	return apperrors.NotFound(code, fmt.Sprintf("%s %s not found", what, id))
}

// Plates

const plateColumns = `id, plate_id, kind, batch_created, created_at`

func scanPlate(row rowScanner) (domain.Plate, error) {
	var p domain.Plate
	var kind string
	if err := row.Scan(&p.ID, &p.PlateID, &kind, &p.BatchCreated, &p.CreatedAt); err != nil {
		return domain.Plate{}, err
	}
	p.Kind = domain.PlateKind(kind)
	return p, nil
}

func (t *txn) PlateByKey(ctx context.Context, plateID string) (domain.Plate, error) {
	p, err := scanPlate(t.tx.QueryRow(ctx, `SELECT `+plateColumns+` FROM plates WHERE plate_id = $1`, plateID))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Plate{}, apperrors.ErrPlateNotFoundf(plateID)
	}
	if err != nil {
		return domain.Plate{}, fmt.Errorf("select plate %s: %w", plateID, err)
	}
	return p, nil
}

func (t *txn) PlateByID(ctx context.Context, id string) (domain.Plate, error) {
	p, err := scanPlate(t.tx.QueryRow(ctx, `SELECT `+plateColumns+` FROM plates WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Plate{}, notFound(apperrors.CodePlateNotFound, "plate", id)
	}
	if err != nil {
		return domain.Plate{}, fmt.Errorf("select plate row %s: %w", id, err)
	}
	return p, nil
}

func (t *txn) InsertPlate(ctx context.Context, p domain.Plate) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO plates (id, plate_id, kind, batch_created, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (plate_id) DO NOTHING`,
		p.ID, p.PlateID, string(p.Kind), p.BatchCreated, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert plate %s: %w", p.PlateID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.AlreadyExists(apperrors.CodePlateExists, fmt.Sprintf("plate %s already exists", p.PlateID))
	}
	return nil
}

func (t *txn) UpdatePlate(ctx context.Context, p domain.Plate) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE plates SET kind = $2, batch_created = $3 WHERE id = $1 AND plate_id = $4`,
		p.ID, string(p.Kind), p.BatchCreated, p.PlateID)
	if err != nil {
		return fmt.Errorf("update plate %s: %w", p.PlateID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(apperrors.CodePlateNotFound, "plate", p.ID)
	}
	return nil
}

func (t *txn) ListPlates(ctx context.Context) ([]domain.Plate, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+plateColumns+` FROM plates ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list plates: %w", err)
	}
	defer rows.Close()
	var out []domain.Plate
	for rows.Next() {
		p, err := scanPlate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plate: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (t *txn) DeletePlate(ctx context.Context, id string) error {
	var sampleRefs []string
	rows, err := t.tx.Query(ctx, `SELECT sample_ref FROM wells WHERE plate_ref = $1 AND sample_ref IS NOT NULL`, id)
	if err != nil {
		return fmt.Errorf("select plate samples: %w", err)
	}
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			rows.Close()
			return fmt.Errorf("scan sample ref: %w", err)
		}
		sampleRefs = append(sampleRefs, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate plate samples: %w", err)
	}

	// Wells, their mappings and pod assignments follow through foreign keys.
	tag, err := t.tx.Exec(ctx, `DELETE FROM plates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plate %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(apperrors.CodePlateNotFound, "plate", id)
	}
	if len(sampleRefs) > 0 {
		if _, err := t.tx.Exec(ctx, `DELETE FROM samples WHERE id = ANY($1)`, sampleRefs); err != nil {
			return fmt.Errorf("delete plate samples: %w", err)
		}
	}
	return nil
}

// Wells

const wellSelect = `SELECT w.id, w.plate_ref, p.plate_id, w.row_label, w.col, w.is_original, w.status, w.sample_ref
	FROM wells w JOIN plates p ON p.id = w.plate_ref`

func scanWell(row rowScanner) (domain.Well, error) {
	var w domain.Well
	var status string
	var sampleRef *string
	if err := row.Scan(&w.ID, &w.PlateRef, &w.PlateID, &w.Position.Row, &w.Position.Col, &w.IsOriginal, &status, &sampleRef); err != nil {
		return domain.Well{}, err
	}
	w.Status = domain.WellStatus(status)
	if sampleRef != nil {
		w.SampleRef = *sampleRef
	}
	return w, nil
}

func (t *txn) WellByID(ctx context.Context, id string) (domain.Well, error) {
	w, err := scanWell(t.tx.QueryRow(ctx, wellSelect+` WHERE w.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Well{}, notFound(apperrors.CodeWellNotFound, "well", id)
	}
	if err != nil {
		return domain.Well{}, fmt.Errorf("select well %s: %w", id, err)
	}
	return w, nil
}

func (t *txn) WellAt(ctx context.Context, plateRef string, pos domain.Position) (domain.Well, error) {
	w, err := scanWell(t.tx.QueryRow(ctx, wellSelect+` WHERE w.plate_ref = $1 AND w.row_label = $2 AND w.col = $3`,
		plateRef, pos.Row, pos.Col))
	if errors.Is(err, pgx.ErrNoRows) {
		plateID := plateRef
		if p, perr := t.PlateByID(ctx, plateRef); perr == nil {
			plateID = p.PlateID
		}
		return domain.Well{}, apperrors.ErrWellNotFoundf(plateID, pos.Label())
	}
	if err != nil {
		return domain.Well{}, fmt.Errorf("select well %s: %w", pos.Label(), err)
	}
	return w, nil
}

func (t *txn) WellsOnPlate(ctx context.Context, plateRef string) ([]domain.Well, error) {
	rows, err := t.tx.Query(ctx, wellSelect+` WHERE w.plate_ref = $1 ORDER BY w.row_label, w.col`, plateRef)
	if err != nil {
		return nil, fmt.Errorf("list wells: %w", err)
	}
	defer rows.Close()
	var out []domain.Well
	for rows.Next() {
		w, err := scanWell(rows)
		if err != nil {
			return nil, fmt.Errorf("scan well: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (t *txn) InsertWell(ctx context.Context, w domain.Well) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO wells (id, plate_ref, row_label, col, is_original, status, sample_ref)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (plate_ref, row_label, col) DO NOTHING`,
		w.ID, w.PlateRef, w.Position.Row, w.Position.Col, w.IsOriginal, string(w.Status), nullIfEmpty(w.SampleRef))
	if err != nil {
		return fmt.Errorf("insert well %s: %w", w.Label(), err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrDuplicateWellf(w.PlateID, w.Position.Label())
	}
	return nil
}

func (t *txn) UpdateWell(ctx context.Context, w domain.Well) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE wells SET is_original = $2, status = $3, sample_ref = $4
		 WHERE id = $1 AND plate_ref = $5 AND row_label = $6 AND col = $7`,
		w.ID, w.IsOriginal, string(w.Status), nullIfEmpty(w.SampleRef), w.PlateRef, w.Position.Row, w.Position.Col)
	if err != nil {
		return fmt.Errorf("update well %s: %w", w.Label(), err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(apperrors.CodeWellNotFound, "well", w.ID)
	}
	return nil
}

func (t *txn) LockWell(ctx context.Context, id string) error {
	var locked string
	err := t.tx.QueryRow(ctx, `SELECT id FROM wells WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(apperrors.CodeWellNotFound, "well", id)
	}
	if err != nil {
		return fmt.Errorf("lock well %s: %w", id, err)
	}
	return nil
}

// Samples

func (t *txn) SampleByID(ctx context.Context, id string) (domain.Sample, error) {
	var s domain.Sample
	var attrs []byte
	var volume *string
	var status string
	err := t.tx.QueryRow(ctx,
		`SELECT id, sample_id, attributes, volume::text, status, created_at FROM samples WHERE id = $1`, id).
		Scan(&s.ID, &s.SampleID, &attrs, &volume, &status, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Sample{}, notFound(apperrors.CodeSampleNotFound, "sample", id)
	}
	if err != nil {
		return domain.Sample{}, fmt.Errorf("select sample %s: %w", id, err)
	}
	s.Status = domain.SampleStatus(status)
	if len(attrs) > 0 {
		if err := json.Unmarshal(attrs, &s.Attributes); err != nil {
			return domain.Sample{}, fmt.Errorf("decode attributes of sample %s: %w", id, err)
		}
	}
	if s.Volume, err = parseVolume(volume); err != nil {
		return domain.Sample{}, err
	}
	return s, nil
}

func encodeAttributes(a domain.Attributes) ([]byte, error) {
	if a == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(a)
}

func (t *txn) InsertSample(ctx context.Context, s domain.Sample) error {
	attrs, err := encodeAttributes(s.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	if _, err := t.tx.Exec(ctx,
		`INSERT INTO samples (id, sample_id, attributes, volume, status, created_at)
		 VALUES ($1, $2, $3, $4::numeric, $5, $6)`,
		s.ID, s.SampleID, attrs, volumeArg(s.Volume), string(s.Status), s.CreatedAt); err != nil {
		return fmt.Errorf("insert sample %s: %w", s.SampleID, err)
	}
	return nil
}

func (t *txn) UpdateSample(ctx context.Context, s domain.Sample) error {
	attrs, err := encodeAttributes(s.Attributes)
	if err != nil {
		return fmt.Errorf("encode attributes: %w", err)
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE samples SET sample_id = $2, attributes = $3, volume = $4::numeric, status = $5 WHERE id = $1`,
		s.ID, s.SampleID, attrs, volumeArg(s.Volume), string(s.Status))
	if err != nil {
		return fmt.Errorf("update sample %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(apperrors.CodeSampleNotFound, "sample", s.ID)
	}
	return nil
}

// Batches

func (t *txn) loadPods(ctx context.Context, batchRef string) (domain.PodPool, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT id, batch_ref, position, kind, plate_ref FROM pods WHERE batch_ref = $1 ORDER BY position`, batchRef)
	if err != nil {
		return domain.PodPool{}, fmt.Errorf("select pods: %w", err)
	}
	defer rows.Close()
	var pool domain.PodPool
	for rows.Next() {
		var p domain.Pod
		var kind string
		var plateRef *string
		if err := rows.Scan(&p.ID, &p.BatchRef, &p.Position, &kind, &plateRef); err != nil {
			return domain.PodPool{}, fmt.Errorf("scan pod: %w", err)
		}
		p.Kind = domain.PlateKind(kind)
		if plateRef != nil {
			p.PlateRef = *plateRef
		}
		pool.Pods = append(pool.Pods, p)
	}
	return pool, rows.Err()
}

func (t *txn) batchWhere(ctx context.Context, where string, arg string) (domain.Batch, error) {
	var b domain.Batch
	if err := t.tx.QueryRow(ctx, `SELECT id, batch_id, is_complete, created_at FROM batches WHERE `+where, arg).
		Scan(&b.ID, &b.BatchID, &b.IsComplete, &b.CreatedAt); err != nil {
		return domain.Batch{}, err
	}
	pods, err := t.loadPods(ctx, b.ID)
	if err != nil {
		return domain.Batch{}, err
	}
	b.Pods = pods
	return b, nil
}

func (t *txn) BatchByKey(ctx context.Context, batchID string) (domain.Batch, error) {
	b, err := t.batchWhere(ctx, `batch_id = $1`, batchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, apperrors.ErrBatchNotFoundf(batchID)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("select batch %s: %w", batchID, err)
	}
	return b, nil
}

func (t *txn) BatchByID(ctx context.Context, id string) (domain.Batch, error) {
	b, err := t.batchWhere(ctx, `id = $1`, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Batch{}, notFound(apperrors.CodeBatchNotFound, "batch", id)
	}
	if err != nil {
		return domain.Batch{}, fmt.Errorf("select batch row %s: %w", id, err)
	}
	return b, nil
}

func (t *txn) InsertBatch(ctx context.Context, b domain.Batch) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO batches (id, batch_id, is_complete, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (batch_id) DO NOTHING`,
		b.ID, b.BatchID, b.IsComplete, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert batch %s: %w", b.BatchID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.AlreadyExists(apperrors.CodeBatchExists, fmt.Sprintf("batch %s already exists", b.BatchID))
	}

	batch := &pgx.Batch{}
	for _, p := range b.Pods.Pods {
		batch.Queue(`INSERT INTO pods (id, batch_ref, position, kind, plate_ref) VALUES ($1, $2, $3, $4, $5)`,
			p.ID, b.ID, p.Position, string(p.Kind), nullIfEmpty(p.PlateRef))
	}
	if err := t.tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert pods of batch %s: %w", b.BatchID, err)
	}
	return nil
}

func (t *txn) UpdateBatch(ctx context.Context, b domain.Batch) error {
	tag, err := t.tx.Exec(ctx, `UPDATE batches SET is_complete = $2 WHERE id = $1`, b.ID, b.IsComplete)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", b.BatchID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(apperrors.CodeBatchNotFound, "batch", b.ID)
	}
	return nil
}

func (t *txn) UpdatePod(ctx context.Context, p domain.Pod) error {
	if p.PlateRef != "" {
		var position int
		err := t.tx.QueryRow(ctx,
			`SELECT position FROM pods WHERE batch_ref = $1 AND plate_ref = $2 AND id <> $3`,
			p.BatchRef, p.PlateRef, p.ID).Scan(&position)
		if err == nil {
			return apperrors.Conflict(apperrors.CodePersistenceConflict,
				fmt.Sprintf("plate %s already holds pod %d", p.PlateRef, position))
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("check pod holder: %w", err)
		}
	}
	tag, err := t.tx.Exec(ctx,
		`UPDATE pods SET kind = $3, plate_ref = $4 WHERE id = $1 AND batch_ref = $2 AND position = $5`,
		p.ID, p.BatchRef, string(p.Kind), nullIfEmpty(p.PlateRef), p.Position)
	if err != nil {
		return fmt.Errorf("update pod %d: %w", p.Position, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(apperrors.CodeBatchNotFound, "pod", p.ID)
	}
	return nil
}

func (t *txn) ListBatches(ctx context.Context) ([]domain.Batch, error) {
	rows, err := t.tx.Query(ctx, `SELECT id, batch_id, is_complete, created_at FROM batches ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	var out []domain.Batch
	for rows.Next() {
		var b domain.Batch
		if err := rows.Scan(&b.ID, &b.BatchID, &b.IsComplete, &b.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		out = append(out, b)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	for i := range out {
		pods, err := t.loadPods(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Pods = pods
	}
	return out, nil
}

func (t *txn) DeleteBatch(ctx context.Context, id string) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM batches WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete batch %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(apperrors.CodeBatchNotFound, "batch", id)
	}
	return nil
}

// Mappings

const mappingColumns = `id, provider_ref, destination_ref, batch_ref, volume::text, is_complete, created_at`

func scanMapping(row rowScanner) (domain.Mapping, error) {
	var m domain.Mapping
	var batchRef, volume *string
	if err := row.Scan(&m.ID, &m.ProviderRef, &m.DestinationRef, &batchRef, &volume, &m.IsComplete, &m.CreatedAt); err != nil {
		return domain.Mapping{}, err
	}
	if batchRef != nil {
		m.BatchRef = *batchRef
	}
	v, err := parseVolume(volume)
	if err != nil {
		return domain.Mapping{}, err
	}
	m.Volume = v
	return m, nil
}

func (t *txn) queryMappings(ctx context.Context, where string, arg string) ([]domain.Mapping, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE `+where+` ORDER BY created_at, id`, arg)
	if err != nil {
		return nil, fmt.Errorf("select mappings: %w", err)
	}
	defer rows.Close()
	var out []domain.Mapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (t *txn) wellLabel(ctx context.Context, id string) string {
	if w, err := t.WellByID(ctx, id); err == nil {
		return w.Label()
	}
	return id
}

func (t *txn) InsertMapping(ctx context.Context, m domain.Mapping) error {
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO mappings (id, provider_ref, destination_ref, batch_ref, volume, is_complete, created_at)
		 VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
		 ON CONFLICT (destination_ref) DO NOTHING`,
		m.ID, m.ProviderRef, m.DestinationRef, nullIfEmpty(m.BatchRef), volumeArg(m.Volume), m.IsComplete, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		prev, err := t.MappingByDestination(ctx, m.DestinationRef)
		if err != nil {
			return err
		}
		return apperrors.ErrDestinationConflictf(t.wellLabel(ctx, m.DestinationRef), t.wellLabel(ctx, prev.ProviderRef))
	}
	return nil
}

func (t *txn) UpdateMapping(ctx context.Context, m domain.Mapping) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE mappings SET volume = $2::numeric, is_complete = $3 WHERE id = $1 AND destination_ref = $4`,
		m.ID, volumeArg(m.Volume), m.IsComplete, m.DestinationRef)
	if err != nil {
		return fmt.Errorf("update mapping %s: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(apperrors.CodeMappingNotFound, "mapping", m.ID)
	}
	return nil
}

func (t *txn) MappingByDestination(ctx context.Context, wellRef string) (domain.Mapping, error) {
	m, err := scanMapping(t.tx.QueryRow(ctx, `SELECT `+mappingColumns+` FROM mappings WHERE destination_ref = $1`, wellRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Mapping{}, notFound(apperrors.CodeMappingNotFound, "mapping into", wellRef)
	}
	if err != nil {
		return domain.Mapping{}, fmt.Errorf("select mapping into %s: %w", wellRef, err)
	}
	return m, nil
}

func (t *txn) MappingsByProvider(ctx context.Context, wellRef string) ([]domain.Mapping, error) {
	return t.queryMappings(ctx, `provider_ref = $1`, wellRef)
}

func (t *txn) MappingsByBatch(ctx context.Context, batchRef string) ([]domain.Mapping, error) {
	return t.queryMappings(ctx, `batch_ref = $1`, batchRef)
}

func (t *txn) PendingVolume(ctx context.Context, providerRef string) (decimal.Decimal, error) {
	var raw string
	if err := t.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(volume), 0)::text FROM mappings WHERE provider_ref = $1 AND NOT is_complete`,
		providerRef).Scan(&raw); err != nil {
		return decimal.Zero, fmt.Errorf("sum pending volume: %w", err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse pending volume %q: %w", raw, err)
	}
	return d, nil
}
