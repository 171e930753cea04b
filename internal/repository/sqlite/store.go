// Package sqlite persists the in-memory entity arena to a single SQLite file.
//
// Every entity is one JSON row keyed by bucket and row ID. After each
// transaction only the rows it wrote are upserted or deleted; the write
// happens before the transaction is released, so a failed write rolls the
// in-memory change back as well.
//
// Import Path: samasy.io/samasy/internal/repository/sqlite
package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/repository/memory"
)

// DefaultPath is used when no path is configured.
const DefaultPath = "samasy.db"

// Store is a snapshotting SQLite-backed repository.Store.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string
}

var _ repository.Store = (*Store)(nil)

// Open opens (or creates) the database at path and loads its state.
func Open(path string) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Snapshots are written under the arena lock; one connection is enough.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entities (
		bucket TEXT NOT NULL,
		id TEXT NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (bucket, id)
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create entities table: %w", err)
	}

	s := &Store{db: db, path: path}
	s.Store = memory.New(memory.WithCommitHook(s.persist))
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	rows, err := s.db.Query(`SELECT bucket, payload FROM entities ORDER BY bucket, id`)
	if err != nil {
		return fmt.Errorf("select entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snap memory.Snapshot
	found := false
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := appendRow(&snap, memory.Bucket(bucket), payload); err != nil {
			return err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entities: %w", err)
	}
	if !found {
		return nil
	}
	if err := s.Import(snap); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	return nil
}

func appendRow(snap *memory.Snapshot, bucket memory.Bucket, payload []byte) error {
	var err error
	switch bucket {
	case memory.BucketPlates:
		snap.Plates, err = decodeInto(snap.Plates, payload)
	case memory.BucketWells:
		snap.Wells, err = decodeInto(snap.Wells, payload)
	case memory.BucketSamples:
		snap.Samples, err = decodeInto(snap.Samples, payload)
	case memory.BucketBatches:
		snap.Batches, err = decodeInto(snap.Batches, payload)
	case memory.BucketMappings:
		snap.Mappings, err = decodeInto(snap.Mappings, payload)
	default:
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", bucket, err)
	}
	return nil
}

func decodeInto[V any](out []V, payload []byte) ([]V, error) {
	var v V
	if err := json.Unmarshal(payload, &v); err != nil {
		return out, err
	}
	return append(out, v), nil
}

func (s *Store) persist(c memory.Change) (retErr error) {
	if c.Empty() {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()

	upsert, err := tx.Prepare(`INSERT INTO entities(bucket,id,payload) VALUES(?,?,?) ON CONFLICT(bucket,id) DO UPDATE SET payload=excluded.payload`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer func() { _ = upsert.Close() }()
	put := func(bucket memory.Bucket, id string, v interface{}) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", bucket, id, err)
		}
		if _, err := upsert.Exec(string(bucket), id, data); err != nil {
			return fmt.Errorf("upsert %s %s: %w", bucket, id, err)
		}
		return nil
	}
	for _, p := range c.Plates {
		if err := put(memory.BucketPlates, p.ID, p); err != nil {
			return err
		}
	}
	for _, w := range c.Wells {
		if err := put(memory.BucketWells, w.ID, w); err != nil {
			return err
		}
	}
	for _, smp := range c.Samples {
		if err := put(memory.BucketSamples, smp.ID, smp); err != nil {
			return err
		}
	}
	for _, b := range c.Batches {
		if err := put(memory.BucketBatches, b.ID, b); err != nil {
			return err
		}
	}
	for _, m := range c.Mappings {
		if err := put(memory.BucketMappings, m.ID, m); err != nil {
			return err
		}
	}

	for _, bucket := range memory.Buckets {
		for _, id := range c.Deleted[bucket] {
			if _, err := tx.Exec(`DELETE FROM entities WHERE bucket = ? AND id = ?`, string(bucket), id); err != nil {
				return fmt.Errorf("delete %s %s: %w", bucket, id, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying sql.DB for tests.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.path }
