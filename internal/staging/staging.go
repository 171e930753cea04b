// Package staging keeps uploaded transfer files until they are ingested.
//
// Files are addressed by name. Staging the same name twice replaces the
// earlier content. Drivers: fs (default), memory (tests) and s3 (any
// S3-compatible object store, including MinIO).
//
// Import Path: samasy.io/samasy/internal/staging
package staging

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	apperrors "samasy.io/samasy/internal/pkg/errors"
)

// Driver identifies a staging backend.
type Driver string

const (
	DriverFilesystem Driver = "fs"
	DriverMemory     Driver = "memory"
	DriverS3         Driver = "s3"
)

// Info describes a staged file.
type Info struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
}

// Store holds staged files.
type Store interface {
	Put(ctx context.Context, name string, r io.Reader) (Info, error)
	// Get fails with STAGED_FILE_NOT_FOUND when name is unknown.
	Get(ctx context.Context, name string) (io.ReadCloser, error)
	// List returns staged files ordered by name.
	List(ctx context.Context) ([]Info, error)
	// Delete reports whether a file was removed.
	Delete(ctx context.Context, name string) (bool, error)
	Driver() Driver
}

// Config selects and configures a driver.
type Config struct {
	Driver string
	Dir    string
	S3     S3Config
}

// Open builds the configured Store.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(strings.TrimSpace(cfg.Driver))) {
	case "", DriverFilesystem:
		return NewFSStore(cfg.Dir)
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverS3:
		return NewS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown staging driver %q", cfg.Driver)
	}
}

// Reset deletes every staged file and returns how many were removed.
func Reset(ctx context.Context, s Store) (int, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list staged files: %w", err)
	}
	removed := 0
	for _, info := range infos {
		ok, err := s.Delete(ctx, info.Name)
		if err != nil {
			return removed, fmt.Errorf("delete staged file %s: %w", info.Name, err)
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// cleanName rejects names that could escape the staging root.
func cleanName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", apperrors.Invalid(apperrors.CodeInvalidRecord, "staged file name is empty")
	}
	if strings.Contains(trimmed, "..") || strings.HasPrefix(trimmed, "/") || strings.ContainsAny(trimmed, `\`) {
		return "", apperrors.Invalid(apperrors.CodeInvalidRecord, fmt.Sprintf("invalid staged file name %q", name))
	}
	return path.Clean(trimmed), nil
}

func notFound(name string) error {
	return apperrors.NotFound(apperrors.CodeStagedFileNotFound, fmt.Sprintf("staged file %s not found", name)).
		WithParams(map[string]interface{}{"name": name})
}
