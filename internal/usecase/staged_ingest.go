package usecase

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/staging"
	"samasy.io/samasy/internal/transferfile"
)

// StagedIngestUseCase ingests transfer files kept in the staging store.
type StagedIngestUseCase struct {
	staged staging.Store
	ingest *IngestBatchUseCase
}

// NewStagedIngestUseCase creates a new StagedIngestUseCase.
func NewStagedIngestUseCase(staged staging.Store, ingest *IngestBatchUseCase) *StagedIngestUseCase {
	return &StagedIngestUseCase{staged: staged, ingest: ingest}
}

// Stage stores a transfer file under name after checking its header. A file
// with a bad header is refused with MISSING_HEADER and nothing is stored.
func (uc *StagedIngestUseCase) Stage(ctx context.Context, name string, r io.Reader) (staging.Info, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return staging.Info{}, fmt.Errorf("read %s: %w", name, err)
	}
	if _, err := transferfile.ReadTransfers(bytes.NewReader(data), transferfile.FileLabel(name)); err != nil {
		return staging.Info{}, err
	}
	info, err := uc.staged.Put(ctx, name, bytes.NewReader(data))
	if err != nil {
		return staging.Info{}, err
	}
	logger.Info("transfer file staged",
		zap.String("file", info.Name),
		zap.Int64("size_bytes", info.Size),
		zap.String("driver", string(uc.staged.Driver())),
	)
	return info, nil
}

// Request parses the named staged files into an IngestRequest, in the given
// order. No names means every staged file, ordered by name.
func (uc *StagedIngestUseCase) Request(ctx context.Context, names []string) (IngestRequest, error) {
	if len(names) == 0 {
		infos, err := uc.staged.List(ctx)
		if err != nil {
			return IngestRequest{}, err
		}
		for _, info := range infos {
			names = append(names, info.Name)
		}
	}
	req := IngestRequest{Files: make([]domain.TransferFile, 0, len(names))}
	for _, name := range names {
		f, err := uc.read(ctx, name)
		if err != nil {
			return IngestRequest{}, err
		}
		req.Files = append(req.Files, f)
	}
	return req, nil
}

func (uc *StagedIngestUseCase) read(ctx context.Context, name string) (domain.TransferFile, error) {
	rc, err := uc.staged.Get(ctx, name)
	if err != nil {
		return domain.TransferFile{}, err
	}
	defer rc.Close()
	return transferfile.ReadTransfers(rc, transferfile.FileLabel(name))
}

// Execute ingests the named staged files (all of them when names is empty)
// as one run. With reset the staging store is emptied afterwards.
func (uc *StagedIngestUseCase) Execute(ctx context.Context, names []string, reset bool) (Report, error) {
	req, err := uc.Request(ctx, names)
	if err != nil {
		return Report{}, err
	}
	rep, err := uc.ingest.Execute(ctx, req)
	if err != nil {
		return rep, err
	}
	if reset {
		if _, err := uc.Reset(ctx); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// Start is Execute on the ingest worker pool. Staged files are parsed before
// it returns so header errors surface to the caller.
func (uc *StagedIngestUseCase) Start(ctx context.Context, names []string) (*Run, error) {
	req, err := uc.Request(ctx, names)
	if err != nil {
		return nil, err
	}
	return uc.ingest.Start(ctx, req)
}

// Reset deletes every staged file.
func (uc *StagedIngestUseCase) Reset(ctx context.Context) (int, error) {
	n, err := staging.Reset(ctx, uc.staged)
	if err != nil {
		return n, err
	}
	logger.Info("staging reset", zap.Int("files", n))
	return n, nil
}
