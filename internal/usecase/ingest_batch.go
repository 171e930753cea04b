package usecase

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/lock"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/pkg/worker"
	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/service"
)

// IngestRequest is a set of parsed transfer files processed as one run.
type IngestRequest struct {
	Files []domain.TransferFile `json:"files"`
}

// Total counts the records of the request, parser rejects included.
func (r IngestRequest) Total() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Records) + len(f.Rejected)
	}
	return n
}

// BatchIDs returns the distinct batch IDs named by the request, sorted.
func (r IngestRequest) BatchIDs() []string {
	seen := map[string]struct{}{}
	for _, f := range r.Files {
		for _, rec := range f.Records {
			seen[rec.BatchID] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IngestBatchUseCase drives transfer records through entity resolution, pod
// allocation and admission.
type IngestBatchUseCase struct {
	deps      Deps
	resolver  *service.Resolver
	admission *service.Admission
	runs      *RunRegistry
	pools     *worker.Pools
}

// NewIngestBatchUseCase creates a new IngestBatchUseCase.
func NewIngestBatchUseCase(deps Deps) *IngestBatchUseCase {
	deps = deps.withDefaults()
	return &IngestBatchUseCase{
		deps:      deps,
		resolver:  service.NewResolver(deps.Identity),
		admission: service.NewAdmission(deps.Identity),
	}
}

// WithRunRegistry makes runs observable by ID (optional dependency).
func (uc *IngestBatchUseCase) WithRunRegistry(runs *RunRegistry) *IngestBatchUseCase {
	uc.runs = runs
	return uc
}

// WithPools sets the worker pools used by Start (optional dependency).
func (uc *IngestBatchUseCase) WithPools(pools *worker.Pools) *IngestBatchUseCase {
	uc.pools = pools
	return uc
}

// Execute ingests req synchronously.
//
// Record failures are collected in the report and never abort the run. The
// returned error is reserved for failures of the run itself, such as a
// batch lock that could not be taken.
func (uc *IngestBatchUseCase) Execute(ctx context.Context, req IngestRequest) (Report, error) {
	run := uc.newRun(req)
	uc.execute(ctx, run, req)
	return run.Report(), run.Err()
}

// Start ingests req on the ingest worker pool and returns the run handle
// immediately. The run is detached from ctx: it survives the caller and
// stops only with the service.
func (uc *IngestBatchUseCase) Start(_ context.Context, req IngestRequest) (*Run, error) {
	if uc.pools == nil {
		return nil, apperrors.Internal(apperrors.CodeInternal, "asynchronous ingestion needs worker pools")
	}
	run := uc.newRun(req)
	err := uc.pools.SubmitDetached(worker.PoolIngest, func(ctx context.Context) {
		uc.execute(ctx, run, req)
	})
	if err != nil {
		run.finish(err, uc.deps.Identity.Now())
		return nil, fmt.Errorf("submit ingest run: %w", err)
	}
	return run, nil
}

func (uc *IngestBatchUseCase) newRun(req IngestRequest) *Run {
	run := newRun(uc.deps.Identity.NewID(), RunKindIngest, req.Total(), uc.deps.Identity.Now())
	uc.runs.add(run)
	return run
}

func (uc *IngestBatchUseCase) execute(ctx context.Context, run *Run, req IngestRequest) {
	log := logger.With(zap.String("run_id", run.ID))
	batchIDs := req.BatchIDs()

	unlock, err := lock.LockAll(ctx, uc.deps.Locker, batchIDs)
	if err != nil {
		log.Warn("ingest run could not lock its batches",
			zap.Strings("batch_ids", batchIDs),
			zap.String("code", apperrors.CodeOf(err)),
			zap.Error(err),
		)
		uc.finish(ctx, run, err)
		return
	}
	defer unlock()

	log.Info("ingest run started",
		zap.Int("files", len(req.Files)),
		zap.Int("records", run.Total()),
		zap.Strings("batch_ids", batchIDs),
	)
	for _, file := range req.Files {
		uc.ingestFile(ctx, log, run, file)
	}
	uc.finish(ctx, run, nil)
}

// ingestFile processes records and parser rejects in file line order.
func (uc *IngestBatchUseCase) ingestFile(ctx context.Context, log *zap.Logger, run *Run, file domain.TransferFile) {
	rejected := file.Rejected
	for _, rec := range file.Records {
		for len(rejected) > 0 && rejected[0].Line < rec.Line {
			uc.reject(ctx, log, run, "", rejected[0])
			rejected = rejected[1:]
		}
		if err := uc.ingestRecord(ctx, rec); err != nil {
			uc.reject(ctx, log, run, rec.BatchID, domain.NewRecordError(rec.File, rec.Line, err))
			continue
		}
		run.succeed()
	}
	for _, re := range rejected {
		uc.reject(ctx, log, run, "", re)
	}
}

func (uc *IngestBatchUseCase) reject(ctx context.Context, log *zap.Logger, run *Run, batchID string, re domain.RecordError) {
	log.Info("record rejected",
		zap.String("batch_id", batchID),
		zap.String("file", re.File),
		zap.Int("line", re.Line),
		zap.String("code", re.Code),
		zap.String("message", re.Message),
	)
	run.reject(re)
	uc.deps.Events.Emit(ctx, domain.EventRecordRejected, domain.AggregateRun, run.ID, domain.RecordRejectedPayload{
		BatchID: batchID,
		File:    re.File,
		Line:    re.Line,
		Code:    re.Code,
	})
}

func (uc *IngestBatchUseCase) finish(ctx context.Context, run *Run, err error) {
	run.finish(err, uc.deps.Identity.Now())
	rep := run.Report()
	uc.deps.Events.Emit(ctx, domain.EventIngestFinished, domain.AggregateRun, run.ID, domain.RunFinishedPayload{
		RunID:           run.ID,
		Records:         rep.Records,
		Errors:          len(rep.Errors),
		DurationSeconds: rep.Duration.Seconds(),
	})
	logger.Info("ingest run finished",
		zap.String("run_id", run.ID),
		zap.Int("records", rep.Records),
		zap.Int("errors", len(rep.Errors)),
		zap.Duration("duration", rep.Duration),
	)
}

// ingestRecord admits one transfer. The batch is created in its own
// transaction; everything else happens in a second one, so a failing record
// leaves no pods, wells or plates behind.
func (uc *IngestBatchUseCase) ingestRecord(ctx context.Context, rec domain.TransferRecord) error {
	if err := uc.ensureBatch(ctx, rec.BatchID); err != nil {
		return err
	}

	var events []func()
	err := uc.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		events = events[:0]
		batch, err := tx.BatchByKey(ctx, rec.BatchID)
		if err != nil {
			return err
		}
		if batch.IsComplete {
			return apperrors.ErrAlreadyCompletef(batch.BatchID)
		}

		srcPlate, srcWell, err := uc.resolver.ResolveSource(ctx, tx, rec.SourcePlate, rec.SourceWell)
		if err != nil {
			return err
		}
		destPos, err := domain.SplitWellLabel(rec.DestWell)
		if err != nil {
			return err
		}
		destPlate, err := uc.resolver.GetOrCreatePlate(ctx, tx, rec.DestPlate, domain.PlateKindDestination, true)
		if err != nil {
			return err
		}

		for _, p := range []domain.Plate{destPlate, srcPlate} {
			a, err := service.EnsurePodFor(&batch, p)
			if err != nil {
				return err
			}
			if !a.Changed() {
				continue
			}
			if err := tx.UpdatePod(ctx, a.Pod); err != nil {
				return err
			}
			if a.Retyped {
				payload := domain.PodRetypedPayload{
					BatchID:  batch.BatchID,
					Position: a.Pod.Position,
					From:     a.PreviousKind,
					To:       a.Pod.Kind,
					PlateID:  p.PlateID,
				}
				events = append(events, func() {
					uc.deps.Events.Emit(ctx, domain.EventPodRetyped, domain.AggregateBatch, batch.BatchID, payload)
				})
			}
		}

		destWell, err := uc.resolver.GetOrCreateWell(ctx, tx, destPlate, destPos, false)
		if err != nil {
			return err
		}
		m, err := uc.admission.Admit(ctx, tx, batch, srcWell, destWell, rec.Volume)
		if err != nil {
			return err
		}
		payload := domain.MappingAdmittedPayload{
			BatchID:     batch.BatchID,
			Provider:    srcWell.Label(),
			Destination: destWell.Label(),
			Volume:      domain.FormatVolume(m.Volume),
		}
		events = append(events, func() {
			uc.deps.Events.Emit(ctx, domain.EventMappingAdmitted, domain.AggregateBatch, batch.BatchID, payload)
		})
		return nil
	})
	if err != nil {
		return err
	}
	for _, emit := range events {
		emit()
	}
	return nil
}

func (uc *IngestBatchUseCase) ensureBatch(ctx context.Context, batchID string) error {
	var (
		batch   domain.Batch
		created bool
	)
	err := uc.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		var err error
		batch, created, err = uc.resolver.GetOrCreateBatch(ctx, tx, batchID)
		return err
	})
	if err != nil {
		return err
	}
	if created {
		logger.Info("batch created", zap.String("batch_id", batch.BatchID))
		uc.deps.Events.Emit(ctx, domain.EventBatchCreated, domain.AggregateBatch, batch.BatchID, domain.BatchCreatedPayload{
			BatchID: batch.BatchID,
			Pods:    len(batch.Pods.Pods),
		})
	}
	return nil
}
