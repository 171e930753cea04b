package usecase

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/service"
)

// LoadSamplesUseCase performs the initial sample load: source plates, their
// original wells and the samples in them.
type LoadSamplesUseCase struct {
	deps     Deps
	resolver *service.Resolver
	decoder  domain.Decoder
	runs     *RunRegistry
}

// NewLoadSamplesUseCase creates a new LoadSamplesUseCase. A nil decoder
// keeps every attribute as a string.
func NewLoadSamplesUseCase(deps Deps, decoder domain.Decoder) *LoadSamplesUseCase {
	deps = deps.withDefaults()
	if decoder == nil {
		decoder = domain.StringDecoder
	}
	return &LoadSamplesUseCase{
		deps:     deps,
		resolver: service.NewResolver(deps.Identity),
		decoder:  decoder,
	}
}

// WithRunRegistry makes runs observable by ID (optional dependency).
func (uc *LoadSamplesUseCase) WithRunRegistry(runs *RunRegistry) *LoadSamplesUseCase {
	uc.runs = runs
	return uc
}

// Execute loads every record of load. Each record is its own transaction;
// failures become record errors and loading continues.
func (uc *LoadSamplesUseCase) Execute(ctx context.Context, load domain.SampleLoad) (Report, error) {
	run := newRun(uc.deps.Identity.NewID(), RunKindLoad, len(load.Records)+len(load.Rejected), uc.deps.Identity.Now())
	uc.runs.add(run)
	log := logger.With(zap.String("run_id", run.ID), zap.String("file", load.Name))

	rejected := load.Rejected
	for _, rec := range load.Records {
		for len(rejected) > 0 && rejected[0].Line < rec.Line {
			run.reject(rejected[0])
			rejected = rejected[1:]
		}
		if err := uc.loadRecord(ctx, rec); err != nil {
			re := domain.NewRecordError(rec.File, rec.Line, err)
			log.Info("sample record rejected",
				zap.Int("line", re.Line),
				zap.String("plate_id", rec.PlateID),
				zap.String("code", re.Code),
				zap.String("message", re.Message),
			)
			run.reject(re)
			continue
		}
		run.succeed()
	}
	for _, re := range rejected {
		run.reject(re)
	}

	run.finish(nil, uc.deps.Identity.Now())
	rep := run.Report()
	uc.deps.Events.Emit(ctx, domain.EventSamplesLoaded, domain.AggregateRun, run.ID, domain.RunFinishedPayload{
		RunID:           run.ID,
		Records:         rep.Records,
		Errors:          len(rep.Errors),
		DurationSeconds: rep.Duration.Seconds(),
	})
	log.Info("sample load finished",
		zap.Int("records", rep.Records),
		zap.Int("errors", len(rep.Errors)),
	)
	return rep, nil
}

func (uc *LoadSamplesUseCase) loadRecord(ctx context.Context, rec domain.SampleRecord) error {
	pos, err := domain.SplitWellLabel(rec.Well)
	if err != nil {
		return err
	}
	attrs, err := uc.decode(rec.Attributes)
	if err != nil {
		return err
	}

	return uc.deps.Store.RunInTx(ctx, func(tx repository.Tx) error {
		plate, err := uc.resolver.GetOrCreatePlate(ctx, tx, rec.PlateID, domain.PlateKindSource, false)
		if err != nil {
			return err
		}
		well, err := uc.resolver.CreateWell(ctx, tx, plate, pos, true, domain.WellStatusUsed)
		if err != nil {
			return err
		}
		sample := domain.Sample{
			ID:         uc.deps.Identity.NewID(),
			SampleID:   rec.SampleID,
			Attributes: attrs,
			Volume:     rec.Volume,
			Status:     domain.SampleStatusGood,
			CreatedAt:  uc.deps.Identity.Now(),
		}
		if err := tx.InsertSample(ctx, sample); err != nil {
			return err
		}
		well.SampleRef = sample.ID
		return tx.UpdateWell(ctx, well)
	})
}

// decode types the raw attribute cells. Empty cells are left out.
func (uc *LoadSamplesUseCase) decode(raw map[string]string) (domain.Attributes, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(domain.Attributes, len(raw))
	for _, name := range names {
		cell := raw[name]
		if cell == "" {
			continue
		}
		v, err := uc.decoder.Decode(name, cell)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrInvalid, apperrors.CodeInvalidAttribute, err.Error()).
				WithParams(map[string]interface{}{"attribute": name})
		}
		out[name] = v
	}
	return out, nil
}
