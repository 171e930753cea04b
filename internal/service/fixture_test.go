package service

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/repository"
	"samasy.io/samasy/internal/repository/memory"
)

var testEpoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

// seqIdentity hands out "id-1", "id-2", ... and a clock that ticks one
// second per call.
func seqIdentity() Identity {
	var n, tick atomic.Int64
	return Identity{
		NewID: func() string { return fmt.Sprintf("id-%d", n.Add(1)) },
		Now:   func() time.Time { return testEpoch.Add(time.Duration(tick.Add(1)) * time.Second) },
	}
}

func vol(s string) decimal.NullDecimal {
	if s == "" {
		return decimal.NullDecimal{}
	}
	return domain.KnownVolume(decimal.RequireFromString(s))
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	store *memory.Store
	id    Identity
	res   *Resolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	id := seqIdentity()
	return &fixture{t: t, ctx: context.Background(), store: memory.New(), id: id, res: NewResolver(id)}
}

func (f *fixture) tx(fn func(tx repository.Tx) error) error {
	return f.store.RunInTx(f.ctx, fn)
}

// source loads a Source plate well holding a Good sample.
func (f *fixture) source(plateID, label, sampleID, volume string) domain.Well {
	f.t.Helper()
	var well domain.Well
	require.NoError(f.t, f.tx(func(tx repository.Tx) error {
		p, err := f.res.GetOrCreatePlate(f.ctx, tx, plateID, domain.PlateKindSource, false)
		if err != nil {
			return err
		}
		pos, err := domain.SplitWellLabel(label)
		if err != nil {
			return err
		}
		s := domain.Sample{
			ID:        f.id.NewID(),
			SampleID:  sampleID,
			Volume:    vol(volume),
			Status:    domain.SampleStatusGood,
			CreatedAt: f.id.Now(),
			Attributes: domain.Attributes{
				"donor": domain.StringValue("d-" + sampleID),
			},
		}
		if err := tx.InsertSample(f.ctx, s); err != nil {
			return err
		}
		well, err = f.res.CreateWell(f.ctx, tx, p, pos, true, domain.WellStatusUsed)
		if err != nil {
			return err
		}
		well.SampleRef = s.ID
		return tx.UpdateWell(f.ctx, well)
	}))
	return well
}

// dest get-or-creates a batch-created Destination plate well.
func (f *fixture) dest(plateID, label string) domain.Well {
	f.t.Helper()
	var well domain.Well
	require.NoError(f.t, f.tx(func(tx repository.Tx) error {
		p, err := f.res.GetOrCreatePlate(f.ctx, tx, plateID, domain.PlateKindDestination, true)
		if err != nil {
			return err
		}
		pos, err := domain.SplitWellLabel(label)
		if err != nil {
			return err
		}
		well, err = f.res.GetOrCreateWell(f.ctx, tx, p, pos, false)
		return err
	}))
	return well
}

func (f *fixture) batch(batchID string) domain.Batch {
	f.t.Helper()
	var b domain.Batch
	require.NoError(f.t, f.tx(func(tx repository.Tx) error {
		var err error
		b, _, err = f.res.GetOrCreateBatch(f.ctx, tx, batchID)
		return err
	}))
	return b
}

func (f *fixture) sampleIn(w domain.Well) domain.Sample {
	f.t.Helper()
	var s domain.Sample
	require.NoError(f.t, f.store.View(f.ctx, func(tx repository.Tx) error {
		cur, err := tx.WellByID(f.ctx, w.ID)
		if err != nil {
			return err
		}
		s, err = tx.SampleByID(f.ctx, cur.SampleRef)
		return err
	}))
	return s
}
