package service

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
	"samasy.io/samasy/internal/repository"
)

func (f *fixture) admit(a *Admission, b domain.Batch, provider, dest domain.Well, volume decimal.NullDecimal) (domain.Mapping, error) {
	var m domain.Mapping
	err := f.tx(func(tx repository.Tx) error {
		var err error
		m, err = a.Admit(f.ctx, tx, b, provider, dest, volume)
		return err
	})
	return m, err
}

func TestAdmission_Admits(t *testing.T) {
	f := newFixture(t)
	a := NewAdmission(f.id)
	b := f.batch("B1")
	src := f.source("P1", "A1", "S1", "10")
	dst := f.dest("D1", "A1")

	m, err := f.admit(a, b, src, dst, vol("4"))
	require.NoError(t, err)
	require.Equal(t, src.ID, m.ProviderRef)
	require.Equal(t, dst.ID, m.DestinationRef)
	require.Equal(t, b.ID, m.BatchRef)
	require.False(t, m.IsComplete)
	require.Equal(t, "4", m.Volume.Decimal.String())
}

func TestAdmission_DestinationConflict(t *testing.T) {
	f := newFixture(t)
	a := NewAdmission(f.id)
	b := f.batch("B1")
	src1 := f.source("P1", "A1", "S1", "")
	src2 := f.source("P1", "A2", "S2", "")
	dst := f.dest("D1", "B3")

	_, err := f.admit(a, b, src1, dst, vol(""))
	require.NoError(t, err)

	_, err = f.admit(a, b, src2, dst, vol(""))
	require.ErrorIs(t, err, apperrors.ErrConflict)
	require.Equal(t, apperrors.CodeDestinationConflict, apperrors.CodeOf(err))
	require.Contains(t, err.Error(), "D1: B3")
	require.Contains(t, err.Error(), "P1: A1")
}

func TestAdmission_UnusableSource(t *testing.T) {
	f := newFixture(t)
	a := NewAdmission(f.id)
	b := f.batch("B1")
	src := f.source("P1", "A1", "S1", "10")

	require.NoError(t, f.tx(func(tx repository.Tx) error {
		s, err := tx.SampleByID(f.ctx, src.SampleRef)
		if err != nil {
			return err
		}
		s.Status = domain.SampleStatusBad
		return tx.UpdateSample(f.ctx, s)
	}))
	_, err := f.admit(a, b, src, f.dest("D1", "A1"), vol("1"))
	require.ErrorIs(t, err, apperrors.ErrRejected)
	require.Equal(t, apperrors.CodeUnusableSource, apperrors.CodeOf(err))

	// A well with no sample is unusable too.
	empty := f.dest("D9", "A1")
	_, err = f.admit(a, b, empty, f.dest("D1", "A2"), vol("1"))
	require.Equal(t, apperrors.CodeUnusableSource, apperrors.CodeOf(err))
}

// Provider holds 10; transfers of 6 and 5 leave the second rejected with
// available 10, claimed 6, requested 5.
func TestAdmission_InsufficientVolume(t *testing.T) {
	f := newFixture(t)
	a := NewAdmission(f.id)
	b := f.batch("B1")
	src := f.source("P1", "A1", "S1", "10")

	_, err := f.admit(a, b, src, f.dest("D1", "A1"), vol("6"))
	require.NoError(t, err)

	_, err = f.admit(a, b, src, f.dest("D1", "A2"), vol("5"))
	require.ErrorIs(t, err, apperrors.ErrRejected)
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeInsufficientVolume, appErr.Code)
	require.Equal(t, "10", appErr.Params["available"])
	require.Equal(t, "6", appErr.Params["claimed"])
	require.Equal(t, "5", appErr.Params["requested"])

	// Exactly the remainder is still admitted.
	_, err = f.admit(a, b, src, f.dest("D1", "A3"), vol("4"))
	require.NoError(t, err)
}

func TestAdmission_CompletedMappingsReleaseClaim(t *testing.T) {
	f := newFixture(t)
	a, fin := NewAdmission(f.id), NewFinalizer(f.id)
	src := f.source("P1", "A1", "S1", "10")

	_, err := f.admit(a, f.batch("B1"), src, f.dest("D1", "A1"), vol("8"))
	require.NoError(t, err)
	_, err = f.complete(fin, "B1")
	require.NoError(t, err)
	require.Equal(t, "2", f.sampleIn(src).Volume.Decimal.String())

	// The completed 8 is gone from the provider, not still claimed by B1.
	b2 := f.batch("B2")
	_, err = f.admit(a, b2, src, f.dest("D2", "A1"), vol("2"))
	require.NoError(t, err)

	_, err = f.admit(a, b2, src, f.dest("D2", "A2"), vol("1"))
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	require.Equal(t, apperrors.CodeInsufficientVolume, appErr.Code)
	require.Equal(t, "2", appErr.Params["available"])
	require.Equal(t, "2", appErr.Params["claimed"])
}

func TestAdmission_UnknownVolumes(t *testing.T) {
	tests := []struct {
		name      string
		available string
		requested []string
	}{
		{name: "unknown provider volume admits anything", available: "", requested: []string{"100", "200"}},
		{name: "unknown requested volume claims nothing", available: "1", requested: []string{"", "", "1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			a := NewAdmission(f.id)
			b := f.batch("B1")
			src := f.source("P1", "A1", "S1", tt.available)
			for i, r := range tt.requested {
				dst := f.dest("D1", domain.Position{Row: "A", Col: i + 1}.Label())
				_, err := f.admit(a, b, src, dst, vol(r))
				require.NoError(t, err)
			}
		})
	}
}

func TestAdmission_RejectionLeavesNoMapping(t *testing.T) {
	f := newFixture(t)
	a := NewAdmission(f.id)
	b := f.batch("B1")
	src := f.source("P1", "A1", "S1", "1")
	dst := f.dest("D1", "A1")

	_, err := f.admit(a, b, src, dst, vol("2"))
	require.Error(t, err)
	require.NoError(t, f.store.View(f.ctx, func(tx repository.Tx) error {
		_, err := tx.MappingByDestination(f.ctx, dst.ID)
		require.ErrorIs(t, err, apperrors.ErrNotFound)
		return nil
	}))
}
