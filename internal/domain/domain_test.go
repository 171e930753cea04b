package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	apperrors "samasy.io/samasy/internal/pkg/errors"
)

func TestSplitWellLabel(t *testing.T) {
	tests := []struct {
		label   string
		want    Position
		wantErr bool
	}{
		{"A1", Position{Row: "A", Col: 1}, false},
		{"A01", Position{Row: "A", Col: 1}, false},
		{"H12", Position{Row: "H", Col: 12}, false},
		{"C10", Position{Row: "C", Col: 10}, false},
		{"c10", Position{}, true},
		{"a1", Position{}, true},
		{" D7 ", Position{Row: "D", Col: 7}, false},
		{"I1", Position{}, true},
		{"A0", Position{}, true},
		{"A13", Position{}, true},
		{"A001", Position{}, true},
		{"1A", Position{}, true},
		{"", Position{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := SplitWellLabel(tt.label)
			if tt.wantErr {
				require.Error(t, err)
				appErr, ok := apperrors.IsAppError(err)
				require.True(t, ok)
				require.Equal(t, apperrors.CodeInvalidWellLabel, appErr.Code)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.True(t, got.Valid())
		})
	}
}

func TestWellLabel(t *testing.T) {
	w := Well{PlateID: "P1", Position: Position{Row: "B", Col: 3}}
	require.Equal(t, "P1: B3", w.Label())
	require.False(t, w.HasSample())
}

func TestDefaultPodKind(t *testing.T) {
	want := map[int]PlateKind{
		4: PlateKindSource, 5: PlateKindSource, 6: PlateKindSource,
		7: PlateKindSource, 8: PlateKindSource, 9: PlateKindSource,
		10: PlateKindControl,
		11: PlateKindDestination, 12: PlateKindDestination,
	}
	for pos, kind := range want {
		got, err := DefaultPodKind(pos)
		require.NoError(t, err)
		require.Equal(t, kind, got, "position %d", pos)
	}

	for _, pos := range []int{0, 3, 13} {
		_, err := DefaultPodKind(pos)
		require.ErrorIs(t, err, apperrors.ErrInvalid)
	}
}

func TestNewBatch_PodLayout(t *testing.T) {
	n := 0
	newID := func() string { n++; return "pod-" + strconv.Itoa(n) }

	b := NewBatch("b-1", "B1", time.Now(), newID)
	require.Len(t, b.Pods.Pods, PodCount)
	require.Equal(t, MinPodPosition, b.Pods.Pods[0].Position)
	require.Equal(t, MaxPodPosition, b.Pods.Pods[PodCount-1].Position)
	for _, pod := range b.Pods.Pods {
		require.Equal(t, "b-1", pod.BatchRef)
		require.True(t, pod.Free())
	}

	idx, ok := b.Pods.FirstFree(PlateKindDestination)
	require.True(t, ok)
	require.Equal(t, 11, b.Pods.Pods[idx].Position)

	idx, ok = b.Pods.FirstFree(PlateKindControl)
	require.True(t, ok)
	require.Equal(t, 10, b.Pods.Pods[idx].Position)
}

func TestPodPool_CloneIsIndependent(t *testing.T) {
	pool := NewPodPool("b", func() string { return "p" })
	cp := pool.Clone()
	cp.Pods[0].PlateRef = "plate-1"

	require.True(t, pool.Pods[0].Free())
	_, held := pool.Holding("plate-1")
	require.False(t, held)
	_, held = cp.Holding("plate-1")
	require.True(t, held)
}

func TestSample_Usable(t *testing.T) {
	var missing *Sample
	require.False(t, missing.Usable())
	require.True(t, (&Sample{Status: SampleStatusGood}).Usable())
	require.False(t, (&Sample{Status: SampleStatusBad}).Usable())
}

func TestSample_Clone(t *testing.T) {
	src := Sample{
		ID:         "s-1",
		SampleID:   "S-001",
		Attributes: Attributes{"donor": StringValue("D7")},
		Volume:     KnownVolume(decimal.NewFromInt(50)),
		Status:     SampleStatusGood,
	}
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	clone := src.Clone("s-2", now)
	require.Equal(t, "s-2", clone.ID)
	require.Equal(t, "S-001", clone.SampleID)
	require.False(t, clone.Volume.Valid)
	require.Equal(t, now, clone.CreatedAt)

	clone.Attributes["donor"] = StringValue("changed")
	require.Equal(t, "D7", src.Attributes["donor"].Str)
}

func TestAttributeValue_JSON(t *testing.T) {
	attrs := Attributes{
		"flag":  BoolValue(true),
		"count": IntValue(42),
		"ratio": FloatValue(0.5),
		"name":  StringValue("x"),
	}

	data, err := json.Marshal(attrs)
	require.NoError(t, err)

	var decoded Attributes
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, attrs, decoded)

	var bad AttributeValue
	require.Error(t, json.Unmarshal([]byte(`{"kind":"date","value":"2020"}`), &bad))
}

func TestColumnTypes_Decode(t *testing.T) {
	dec := ColumnTypes{"age": AttributeInt, "frozen": AttributeBool, "conc": AttributeFloat}

	v, err := dec.Decode("age", " 12 ")
	require.NoError(t, err)
	require.Equal(t, IntValue(12), v)

	v, err = dec.Decode("frozen", "true")
	require.NoError(t, err)
	require.Equal(t, BoolValue(true), v)

	v, err = dec.Decode("conc", "1.25")
	require.NoError(t, err)
	require.Equal(t, FloatValue(1.25), v)

	v, err = dec.Decode("notes", "anything")
	require.NoError(t, err)
	require.Equal(t, StringValue("anything"), v)

	_, err = dec.Decode("age", "twelve")
	require.Error(t, err)
}

func TestColumnTypes_DecodeRejectsNonFiniteFloats(t *testing.T) {
	dec := ColumnTypes{"conc": AttributeFloat}
	for _, raw := range []string{"NaN", "nan", "Inf", "+Inf", "-Infinity", "1e400"} {
		t.Run(raw, func(t *testing.T) {
			_, err := dec.Decode("conc", raw)
			require.ErrorContains(t, err, "is not a number")
		})
	}
}

func TestRecordError(t *testing.T) {
	re := NewRecordError("plan.txt", 7, apperrors.ErrPodsExhaustedf("P10", "B1"))
	require.Equal(t, apperrors.CodePodsExhausted, re.Code)
	require.Equal(t, "plan.txt, line 7: no free pod for plate P10 in batch B1", re.String())

	plain := NewRecordError("plan.txt", 8, fmt.Errorf("disk full"))
	require.Equal(t, apperrors.CodeInternal, plain.Code)
	require.Equal(t, "disk full", plain.Message)
}

func TestEventDispatcher(t *testing.T) {
	d := NewEventDispatcher()
	var got []EventType
	d.Register(EventBatchCompleted, func(_ context.Context, e *DomainEvent) error {
		got = append(got, e.EventType)
		return nil
	})
	d.Register(EventBatchCompleted, func(_ context.Context, _ *DomainEvent) error {
		return fmt.Errorf("handler down")
	})

	err := d.Dispatch(context.Background(), &DomainEvent{EventType: EventBatchCompleted})
	require.Error(t, err)
	require.Equal(t, []EventType{EventBatchCompleted}, got)

	// No handlers: not an error.
	require.NoError(t, d.Dispatch(context.Background(), &DomainEvent{EventType: EventPodRetyped}))

	d.Emit(context.Background(), EventBatchCompleted, AggregateBatch, "B1", BatchCompletedPayload{BatchID: "B1", Mappings: 1})
	require.Len(t, got, 2)

	var nilDispatcher *EventDispatcher
	nilDispatcher.Emit(context.Background(), EventBatchCompleted, AggregateBatch, "B1", BatchCompletedPayload{})
}
