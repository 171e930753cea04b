package metrics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/pkg/worker"
)

func TestRecorder_CountsEvents(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder()
	d := domain.NewEventDispatcher()
	r.Subscribe(d)

	d.Emit(ctx, domain.EventMappingAdmitted, domain.AggregateBatch, "B1", domain.MappingAdmittedPayload{BatchID: "B1"})
	d.Emit(ctx, domain.EventMappingAdmitted, domain.AggregateBatch, "B1", domain.MappingAdmittedPayload{BatchID: "B1"})
	d.Emit(ctx, domain.EventRecordRejected, domain.AggregateRun, "r1", domain.RecordRejectedPayload{Code: "INSUFFICIENT_VOLUME"})
	d.Emit(ctx, domain.EventRecordRejected, domain.AggregateRun, "r1", domain.RecordRejectedPayload{Code: "PODS_EXHAUSTED"})
	d.Emit(ctx, domain.EventRecordRejected, domain.AggregateRun, "r1", domain.RecordRejectedPayload{Code: "PODS_EXHAUSTED"})
	d.Emit(ctx, domain.EventPodRetyped, domain.AggregateBatch, "B1", domain.PodRetypedPayload{Position: 5})
	d.Emit(ctx, domain.EventBatchCompleted, domain.AggregateBatch, "B1", domain.BatchCompletedPayload{BatchID: "B1"})
	d.Emit(ctx, domain.EventIngestFinished, domain.AggregateRun, "r1", domain.RunFinishedPayload{RunID: "r1", DurationSeconds: 0.5})

	require.Equal(t, 2.0, testutil.ToFloat64(r.records.WithLabelValues(ResultAdmitted)))
	require.Equal(t, 3.0, testutil.ToFloat64(r.records.WithLabelValues(ResultRejected)))
	require.Equal(t, 1.0, testutil.ToFloat64(r.recordErrors.WithLabelValues("INSUFFICIENT_VOLUME")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.recordErrors.WithLabelValues("PODS_EXHAUSTED")))
	require.Equal(t, 2.0, testutil.ToFloat64(r.mappings))
	require.Equal(t, 1.0, testutil.ToFloat64(r.podsRetyped))
	require.Equal(t, 1.0, testutil.ToFloat64(r.batchesComplete))
	require.Equal(t, 1, testutil.CollectAndCount(r.runDuration, "samasy_ingest_duration_seconds"))
}

func TestRecorder_BadPayloadIsReported(t *testing.T) {
	r := NewRecorder()
	err := r.onRecordRejected(context.Background(), &domain.DomainEvent{EventType: domain.EventRecordRejected, Payload: []byte("{")})
	require.Error(t, err)
	require.Zero(t, testutil.ToFloat64(r.records.WithLabelValues(ResultRejected)))
}

func TestRecorder_Handler(t *testing.T) {
	r := NewRecorder()
	r.batchesComplete.Inc()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	require.True(t, strings.Contains(rec.Body.String(), "samasy_batches_completed_total 1"))

	n, err := testutil.GatherAndCount(r.Registry(), "samasy_batches_completed_total")
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestRecorder_WatchPools(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.WatchPools(func() map[string]worker.Stats {
		return map[string]worker.Stats{
			worker.PoolGeneral: {Running: 2, Free: 14, Cap: 16},
			worker.PoolIngest:  {Running: 1, Free: 3, Cap: 4},
		}
	}))

	n, err := testutil.GatherAndCount(r.Registry(), "samasy_worker_pool_workers")
	require.NoError(t, err)
	require.Equal(t, 6, n)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Contains(t, rec.Body.String(), `samasy_worker_pool_workers{pool="general",state="running"} 2`)
}
