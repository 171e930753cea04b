// Package metrics turns domain events into Prometheus metrics.
//
// Import Path: samasy.io/samasy/internal/metrics
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"samasy.io/samasy/internal/domain"
)

const namespace = "samasy"

// Record results.
const (
	ResultAdmitted = "admitted"
	ResultRejected = "rejected"
)

// Recorder holds the engine's collectors. It is fed by an
// EventDispatcher; see Subscribe.
type Recorder struct {
	registry *prometheus.Registry

	records         *prometheus.CounterVec
	recordErrors    *prometheus.CounterVec
	mappings        prometheus.Counter
	podsRetyped     prometheus.Counter
	batchesComplete prometheus.Counter
	runDuration     *prometheus.HistogramVec
}

// NewRecorder creates the collectors and registers them on a fresh
// registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Transfer records processed, by result.",
		}, []string{"result"}),
		recordErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "record_errors_total",
			Help:      "Rejected records, by error code.",
		}, []string{"code"}),
		mappings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mappings_admitted_total",
			Help:      "Mappings admitted by ingestion.",
		}),
		podsRetyped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pods_retyped_total",
			Help:      "Pods whose kind changed during allocation.",
		}),
		batchesComplete: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_completed_total",
			Help:      "Batches finalized.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of ingestion and load runs.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"kind"}),
	}
	r.registry.MustRegister(r.records, r.recordErrors, r.mappings, r.podsRetyped, r.batchesComplete, r.runDuration)
	return r
}

// Registry exposes the registry the collectors live on.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the collected metrics in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Subscribe registers the recorder's handlers on d.
func (r *Recorder) Subscribe(d *domain.EventDispatcher) {
	d.Register(domain.EventMappingAdmitted, r.onMappingAdmitted)
	d.Register(domain.EventRecordRejected, r.onRecordRejected)
	d.Register(domain.EventPodRetyped, r.onPodRetyped)
	d.Register(domain.EventBatchCompleted, r.onBatchCompleted)
	d.Register(domain.EventIngestFinished, r.onRunFinished("ingest"))
	d.Register(domain.EventSamplesLoaded, r.onRunFinished("load"))
}

func (r *Recorder) onMappingAdmitted(_ context.Context, _ *domain.DomainEvent) error {
	r.records.WithLabelValues(ResultAdmitted).Inc()
	r.mappings.Inc()
	return nil
}

func (r *Recorder) onRecordRejected(_ context.Context, e *domain.DomainEvent) error {
	var p domain.RecordRejectedPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.EventType, err)
	}
	r.records.WithLabelValues(ResultRejected).Inc()
	r.recordErrors.WithLabelValues(p.Code).Inc()
	return nil
}

func (r *Recorder) onPodRetyped(_ context.Context, _ *domain.DomainEvent) error {
	r.podsRetyped.Inc()
	return nil
}

func (r *Recorder) onBatchCompleted(_ context.Context, _ *domain.DomainEvent) error {
	r.batchesComplete.Inc()
	return nil
}

func (r *Recorder) onRunFinished(kind string) domain.EventHandler {
	return func(_ context.Context, e *domain.DomainEvent) error {
		var p domain.RunFinishedPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", e.EventType, err)
		}
		r.runDuration.WithLabelValues(kind).Observe(p.DurationSeconds)
		return nil
	}
}
