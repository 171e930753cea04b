package domain

import (
	"encoding/json"
	"time"
)

// EventType defines the type of domain event.
type EventType string

const (
	// Batch lifecycle
	EventBatchCreated   EventType = "BATCH_CREATED"
	EventBatchCompleted EventType = "BATCH_COMPLETED"
	EventBatchRemoved   EventType = "BATCH_REMOVED"

	// Ingestion
	EventMappingAdmitted EventType = "MAPPING_ADMITTED"
	EventPodRetyped      EventType = "POD_RETYPED"
	EventRecordRejected  EventType = "RECORD_REJECTED"
	EventIngestFinished  EventType = "INGEST_FINISHED"

	// Initial load
	EventSamplesLoaded EventType = "SAMPLES_LOADED"

	// Plate administration
	EventPlatesControlled EventType = "PLATES_CONTROLLED"
	EventPlateDeleted     EventType = "PLATE_DELETED"
)

// Aggregate types.
const (
	AggregateBatch = "batch"
	AggregateRun   = "run"
	AggregatePlate = "plate"
)

// DomainEvent is an immutable record of something the engine did.
type DomainEvent struct {
	EventID       string    `json:"event_id"`
	EventType     EventType `json:"event_type"`
	AggregateType string    `json:"aggregate_type"`
	AggregateID   string    `json:"aggregate_id"`
	Payload       []byte    `json:"payload"`
	CreatedAt     time.Time `json:"created_at"`
}

// MappingAdmittedPayload is the payload for EventMappingAdmitted.
type MappingAdmittedPayload struct {
	BatchID     string `json:"batch_id"`
	Provider    string `json:"provider"`
	Destination string `json:"destination"`
	Volume      string `json:"volume"`
}

// ToJSON converts payload to JSON bytes.
func (p MappingAdmittedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PodRetypedPayload is the payload for EventPodRetyped.
type PodRetypedPayload struct {
	BatchID  string    `json:"batch_id"`
	Position int       `json:"position"`
	From     PlateKind `json:"from"`
	To       PlateKind `json:"to"`
	PlateID  string    `json:"plate_id"`
}

// ToJSON converts payload to JSON bytes.
func (p PodRetypedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// RecordRejectedPayload is the payload for EventRecordRejected.
type RecordRejectedPayload struct {
	BatchID string `json:"batch_id,omitempty"`
	File    string `json:"file"`
	Line    int    `json:"line"`
	Code    string `json:"code"`
}

// ToJSON converts payload to JSON bytes.
func (p RecordRejectedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// BatchCreatedPayload is the payload for EventBatchCreated.
type BatchCreatedPayload struct {
	BatchID string `json:"batch_id"`
	Pods    int    `json:"pods"`
}

// ToJSON converts payload to JSON bytes.
func (p BatchCreatedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// BatchRemovedPayload is the payload for EventBatchRemoved.
type BatchRemovedPayload struct {
	BatchID string `json:"batch_id"`
}

// ToJSON converts payload to JSON bytes.
func (p BatchRemovedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// BatchCompletedPayload is the payload for EventBatchCompleted.
type BatchCompletedPayload struct {
	BatchID  string `json:"batch_id"`
	Mappings int    `json:"mappings"`
}

// ToJSON converts payload to JSON bytes.
func (p BatchCompletedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// RunFinishedPayload is the payload for EventIngestFinished and EventSamplesLoaded.
type RunFinishedPayload struct {
	RunID           string  `json:"run_id"`
	Records         int     `json:"records"`
	Errors          int     `json:"errors"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// ToJSON converts payload to JSON bytes.
func (p RunFinishedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PlatesControlledPayload is the payload for EventPlatesControlled.
type PlatesControlledPayload struct {
	PlateIDs []string `json:"plate_ids"`
}

// ToJSON converts payload to JSON bytes.
func (p PlatesControlledPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}

// PlateDeletedPayload is the payload for EventPlateDeleted.
type PlateDeletedPayload struct {
	PlateID string `json:"plate_id"`
	Wells   int    `json:"wells"`
}

// ToJSON converts payload to JSON bytes.
func (p PlateDeletedPayload) ToJSON() ([]byte, error) {
	return json.Marshal(p)
}
