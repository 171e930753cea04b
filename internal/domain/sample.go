package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SampleStatus gates usability; only Good samples may be transferred.
type SampleStatus string

const (
	SampleStatusGood    SampleStatus = "Good"
	SampleStatusBad     SampleStatus = "Bad"
	SampleStatusUnknown SampleStatus = "Unknown"
	SampleStatusUsed    SampleStatus = "Used"
)

// Sample is a unit of material occupying one well.
type Sample struct {
	ID string `json:"id"`
	// SampleID is the external identifier; several rows may share it.
	SampleID   string              `json:"sample_id"`
	Attributes Attributes          `json:"attributes,omitempty"`
	Volume     decimal.NullDecimal `json:"volume"`
	Status     SampleStatus        `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
}

// Usable reports whether a transfer may draw from s. A nil sample is never usable.
func (s *Sample) Usable() bool {
	return s != nil && s.Status == SampleStatusGood
}

// Clone returns an independent copy of s with a fresh identity and unknown
// volume. Attributes are deep-copied.
func (s Sample) Clone(id string, now time.Time) Sample {
	return Sample{
		ID:         id,
		SampleID:   s.SampleID,
		Attributes: s.Attributes.Clone(),
		Status:     SampleStatusGood,
		CreatedAt:  now,
	}
}

// KnownVolume builds a NullDecimal holding v.
func KnownVolume(v decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: v, Valid: true}
}

// FormatVolume renders an optional volume, "unknown" when absent.
func FormatVolume(v decimal.NullDecimal) string {
	if !v.Valid {
		return "unknown"
	}
	return v.Decimal.String()
}
