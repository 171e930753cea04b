package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "samasy.io/samasy/internal/pkg/errors"
)

// Transfer file headers, in file order.
const (
	HeaderBatchID          = "BatchID"
	HeaderSourcePlate      = "Source Plate"
	HeaderSourceWell       = "Source Well"
	HeaderDestinationPlate = "Destination Plate"
	HeaderDestinationWell  = "Destination Well"
	HeaderVolume           = "Volume"
)

// TransferHeaders lists the required transfer file columns.
var TransferHeaders = []string{
	HeaderBatchID,
	HeaderSourcePlate,
	HeaderSourceWell,
	HeaderDestinationPlate,
	HeaderDestinationWell,
	HeaderVolume,
}

// TransferRecord is one parsed line of a transfer file.
type TransferRecord struct {
	File        string              `json:"file"`
	Line        int                 `json:"line"`
	BatchID     string              `json:"batch_id"`
	SourcePlate string              `json:"source_plate"`
	SourceWell  string              `json:"source_well"`
	DestPlate   string              `json:"dest_plate"`
	DestWell    string              `json:"dest_well"`
	Volume      decimal.NullDecimal `json:"volume"`
}

// TransferFile is a named, parsed transfer file. Rejected holds lines the
// parser already refused; they count towards progress.
type TransferFile struct {
	Name     string           `json:"name"`
	Records  []TransferRecord `json:"records"`
	Rejected []RecordError    `json:"rejected,omitempty"`
}

// SampleRecord is one parsed line of an initial sample load.
type SampleRecord struct {
	File     string              `json:"file"`
	Line     int                 `json:"line"`
	PlateID  string              `json:"plate_id"`
	SampleID string              `json:"sample_id"`
	Well     string              `json:"well"`
	Volume   decimal.NullDecimal `json:"volume"`
	// Attributes holds the raw cells of the extra columns.
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SampleLoad is a named, parsed sample load file.
type SampleLoad struct {
	Name     string         `json:"name"`
	Records  []SampleRecord `json:"records"`
	Rejected []RecordError  `json:"rejected,omitempty"`
}

// RecordError is a per-record failure recovered during a run.
type RecordError struct {
	File    string `json:"file"`
	Line    int    `json:"line"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewRecordError builds a RecordError from err, keeping its AppError code.
func NewRecordError(file string, line int, err error) RecordError {
	msg := err.Error()
	if appErr, ok := apperrors.IsAppError(err); ok {
		msg = appErr.Message
	}
	return RecordError{File: file, Line: line, Code: apperrors.CodeOf(err), Message: msg}
}

// String renders the error as "file, line n: message".
func (e RecordError) String() string {
	return fmt.Sprintf("%s, line %d: %s", e.File, e.Line, e.Message)
}

// OccupantState tells what a well currently holds.
type OccupantState string

const (
	OccupantSample  OccupantState = "sample"
	OccupantPending OccupantState = "pending"
	OccupantEmpty   OccupantState = "empty"
)

// Occupant is the view of a single well. A pending occupant is the provider's
// sample that an open mapping will move in on completion.
type Occupant struct {
	State        OccupantState `json:"state"`
	Sample       *Sample       `json:"sample,omitempty"`
	Realized     bool          `json:"realized"`
	Provider     string        `json:"provider,omitempty"`
	Destinations []string      `json:"destinations,omitempty"`
}
