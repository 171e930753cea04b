package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	apperrors "samasy.io/samasy/internal/pkg/errors"
)

// PlateKind is the role of a plate, and of the pod that carries it.
type PlateKind string

const (
	PlateKindSource      PlateKind = "Source"
	PlateKindDestination PlateKind = "Destination"
	PlateKindControl     PlateKind = "Control"
)

// Valid reports whether k is a known plate kind.
func (k PlateKind) Valid() bool {
	switch k {
	case PlateKindSource, PlateKindDestination, PlateKindControl:
		return true
	}
	return false
}

// Plate is a physical container of wells.
type Plate struct {
	ID           string    `json:"id"`
	PlateID      string    `json:"plate_id"`
	Kind         PlateKind `json:"kind"`
	BatchCreated bool      `json:"batch_created"`
	CreatedAt    time.Time `json:"created_at"`
}

// WellStatus is a free-form well label. The named values are the ones the
// engine itself writes.
type WellStatus string

const (
	WellStatusEmpty   WellStatus = "Empty"
	WellStatusUsed    WellStatus = "Used"
	WellStatusUnknown WellStatus = "Unknown"
	WellStatusGood    WellStatus = "Good"
	WellStatusBad     WellStatus = "Bad"
)

// Plate geometry.
const (
	FirstRow = 'A'
	LastRow  = 'H'
	FirstCol = 1
	LastCol  = 12
)

// Position addresses a well on a plate.
type Position struct {
	Row string `json:"row"`
	Col int    `json:"col"`
}

// Label renders the position as "A1".
func (p Position) Label() string {
	return p.Row + strconv.Itoa(p.Col)
}

// Valid reports whether the position lies on a 96-well plate.
func (p Position) Valid() bool {
	if len(p.Row) != 1 || p.Row[0] < FirstRow || p.Row[0] > LastRow {
		return false
	}
	return p.Col >= FirstCol && p.Col <= LastCol
}

var wellLabelPattern = regexp.MustCompile(`^([A-H])(0?[1-9]|1[0-2])$`)

// SplitWellLabel parses "A1" or "A01" into a Position. Rows are upper case;
// "a1" is not a well label.
func SplitWellLabel(label string) (Position, error) {
	m := wellLabelPattern.FindStringSubmatch(strings.TrimSpace(label))
	if m == nil {
		return Position{}, apperrors.ErrInvalidWellLabelf(label)
	}
	col, err := strconv.Atoi(m[2])
	if err != nil {
		return Position{}, apperrors.ErrInvalidWellLabelf(label)
	}
	return Position{Row: m[1], Col: col}, nil
}

// Well is one addressable position on a plate.
type Well struct {
	ID string `json:"id"`
	// PlateRef is the plate's row ID; PlateID its business key.
	PlateRef   string     `json:"plate_ref"`
	PlateID    string     `json:"plate_id"`
	Position   Position   `json:"position"`
	IsOriginal bool       `json:"is_original"`
	Status     WellStatus `json:"status"`
	// SampleRef is the current occupant's row ID, empty when there is none.
	SampleRef string `json:"sample_ref,omitempty"`
}

// Label renders the well as "P1: A1".
func (w Well) Label() string {
	return WellLabel(w.PlateID, w.Position)
}

// HasSample reports whether the well has a live occupant.
func (w Well) HasSample() bool {
	return w.SampleRef != ""
}

// WellLabel renders a plate and position as "P1: A1".
func WellLabel(plateID string, pos Position) string {
	return fmt.Sprintf("%s: %s", plateID, pos.Label())
}
