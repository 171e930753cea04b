// Package transferfile parses the tab-delimited files the engine consumes:
// robot transfer files and initial sample loads.
//
// A missing or unreadable header fails the whole file. Problems confined to
// one line become RecordErrors in the result's Rejected list, numbered by
// physical file line (the header is line 1).
//
// Import Path: samasy.io/samasy/internal/transferfile
package transferfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"samasy.io/samasy/internal/domain"
	apperrors "samasy.io/samasy/internal/pkg/errors"
)

// Sample load header patterns, matched case-insensitively. When several
// headers match the same pattern the last one wins.
var (
	sampleIDHeader = regexp.MustCompile(`(?i)sample.*id`)
	plateIDHeader  = regexp.MustCompile(`(?i)plate.*id`)
	wellHeader     = regexp.MustCompile(`(?i)well`)
	volumeHeader   = regexp.MustCompile(`(?i)volume`)
)

// FileLabel strips directories and the extension from a path: the label
// used for a file in record errors.
func FileLabel(path string) string {
	base := filepath.Base(filepath.ToSlash(path))
	if ext := filepath.Ext(base); ext != "" && ext != base {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

type table struct {
	r      *csv.Reader
	header []string
	index  map[string]int
}

func openTable(r io.Reader, name string) (*table, error) {
	cr := csv.NewReader(r)
	cr.Comma = '\t'
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		msg := "unable to read the header. Is this file tab-delimited?"
		if errors.Is(err, io.EOF) {
			msg = "file is empty"
		}
		return nil, apperrors.Invalid(apperrors.CodeMissingHeader, fmt.Sprintf("%s: %s", name, msg)).
			WithParams(map[string]interface{}{"file": name})
	}
	t := &table{r: cr, header: make([]string, len(header)), index: make(map[string]int, len(header))}
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		t.header[i] = h
		t.index[h] = i
	}
	return t, nil
}

// next returns the next row and its file line. io.EOF ends the table.
func (t *table) next() ([]string, int, error) {
	row, err := t.r.Read()
	if err != nil {
		return nil, 0, err
	}
	line, _ := t.r.FieldPos(0)
	for i := range row {
		row[i] = strings.TrimSpace(row[i])
	}
	return row, line, nil
}

func (t *table) cell(row []string, column string) string {
	i, ok := t.index[column]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

func blank(row []string) bool {
	for _, c := range row {
		if c != "" {
			return false
		}
	}
	return true
}

// ParseVolume parses an optional non-negative volume; empty means unknown.
func ParseVolume(raw string) (decimal.NullDecimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.NullDecimal{}, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, apperrors.ErrInvalidRecordf("invalid volume %q", raw)
	}
	if v.IsNegative() {
		return decimal.NullDecimal{}, apperrors.ErrInvalidRecordf("negative volume %s", raw)
	}
	return domain.KnownVolume(v), nil
}

// ReadTransfers parses a transfer file. All of domain.TransferHeaders must
// be present; extra columns are ignored.
func ReadTransfers(r io.Reader, name string) (domain.TransferFile, error) {
	t, err := openTable(r, name)
	if err != nil {
		return domain.TransferFile{}, err
	}
	var missing []string
	for _, h := range domain.TransferHeaders {
		if _, ok := t.index[h]; !ok {
			missing = append(missing, h)
		}
	}
	if len(missing) > 0 {
		return domain.TransferFile{}, apperrors.Invalid(apperrors.CodeMissingHeader,
			fmt.Sprintf("%s: the headers of this file seem to be incorrect, missing %s", name, strings.Join(missing, ", "))).
			WithParams(map[string]interface{}{"file": name, "missing": missing})
	}

	out := domain.TransferFile{Name: name}
	for {
		row, line, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read %s: %w", name, err)
		}
		if blank(row) {
			continue
		}
		rec := domain.TransferRecord{
			File:        name,
			Line:        line,
			BatchID:     t.cell(row, domain.HeaderBatchID),
			SourcePlate: t.cell(row, domain.HeaderSourcePlate),
			SourceWell:  t.cell(row, domain.HeaderSourceWell),
			DestPlate:   t.cell(row, domain.HeaderDestinationPlate),
			DestWell:    t.cell(row, domain.HeaderDestinationWell),
		}
		if err := validateTransfer(rec); err != nil {
			out.Rejected = append(out.Rejected, domain.NewRecordError(name, line, err))
			continue
		}
		vol, err := ParseVolume(t.cell(row, domain.HeaderVolume))
		if err != nil {
			out.Rejected = append(out.Rejected, domain.NewRecordError(name, line, err))
			continue
		}
		rec.Volume = vol
		out.Records = append(out.Records, rec)
	}
	return out, nil
}

func validateTransfer(rec domain.TransferRecord) error {
	var empty []string
	for _, f := range []struct{ header, value string }{
		{domain.HeaderBatchID, rec.BatchID},
		{domain.HeaderSourcePlate, rec.SourcePlate},
		{domain.HeaderSourceWell, rec.SourceWell},
		{domain.HeaderDestinationPlate, rec.DestPlate},
		{domain.HeaderDestinationWell, rec.DestWell},
	} {
		if f.value == "" {
			empty = append(empty, f.header)
		}
	}
	if len(empty) > 0 {
		return apperrors.ErrInvalidRecordf("empty %s", strings.Join(empty, ", "))
	}
	return nil
}

// SampleColumns is the resolved header layout of a sample load file.
type SampleColumns struct {
	SampleID   string
	PlateID    string
	Well       string
	Volume     string
	Attributes []string
}

// DetectSampleColumns resolves the SampleID, PlateID, Well and optional
// Volume columns; every other column is an attribute.
func DetectSampleColumns(header []string) (SampleColumns, error) {
	var cols SampleColumns
	for _, h := range header {
		if sampleIDHeader.MatchString(h) {
			cols.SampleID = h
		}
		if plateIDHeader.MatchString(h) {
			cols.PlateID = h
		}
		if wellHeader.MatchString(h) {
			cols.Well = h
		}
		if volumeHeader.MatchString(h) {
			cols.Volume = h
		}
	}
	switch {
	case cols.SampleID != "" && (cols.SampleID == cols.PlateID || cols.SampleID == cols.Well) ||
		cols.PlateID != "" && cols.PlateID == cols.Well:
		return cols, apperrors.Invalid(apperrors.CodeMissingHeader, "confusing column headers. Is this file tab-delimited?")
	case cols.SampleID == "":
		return cols, apperrors.Invalid(apperrors.CodeMissingHeader, "could not find a column labeled 'SampleID'")
	case cols.PlateID == "":
		return cols, apperrors.Invalid(apperrors.CodeMissingHeader, "could not find a column labeled 'PlateID'")
	case cols.Well == "":
		return cols, apperrors.Invalid(apperrors.CodeMissingHeader, "could not find a column labeled 'Well'")
	}
	for _, h := range header {
		if h == "" || h == cols.SampleID || h == cols.PlateID || h == cols.Well || h == cols.Volume {
			continue
		}
		cols.Attributes = append(cols.Attributes, h)
	}
	return cols, nil
}

// ReadSampleLoad parses an initial sample load file.
func ReadSampleLoad(r io.Reader, name string) (domain.SampleLoad, error) {
	t, err := openTable(r, name)
	if err != nil {
		return domain.SampleLoad{}, err
	}
	cols, err := DetectSampleColumns(t.header)
	if err != nil {
		return domain.SampleLoad{}, err
	}

	out := domain.SampleLoad{Name: name}
	for {
		row, line, err := t.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return out, fmt.Errorf("read %s: %w", name, err)
		}
		if blank(row) {
			continue
		}
		rec := domain.SampleRecord{
			File:     name,
			Line:     line,
			PlateID:  t.cell(row, cols.PlateID),
			SampleID: t.cell(row, cols.SampleID),
			Well:     t.cell(row, cols.Well),
		}
		if rec.PlateID == "" || rec.Well == "" {
			out.Rejected = append(out.Rejected, domain.NewRecordError(name, line,
				apperrors.ErrInvalidRecordf("plate and well are required")))
			continue
		}
		if cols.Volume != "" {
			vol, err := ParseVolume(t.cell(row, cols.Volume))
			if err != nil {
				out.Rejected = append(out.Rejected, domain.NewRecordError(name, line, err))
				continue
			}
			rec.Volume = vol
		}
		if len(cols.Attributes) > 0 {
			rec.Attributes = make(map[string]string, len(cols.Attributes))
			for _, a := range cols.Attributes {
				rec.Attributes[a] = t.cell(row, a)
			}
		}
		out.Records = append(out.Records, rec)
	}
	return out, nil
}
