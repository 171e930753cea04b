package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/usecase"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printReport(w io.Writer, rep usecase.Report) {
	fmt.Fprintf(w, "%s run %s: %d records, %d errors, %.0f%% done in %s\n",
		rep.Kind, rep.RunID, rep.Records, len(rep.Errors), rep.Progress*100, rep.Duration)
	for _, e := range rep.Errors {
		fmt.Fprintf(w, "  [%s] %s\n", e.Code, e.String())
	}
}

func printBatches(w io.Writer, batches []domain.Batch) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BATCH\tCOMPLETE\tCREATED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%t\t%s\n", b.BatchID, b.IsComplete, b.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return tw.Flush()
}

func printLayout(w io.Writer, view usecase.BatchView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "batch %s (complete: %t)\n", view.BatchID, view.IsComplete)
	fmt.Fprintln(tw, "POD\tKIND\tPLATE")
	for _, p := range view.Pods {
		plate := p.PlateID
		if plate == "" {
			plate = "-"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\n", p.Position, p.Kind, plate)
	}
	return tw.Flush()
}

func printSamples(w io.Writer, samples []domain.Sample) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SAMPLE\tVOLUME\tSTATUS\tATTRIBUTES")
	for _, s := range samples {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.SampleID, domain.FormatVolume(s.Volume), s.Status, formatAttributes(s.Attributes))
	}
	return tw.Flush()
}

func formatAttributes(a domain.Attributes) string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + a[name].String()
	}
	return strings.Join(parts, " ")
}
