package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"samasy.io/samasy/internal/app"
	"samasy.io/samasy/internal/domain"
	"samasy.io/samasy/internal/pkg/logger"
	"samasy.io/samasy/internal/transferfile"
	"samasy.io/samasy/internal/usecase"
)

func newLoadCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Load source samples from a tab-separated sample file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			load, err := transferfile.ReadSampleLoad(f, transferfile.FileLabel(args[0]))
			if err != nil {
				return err
			}
			rep, err := a.Engine.Loading.Execute(cmd.Context(), load)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			return nil
		},
	}
}

func newStageCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "stage <file>...",
		Short: "Store transfer files in the staging area for later ingestion",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			for _, path := range args {
				if err := stageFile(cmd.Context(), a, path); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "staged %s\n", filepath.Base(path))
			}
			return nil
		},
	}
}

func stageFile(ctx context.Context, a *app.Application, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = a.Engine.Staged.Stage(ctx, filepath.Base(path), f)
	return err
}

func newIngestCmd(s *session) *cobra.Command {
	var reset, async bool
	cmd := &cobra.Command{
		Use:   "ingest [file...]",
		Short: "Ingest transfer files; without files, ingest everything staged",
		Long: `Ingest reads transfer files and admits their records into batches.
Record errors are reported and do not stop the run.

With --async the files are staged and an ingestion job is queued for the
worker (postgres storage only). With --reset the staging area is emptied
after ingestion.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.application(ctx, app.Options{})
			if err != nil {
				return err
			}
			if async {
				return enqueueIngest(cmd, a, args, reset)
			}

			var req usecase.IngestRequest
			if len(args) == 0 {
				req, err = a.Engine.Staged.Request(ctx, nil)
			} else {
				req, err = readTransferFiles(args)
			}
			if err != nil {
				return err
			}
			run, err := a.Engine.StartIngest(ctx, req)
			if err != nil {
				return err
			}
			rep, err := waitRun(ctx, run, s.cfg.Ingest.ProgressInterval)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), rep)
			if reset {
				n, err := a.Engine.Staged.Reset(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d staged files\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "empty the staging area afterwards")
	cmd.Flags().BoolVar(&async, "async", false, "queue the ingestion for the worker")
	return cmd
}

func readTransferFiles(paths []string) (usecase.IngestRequest, error) {
	req := usecase.IngestRequest{Files: make([]domain.TransferFile, 0, len(paths))}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			return req, err
		}
		tf, err := transferfile.ReadTransfers(f, transferfile.FileLabel(path))
		f.Close()
		if err != nil {
			return req, err
		}
		req.Files = append(req.Files, tf)
	}
	return req, nil
}

func enqueueIngest(cmd *cobra.Command, a *app.Application, paths []string, reset bool) error {
	enq := a.Enqueuer()
	if enq == nil {
		return fmt.Errorf("--async needs the postgres storage driver")
	}
	names := make([]string, 0, len(paths))
	for _, path := range paths {
		if err := stageFile(cmd.Context(), a, path); err != nil {
			return err
		}
		names = append(names, filepath.Base(path))
	}
	id, err := enq.EnqueueIngest(cmd.Context(), names, reset)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "queued ingestion job %d\n", id)
	return nil
}

// waitRun blocks until run finishes, logging its progress every interval.
func waitRun(ctx context.Context, run *usecase.Run, interval time.Duration) (usecase.Report, error) {
	if interval <= 0 {
		return run.Wait(ctx)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-run.Done():
			return run.Wait(ctx)
		case <-ctx.Done():
			return run.Report(), ctx.Err()
		case <-ticker.C:
			logger.Info("ingestion in progress",
				zap.String("run_id", run.ID),
				zap.Int("processed", run.Processed()),
				zap.Int("total", run.Total()),
				zap.Int("errors", len(run.Errors())),
			)
		}
	}
}

func newCompleteCmd(s *session) *cobra.Command {
	var all, async bool
	cmd := &cobra.Command{
		Use:   "complete <batch>",
		Short: "Finalize a batch, moving sample volume into its destinations",
		Args: func(cmd *cobra.Command, args []string) error {
			if all {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := s.application(ctx, app.Options{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if async {
				if all {
					return fmt.Errorf("--async completes one batch at a time")
				}
				enq := a.Enqueuer()
				if enq == nil {
					return fmt.Errorf("--async needs the postgres storage driver")
				}
				id, err := enq.EnqueueComplete(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "queued completion job %d\n", id)
				return nil
			}

			var results []usecase.CompleteResult
			if all {
				results, err = a.Engine.Completion.CompleteAll(ctx)
			} else {
				var res usecase.CompleteResult
				if res, err = a.Engine.Complete(ctx, args[0]); err == nil {
					results = append(results, res)
				}
			}
			for _, res := range results {
				if res.AlreadyComplete {
					fmt.Fprintf(out, "batch %s was already complete\n", res.BatchID)
					continue
				}
				fmt.Fprintf(out, "batch %s complete: %d mappings\n", res.BatchID, res.Mappings)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "complete every open batch in creation order")
	cmd.Flags().BoolVar(&async, "async", false, "queue the completion for the worker")
	return cmd
}

func newBatchesCmd(s *session) *cobra.Command {
	var upto string
	cmd := &cobra.Command{
		Use:   "batches",
		Short: "List batches in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			var batches []domain.Batch
			if upto != "" {
				batches, err = a.Engine.BatchesUpTo(cmd.Context(), upto)
			} else {
				batches, err = a.Engine.ListBatches(cmd.Context())
			}
			if err != nil {
				return err
			}
			return printBatches(cmd.OutOrStdout(), batches)
		},
	}
	cmd.Flags().StringVar(&upto, "upto", "", "stop at this batch (inclusive)")
	return cmd
}

func newLayoutCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "layout <batch>",
		Short: "Show which plate sits on each pod of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			view, err := a.Engine.Queries.BatchLayout(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printLayout(cmd.OutOrStdout(), view)
		},
	}
}

func newSamplesCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "samples <batch>",
		Short: "List the samples of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			samples, err := a.Engine.SamplesOf(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printSamples(cmd.OutOrStdout(), samples)
		},
	}
}

func newOccupantCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "occupant <plate> <well>",
		Short: "Show what a well holds, or will hold once its batch completes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			occ, err := a.Engine.CurrentOccupant(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), occ)
		},
	}
}

func newControlCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "control <plate>...",
		Short: "Mark plates as control plates",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			return a.Engine.Admin.SetControlPlates(cmd.Context(), args)
		},
	}
}

func newDeleteCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a batch or a plate",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "batch <batch>",
		Short: "Delete a batch with its pods and mappings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			return a.Engine.Admin.DeleteBatch(cmd.Context(), args[0])
		},
	}, &cobra.Command{
		Use:   "plate <plate>",
		Short: "Delete a plate no mapping refers to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			return a.Engine.Admin.DeletePlate(cmd.Context(), args[0])
		},
	})
	return cmd
}

func newRemoveBatchesCmd(s *session) *cobra.Command {
	var plates bool
	cmd := &cobra.Command{
		Use:   "remove-batches",
		Short: "Delete every batch, pod and mapping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := s.application(cmd.Context(), app.Options{})
			if err != nil {
				return err
			}
			res, err := a.Engine.Admin.RemoveAllBatches(cmd.Context(), plates)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d batches and %d plates\n", res.Batches, res.Plates)
			return nil
		},
	}
	cmd.Flags().BoolVar(&plates, "plates", false, "also delete plates created by ingestion")
	return cmd
}
