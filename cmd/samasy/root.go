package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"samasy.io/samasy/internal/app"
	"samasy.io/samasy/internal/config"
	"samasy.io/samasy/internal/pkg/logger"
)

const (
	flagConfig  = "config"
	flagVerbose = "verbose"
)

// session is the state shared by one command invocation: the loaded
// configuration and, once a command asks for it, the bootstrapped
// application.
type session struct {
	cfg *config.Config
	app *app.Application
}

func (s *session) application(ctx context.Context, opts app.Options) (*app.Application, error) {
	if s.app != nil {
		return s.app, nil
	}
	a, err := app.Bootstrap(ctx, s.cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	s.app = a
	return a, nil
}

func (s *session) close() {
	if s.app != nil {
		s.app.Shutdown()
		s.app = nil
	}
	_ = logger.Sync()
}

// newRootCmd builds the command tree around s. The caller closes s after
// Execute; post-run hooks do not run when a command fails.
func newRootCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samasy [sub-command]",
		Short: "Plan and track microplate sample transfers",
		Long: `samasy loads source samples, ingests robot transfer files into batches,
allocates deck pods, admits transfers against provider volume and finalizes
completed batches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString(flagConfig)
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			if verbose, _ := cmd.Flags().GetBool(flagVerbose); verbose {
				if err := logger.SetLevel("debug"); err != nil {
					return err
				}
			}
			s.cfg = cfg
			logger.Debug("configuration loaded",
				zap.String("command", cmd.Name()),
				zap.String("storage", cfg.Storage.Driver),
			)
			return nil
		},
		DisableAutoGenTag: true,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}
	cmd.PersistentFlags().String(flagConfig, "", "config file (default: config.yaml in ., ./config or /etc/samasy)")
	cmd.PersistentFlags().BoolP(flagVerbose, "v", false, "log at debug level")

	cmd.AddCommand(
		newLoadCmd(s),
		newStageCmd(s),
		newIngestCmd(s),
		newCompleteCmd(s),
		newBatchesCmd(s),
		newLayoutCmd(s),
		newSamplesCmd(s),
		newOccupantCmd(s),
		newControlCmd(s),
		newDeleteCmd(s),
		newRemoveBatchesCmd(s),
		newMigrateCmd(s),
		newWorkerCmd(s),
	)
	return cmd
}
