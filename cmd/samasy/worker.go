package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"samasy.io/samasy/internal/app"
	"samasy.io/samasy/internal/config"
	"samasy.io/samasy/internal/infrastructure"
	"samasy.io/samasy/internal/pkg/logger"
)

func newMigrateCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL schema and River queue tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if s.cfg.Storage.Driver != config.StoragePostgres {
				return fmt.Errorf("migrate needs the postgres storage driver, have %q", s.cfg.Storage.Driver)
			}
			db, err := infrastructure.NewDatabaseClients(cmd.Context(), s.cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return db.AutoMigrate(cmd.Context())
		},
	}
}

func newWorkerCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume queued ingestion and completion jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if s.cfg.Storage.Driver != config.StoragePostgres {
				return fmt.Errorf("worker needs the postgres storage driver, have %q", s.cfg.Storage.Driver)
			}
			a, err := s.application(ctx, app.Options{Worker: true})
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				return fmt.Errorf("start background services: %w", err)
			}

			var srv *http.Server
			errCh := make(chan error, 1)
			if addr := s.cfg.Metrics.Addr; addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", a.Infra.Metrics.Handler())
				srv = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						errCh <- err
					}
				}()
				logger.Info("metrics endpoint started", zap.String("addr", addr))
			}

			logger.Info("worker started")
			select {
			case <-ctx.Done():
				logger.Info("Shutdown signal received")
			case err := <-errCh:
				return fmt.Errorf("metrics server: %w", err)
			}

			if srv != nil {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := srv.Shutdown(shutdownCtx); err != nil {
					return fmt.Errorf("metrics server shutdown: %w", err)
				}
			}
			logger.Info("worker stopped")
			return nil
		},
	}
}
