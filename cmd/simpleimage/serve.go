package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-image/internal/metrics"
	"github.com/tendant/simple-image/pkg/simpleimage"
	"github.com/tendant/simple-image/pkg/simpleimage/api"
)

func newServeCommand(a *app) *cobra.Command {
	var (
		migrateFirst bool
		tempDir      string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			registry := prometheus.NewRegistry()
			registry.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(registry)

			svc, err := a.service(ctx, simpleimage.WithHooks(m.Hooks()))
			if err != nil {
				return err
			}
			defer func() {
				if err := svc.Close(); err != nil {
					a.logger.Error("failed to close service", "err", err)
				}
			}()

			if migrateFirst && svc.Migrator != nil {
				if err := svc.Migrator.Up(ctx); err != nil {
					return err
				}
			}

			handler := api.NewHandler(svc.Coordinator,
				api.WithURLStrategy(svc.URLs),
				api.WithLogger(a.logger),
				api.WithTempDir(tempDir),
			)
			router := api.NewRouter(api.RouterConfig{
				Handler:     handler,
				Logger:      a.logger,
				Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
				Middlewares: []func(http.Handler) http.Handler{m.Middleware},
			})

			server := &http.Server{
				Addr:              fmt.Sprintf(":%s", a.cfg.Port),
				Handler:           router,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("simple-image server starting", "port", a.cfg.Port, "environment", a.cfg.Environment, "owners", svc.Registry().OwnerTypes())
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				if err != nil {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.logger.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply the schema before serving")
	cmd.Flags().StringVar(&tempDir, "temp-dir", os.TempDir(), "directory uploads are spooled to")
	return cmd
}
