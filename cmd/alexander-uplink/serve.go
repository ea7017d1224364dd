package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/prn-tf/alexander-uplink/internal/handler"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics and credential status over HTTP",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			resolver, err := a.session(ctx)
			if err != nil {
				return err
			}

			router := handler.NewRouter(handler.RouterConfig{
				Gatherer:    a.registry,
				MetricsPath: a.cfg.Metrics.Path,
				Status:      resolver.Reporter(a.cfg.UploadConfig()),
				Logger:      a.logger,
			})

			server := &http.Server{
				Addr:              a.cfg.Metrics.Addr(),
				Handler:           router.Handler(),
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       15 * time.Second,
				WriteTimeout:      15 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info().Str("addr", server.Addr).Msg("serving")
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			a.logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
