package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/collectiond/internal/auth"
	httpserver "github.com/fyrsmithlabs/collectiond/internal/http"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Start the collectiond HTTP API.

The database schema must be current; run "collectiond migrate up" after
installing or upgrading.

Examples:
  # Start with the default config
  collectiond serve

  # Listen on another port
  COLLECTIOND_SERVER_PORT=9090 collectiond serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

// runServe blocks until ctx is canceled or the listener fails.
func runServe(ctx context.Context, opts *rootOptions) error {
	st, err := newStack(ctx, opts, false)
	if err != nil {
		return err
	}
	defer st.Close()
	cfg, logger := st.cfg, st.logger

	logger.Info(ctx, "starting collectiond",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Address()),
		zap.String("auth", cfg.Auth.Mode),
	)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	authn, err := auth.New(cfg.Auth)
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	srv, err := httpserver.NewServer(a.coord, authn, logger.Underlying(), &httpserver.Config{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		RateLimit:      cfg.Server.RateLimit,
		RateBurst:      cfg.Server.RateBurst,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	logger.Info(ctx, "server shutdown complete")
	return <-errCh
}
