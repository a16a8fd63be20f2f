package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/spf13/cobra"

	"github.com/hexfall/ipavault/internal/api"
	"github.com/hexfall/ipavault/internal/app"
	"github.com/hexfall/ipavault/internal/infra/config"
	"github.com/hexfall/ipavault/internal/infra/logger"
	"github.com/hexfall/ipavault/internal/injector"
	"github.com/hexfall/ipavault/internal/manager"
	"github.com/hexfall/ipavault/internal/store"
	"github.com/hexfall/ipavault/internal/validate"
)

func main() {
	root := &cobra.Command{
		Use:   "ipavault",
		Short: "Self-hosted IPA download service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	log, err := logger.New(filepath.Join(cfg.DataDir, "ipavault.log"), logger.ParseLevel(cfg.LogLevel), true)
	if err != nil {
		return fmt.Errorf("logger error: %w", err)
	}

	st, err := store.New(cfg.DataDir, log.With("store"))
	if err != nil {
		return fmt.Errorf("store error: %w", err)
	}

	inj, err := injector.New(log.With("injector"))
	if err != nil {
		return fmt.Errorf("dependency error: %w", err)
	}

	mgr := manager.New(cfg, log, st, manager.Options{Injector: inj})

	// Cancelled when the user hits Ctrl+C or the platform sends SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.StartScheduler(ctx)

	appCtx := app.NewContext(cfg, log)
	appCtx.Manager = mgr
	appCtx.ValidateURL = validate.DownloadURL

	e := echo.New()
	api.RegisterRoutes(e, appCtx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: e,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
