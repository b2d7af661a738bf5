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

	"github.com/spf13/cobra"

	"github.com/p-arndt/rechenkasten/internal/api"
	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/control"
	"github.com/p-arndt/rechenkasten/internal/reaper"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon with the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.APIKey == "" {
		logger.Warn("no API key configured, running in open access mode")
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := newDaemon(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}

	mgr := control.NewManager(d.registry, d.store, d.workspace, logger)
	srv := api.NewServer(cfg, mgr, d.metrics.Handler(), logger)

	if cfgPath != "" {
		w, err := config.NewWatcher(cfgPath, cfg, logger)
		if err != nil {
			return err
		}
		w.OnReload(d.registry.SetConfig)
		w.OnReload(srv.SetConfig)
		if err := w.Start(ctx); err != nil {
			return err
		}
		defer w.Stop()
	}

	rpr := reaper.New(d.store, d.registry, cfg.ReaperInterval(), cfg.FreedRetention(), logger)
	rpr.Reconcile()
	go rpr.Run(ctx)

	httpServer := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	go func() {
		for _, id := range cfg.Autostart {
			if _, err := d.registry.Start(ctx, id); err != nil {
				logger.Error("autostart", "computer_id", id, "error", err)
			}
		}
	}()

	fmt.Fprintf(os.Stderr, "\n  rechenkasten ready at http://%s\n\n", cfg.Listen)

	// computers are constructed on this goroutine until shutdown
	d.tasks.Loop(ctx)

	logger.Info("shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	d.close(shutdownCtx, logger)
	return nil
}
