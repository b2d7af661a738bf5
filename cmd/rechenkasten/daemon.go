package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/p-arndt/rechenkasten/internal/computer"
	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/engine/shell"
	"github.com/p-arndt/rechenkasten/internal/metrics"
	"github.com/p-arndt/rechenkasten/internal/netevent"
	"github.com/p-arndt/rechenkasten/internal/pool"
	"github.com/p-arndt/rechenkasten/internal/store"
	"github.com/p-arndt/rechenkasten/internal/tasks"
	"github.com/p-arndt/rechenkasten/internal/terminal"
	"github.com/p-arndt/rechenkasten/internal/workspace"
)

// daemon holds everything a running registry needs. serve and run share it.
type daemon struct {
	store     *store.Store
	workspace *workspace.Manager
	metrics   *metrics.Metrics
	pool      *pool.Pool
	net       *netevent.Client
	tasks     *tasks.Queue
	registry  *computer.Registry
}

func newDaemon(ctx context.Context, cfg *config.Config, term func(id int) terminal.Terminal, logger *slog.Logger) (*daemon, error) {
	st, err := store.New(cfg.DBPath, 0)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	ws, err := workspace.NewManager(cfg.DataDir)
	if err != nil {
		st.Close()
		return nil, err
	}

	d := &daemon{
		store:     st,
		workspace: ws,
		metrics:   metrics.New(),
		tasks:     tasks.New(0, logger),
	}
	d.pool = pool.New(pool.Config{Workers: cfg.Workers}, logger)
	d.pool.Start(ctx)
	d.metrics.RegisterGaugeFunc("pool_pending_jobs", "Network jobs waiting for a worker.", func() float64 {
		return float64(d.pool.Pending())
	})
	if cfg.HTTPEnabled {
		d.net = netevent.NewClient(d.pool, computer.NetLimits(cfg), d.metrics, logger)
	} else {
		logger.Warn("http disabled, guests get no network")
	}

	d.registry, err = computer.NewRegistry(computer.Options{
		Config:    cfg,
		Engine:    shell.New(logger),
		Workspace: ws,
		Store:     st,
		Tasks:     d.tasks,
		Net:       d.net,
		Metrics:   d.metrics,
		Terminal:  term,
		Logger:    logger,
	})
	if err != nil {
		d.pool.Stop()
		st.Close()
		return nil, err
	}
	return d, nil
}

// close stops the computers first, then the workers they submitted to.
func (d *daemon) close(ctx context.Context, logger *slog.Logger) {
	if err := d.registry.Close(ctx); err != nil {
		logger.Warn("registry close", "error", err)
	}
	d.pool.Stop()
	if err := d.store.Close(); err != nil {
		logger.Warn("store close", "error", err)
	}
}
