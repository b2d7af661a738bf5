package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/terminal"
)

func newRunCmd() *cobra.Command {
	var (
		id     int
		mounts []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot one computer headless with its terminal on stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), id, mounts)
		},
	}
	cmd.Flags().IntVar(&id, "id", 0, "computer id")
	cmd.Flags().StringArrayVar(&mounts, "mount", nil, "mount a host directory, name=path[:ro]")
	return cmd
}

// parseMountFlag parses name=path[:ro] or name=path[:rw].
func parseMountFlag(s string) (config.Mount, error) {
	name, source, ok := strings.Cut(s, "=")
	if !ok || name == "" || source == "" {
		return config.Mount{}, fmt.Errorf("invalid --mount %q, want name=path[:ro]", s)
	}
	m := config.Mount{Path: name, Source: source}
	if i := strings.LastIndex(source, ":"); i >= 0 {
		switch source[i+1:] {
		case "ro":
			m.Source, m.ReadOnly = source[:i], true
		case "rw":
			m.Source = source[:i]
		}
	}
	return m, nil
}

func run(parent context.Context, id int, mountFlags []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	for _, f := range mountFlags {
		m, err := parseMountFlag(f)
		if err != nil {
			return err
		}
		cfg.Mounts = append(cfg.Mounts, m)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	out := terminal.NewStream(os.Stdout, false)
	d, err := newDaemon(ctx, cfg, func(int) terminal.Terminal { return out }, logger)
	if err != nil {
		return err
	}
	go d.tasks.Loop(ctx)

	c, err := d.registry.Start(ctx, id)
	if err != nil {
		d.close(context.Background(), logger)
		return err
	}

	select {
	case <-c.Done():
	case <-ctx.Done():
		logger.Info("interrupted, shutting down", "computer_id", id)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	d.close(shutdownCtx, logger)

	if err := c.Err(); err != nil {
		return fmt.Errorf("computer %d: %w", id, err)
	}
	return nil
}
