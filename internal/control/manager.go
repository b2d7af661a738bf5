// Package control is the host-side surface over the computer registry. It
// merges live computers with their persisted records and is what the API
// and the CLI talk to.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/p-arndt/rechenkasten/internal/computer"
	"github.com/p-arndt/rechenkasten/internal/mount"
	"github.com/p-arndt/rechenkasten/internal/peripheral"
	"github.com/p-arndt/rechenkasten/protocol"
)

type Manager struct {
	registry *computer.Registry
	store    ComputerStore
	usage    UsageMeter
	logger   *slog.Logger
}

// NewManager wires a Manager. st and usage may be nil.
func NewManager(reg *computer.Registry, st ComputerStore, usage UsageMeter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		registry: reg,
		store:    st,
		usage:    usage,
		logger:   logger,
	}
}

func (m *Manager) Start(ctx context.Context, id int) (*protocol.ComputerInfo, error) {
	c, err := m.registry.Start(ctx, id)
	if err != nil {
		return nil, err
	}
	m.logger.Info("computer started via control", "computer_id", id)
	return m.Get(ctx, c.ID())
}

func (m *Manager) Shutdown(_ context.Context, id int) error {
	return m.registry.Shutdown(id)
}

func (m *Manager) Reboot(_ context.Context, id int) error {
	return m.registry.Reboot(id)
}

func (m *Manager) QueueEvent(_ context.Context, id int, name string, args []string) error {
	values := make([]any, len(args))
	for i, a := range args {
		values[i] = a
	}
	return m.registry.QueueEvent(id, name, values...)
}

func (m *Manager) live(id int) (*computer.Computer, error) {
	c, ok := m.registry.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("computer %d: %w", id, computer.ErrNotFound)
	}
	return c, nil
}

// Mounts lists the mount table of a running computer, root first.
func (m *Manager) Mounts(_ context.Context, id int) ([]protocol.MountInfo, error) {
	c, err := m.live(id)
	if err != nil {
		return nil, err
	}
	entries := c.Mounts().Entries()
	out := make([]protocol.MountInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, protocol.MountInfo{
			Name:     e.Key(),
			Source:   e.Backend.String(),
			ReadOnly: e.ReadOnly,
		})
	}
	return out, nil
}

// Mount binds a host directory. Host operators are not subject to the
// guest mount policy.
func (m *Manager) Mount(_ context.Context, id int, req protocol.MountRequest) error {
	c, err := m.live(id)
	if err != nil {
		return err
	}
	readOnly := true
	if req.ReadOnly != nil {
		readOnly = *req.ReadOnly
	}
	return c.Mount(req.Name, req.Source, readOnly)
}

func (m *Manager) Unmount(_ context.Context, id int, name string) error {
	c, err := m.live(id)
	if err != nil {
		return err
	}
	if strings.Trim(name, "/") == "" || name == mount.RootKey {
		return fmt.Errorf("%w: the data directory can not be unmounted", mount.ErrInvalidMount)
	}
	if !c.Unmount(name) {
		return fmt.Errorf("%w: no mount named %s", mount.ErrNotFound, name)
	}
	return nil
}

func (m *Manager) Attach(_ context.Context, id int, req protocol.AttachRequest) error {
	c, err := m.live(id)
	if err != nil {
		return err
	}
	return c.Attach(req.Side, req.Type, req.Args)
}

func (m *Manager) Detach(_ context.Context, id int, side string) error {
	c, err := m.live(id)
	if err != nil {
		return err
	}
	if !c.Detach(side) {
		return fmt.Errorf("%w: %s", peripheral.ErrNotAttached, side)
	}
	return nil
}
