package control

import (
	"context"
	"fmt"
	"sort"

	"github.com/p-arndt/rechenkasten/internal/computer"
	"github.com/p-arndt/rechenkasten/internal/store"
	"github.com/p-arndt/rechenkasten/protocol"
)

// Get describes computer id from its live state, its record, or both.
func (m *Manager) Get(_ context.Context, id int) (*protocol.ComputerInfo, error) {
	var rec *store.Computer
	if m.store != nil {
		var err error
		rec, err = m.store.GetComputer(id)
		if err != nil {
			return nil, err
		}
	}
	c, live := m.registry.Lookup(id)
	if rec == nil && !live {
		return nil, fmt.Errorf("computer %d: %w", id, computer.ErrNotFound)
	}
	info := m.info(id, rec, c)
	return &info, nil
}

// List describes every recorded or running computer, sorted by id.
func (m *Manager) List(_ context.Context) ([]protocol.ComputerInfo, error) {
	records := map[int]*store.Computer{}
	if m.store != nil {
		recs, err := m.store.ListComputers()
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			records[rec.ID] = rec
		}
	}
	running := map[int]*computer.Computer{}
	for _, c := range m.registry.List() {
		running[c.ID()] = c
	}

	ids := make([]int, 0, len(records)+len(running))
	for id := range records {
		ids = append(ids, id)
	}
	for id := range running {
		if _, ok := records[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	out := make([]protocol.ComputerInfo, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.info(id, records[id], running[id]))
	}
	return out, nil
}

func (m *Manager) info(id int, rec *store.Computer, c *computer.Computer) protocol.ComputerInfo {
	info := protocol.ComputerInfo{ID: id, Status: store.StatusOff}
	if rec != nil {
		info.Label = rec.Label
		info.Status = rec.Status
		info.BootCount = rec.BootCount
		info.LastError = rec.LastError
		info.CreatedAt = rec.CreatedAt
	}
	if c != nil {
		info.Label = c.Label()
		info.Status = c.Status().String()
		if rec == nil {
			info.BootCount = c.BootCount()
		}
		if err := c.Err(); err != nil {
			info.LastError = err.Error()
		}
		info.Live = &protocol.LiveInfo{
			State:         c.State().String(),
			UptimeMs:      c.Uptime().Milliseconds(),
			PendingEvents: c.PendingEvents(),
			FilesOpen:     c.FilesOpen(),
			RequestsOpen:  c.RequestsOpen(),
			Peripherals:   c.Peripherals().Sides(),
		}
	}
	if m.usage != nil {
		n, err := m.usage.Usage(id)
		if err != nil {
			m.logger.Warn("control: measure data directory", "computer_id", id, "error", err)
		}
		info.DiskUsage = n
	}
	return info
}
