package reaper

import (
	"time"

	"github.com/p-arndt/rechenkasten/internal/store"
)

// ReaperStore abstracts store operations needed by the reaper.
type ReaperStore interface {
	ListByStatus(status string) ([]*store.Computer, error)
	UpdateStatus(id int, status string) error
}

// ReaperRegistry abstracts the live computer set.
type ReaperRegistry interface {
	IsRunning(id int) bool
	PruneFreed(retention time.Duration) int
}
