package computer

import "github.com/p-arndt/rechenkasten/internal/store"

// RecordStore persists computer records. *store.Store implements it.
type RecordStore interface {
	EnsureComputer(id int) error
	GetComputer(id int) (*store.Computer, error)
	RecordBoot(id int) error
	RecordError(id int, msg string) error
	UpdateStatus(id int, status string) error
	SetLabel(id int, label string) error
}

// Decision is the host's answer to an unresponsive guest.
type Decision int

const (
	// Restart force-reboots the computer.
	Restart Decision = iota
	// Wait gives the guest more time.
	Wait
)

// UnresponsiveFunc is consulted when the watchdog gave up on a guest.
type UnresponsiveFunc func(c *Computer) Decision
