// Package computer runs virtual computers: each one owns a mount table, an
// event queue and a set of peripherals, and drives a guest program through
// boot, run, reboot and shutdown on its own goroutine.
package computer

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/event"
	"github.com/p-arndt/rechenkasten/internal/mount"
	"github.com/p-arndt/rechenkasten/internal/netevent"
	"github.com/p-arndt/rechenkasten/internal/peripheral"
	"github.com/p-arndt/rechenkasten/internal/ref"
	"github.com/p-arndt/rechenkasten/internal/store"
	"github.com/p-arndt/rechenkasten/internal/terminal"
)

var (
	ErrAlreadyRunning = errors.New("computer already running")
	ErrNotFound       = errors.New("computer not found")
	ErrInvalidID      = errors.New("invalid computer id")
	ErrTooManyFiles   = errors.New("too many files already open")
	ErrOutOfSpace     = errors.New("out of space")
	ErrRegistryClosed = errors.New("registry closed")
	ErrHTTPDisabled   = errors.New("http is disabled")
)

// Status is the coarse power state visible to other computers.
type Status int32

const (
	StatusOff Status = iota
	StatusRunning
	StatusRebooting
)

func (s Status) String() string {
	switch s {
	case StatusOff:
		return store.StatusOff
	case StatusRunning:
		return store.StatusRunning
	case StatusRebooting:
		return store.StatusRebooting
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// State is the position of the lifecycle runner.
type State int32

const (
	StateBooting State = iota + 1
	StateRunning
	StateShuttingDown
	StateRebooting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateRebooting:
		return "rebooting"
	case StateTerminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

const (
	reqNone int32 = iota
	reqShutdown
	reqReboot
)

// Computer is one virtual computer. It is created by Registry.Start and is
// unusable once Done is closed.
type Computer struct {
	id     int
	ref    ref.Computer
	reg    *Registry
	logger *slog.Logger

	mounts      *mount.Table
	data        *mount.DirBackend
	queue       *event.Queue
	peripherals *peripheral.Set
	term        terminal.Terminal

	status    atomic.Int32
	state     atomic.Int32
	request   atomic.Int32
	filesOpen atomic.Int32

	mu        sync.Mutex
	label     string
	net       *netevent.Session
	handle    engine.Handle
	startedAt time.Time
	bootCount int
	lastErr   error

	done chan struct{}
}

func (c *Computer) ID() int           { return c.id }
func (c *Computer) Ref() ref.Computer { return c.ref }

// ComputerID lets the computer act as a peripheral host.
func (c *Computer) ComputerID() int { return c.id }

func (c *Computer) Status() Status { return Status(c.status.Load()) }
func (c *Computer) State() State   { return State(c.state.Load()) }

func (c *Computer) setState(s State) {
	c.state.Store(int32(s))
	if c.reg.onState != nil {
		c.reg.onState(c, s)
	}
}

func (c *Computer) Mounts() *mount.Table         { return c.mounts }
func (c *Computer) Peripherals() *peripheral.Set { return c.peripherals }
func (c *Computer) Terminal() terminal.Terminal  { return c.term }
func (c *Computer) Done() <-chan struct{}        { return c.done }
func (c *Computer) DataDir() string              { return c.data.Root() }
func (c *Computer) FilesOpen() int               { return int(c.filesOpen.Load()) }
func (c *Computer) PendingEvents() int           { return c.queue.Len() }

// RequestsOpen is the number of guest HTTP requests in flight.
func (c *Computer) RequestsOpen() int {
	if n := c.session(); n != nil {
		return n.OpenRequests()
	}
	return 0
}

func (c *Computer) Label() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.label
}

// SetLabel changes the label and persists it.
func (c *Computer) SetLabel(label string) {
	c.mu.Lock()
	c.label = label
	c.mu.Unlock()
	c.reg.record("set label", func(s RecordStore) error { return s.SetLabel(c.id, label) })
}

func (c *Computer) BootCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootCount
}

// Err is the error that ended the last boot, if any.
func (c *Computer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Uptime is the time since the current boot started.
func (c *Computer) Uptime() time.Duration {
	c.mu.Lock()
	started := c.startedAt
	c.mu.Unlock()
	if started.IsZero() {
		return 0
	}
	return c.reg.clock.Since(started)
}

// QueueEvent pushes an event from any goroutine.
func (c *Computer) QueueEvent(name string, args ...any) {
	c.queue.Push(name, args...)
}

// queueForBoot pushes an event that is dropped if the computer rebooted
// before it is delivered.
func (c *Computer) queueForBoot(epoch uint64, name string, args ...any) {
	c.queue.PushFor(epoch, func() (string, []any) { return name, args })
}

// Shutdown asks the guest to terminate and the computer to power off.
func (c *Computer) Shutdown() {
	c.request.Store(reqShutdown)
	c.queue.Interrupt()
}

// Reboot asks the guest to terminate and the computer to boot again. A
// pending shutdown wins over a reboot.
func (c *Computer) Reboot() {
	c.request.CompareAndSwap(reqNone, reqReboot)
	c.queue.Interrupt()
}

// forceStop closes the engine under a running guest.
func (c *Computer) forceStop(reboot bool) {
	if reboot {
		c.request.CompareAndSwap(reqNone, reqReboot)
	} else {
		c.request.Store(reqShutdown)
	}
	if h := c.currentHandle(); h != nil {
		h.Close()
	}
	c.queue.Interrupt()
}

// Mount binds a host directory at name.
func (c *Computer) Mount(name, hostDir string, readOnly bool) error {
	info, err := os.Stat(hostDir)
	if err != nil {
		return fmt.Errorf("%w: %v", mount.ErrInvalidMount, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", mount.ErrInvalidMount, hostDir)
	}
	b, err := mount.NewDirBackend(hostDir)
	if err != nil {
		return err
	}
	if err := c.mounts.Mount(name, b, readOnly); err != nil {
		return err
	}
	c.logger.Info("mounted", "computer_id", c.id, "name", name, "source", hostDir, "read_only", readOnly)
	return nil
}

// Unmount removes every mount at name.
func (c *Computer) Unmount(name string) bool {
	ok := c.mounts.Unmount(name)
	if ok {
		c.logger.Info("unmounted", "computer_id", c.id, "name", name)
	}
	return ok
}

// Attach constructs a peripheral on side.
func (c *Computer) Attach(side, typ string, args []string) error {
	_, err := c.peripherals.Attach(side, typ, args)
	return err
}

func (c *Computer) Detach(side string) bool {
	return c.peripherals.Detach(side)
}

func (c *Computer) session() *netevent.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.net
}

func (c *Computer) currentHandle() engine.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

func (c *Computer) setHandle(h engine.Handle) {
	c.mu.Lock()
	c.handle = h
	c.mu.Unlock()
}
