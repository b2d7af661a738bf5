package computer

import (
	"errors"
	"fmt"

	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/event"
)

// run is the computer's goroutine: boot cycles until one ends without a
// reboot request, then Terminated.
func (c *Computer) run() {
	defer c.reg.finish(c)
	for c.cycle() {
		if !c.request.CompareAndSwap(reqReboot, reqNone) {
			return
		}
	}
}

// cycle runs one boot and reports whether the computer should boot again.
func (c *Computer) cycle() bool {
	epoch := c.queue.Reset()
	c.setState(StateBooting)
	cfg := c.reg.config()

	c.mu.Lock()
	c.startedAt = c.reg.clock.Now()
	c.bootCount++
	c.lastErr = nil
	if c.reg.net != nil {
		c.net = c.reg.net.NewSession(func(name string, args ...any) {
			c.queueForBoot(epoch, name, args...)
		})
	}
	c.mu.Unlock()

	c.status.Store(int32(StatusRunning))
	c.reg.record("record boot", func(s RecordStore) error { return s.RecordBoot(c.id) })
	c.reg.metrics.Boot()
	c.term.Reset()
	c.peripherals.Reinitialize(epoch)

	name, program, err := c.reg.loadBIOS(cfg)
	var h engine.Handle
	if err == nil {
		h, err = c.reg.engine.Boot(c.reg.ctx, engine.Env{
			ComputerID:  c.id,
			ProgramName: name,
			Program:     program,
			Libraries:   c.libraries(epoch),
			Files:       guestFS{c},
			Stdout:      c.term,
			Stderr:      c.term,
			Vars:        map[string]string{"COMPUTER_LABEL": c.Label()},
		})
	}
	if err != nil {
		c.fail(fmt.Errorf("boot: %w", err))
		c.setState(StateShuttingDown)
		c.teardown(nil)
		return false
	}
	c.setHandle(h)
	c.logger.Debug("booted", "boot", c.BootCount())

	wd := newWatchdog(c, h, cfg)
	wd.start()
	c.setState(StateRunning)
	c.drive(h, wd)
	wd.stop()

	reboot := c.request.Load() == reqReboot
	if reboot {
		c.setState(StateRebooting)
	} else {
		c.setState(StateShuttingDown)
	}
	c.teardown(h)
	return reboot
}

// drive resumes the guest until it returns, fails, or has been resumed
// with terminate after a shutdown or reboot request.
func (c *Computer) drive(h engine.Handle, wd *watchdog) {
	var args []any
	for {
		wd.resumed()
		res := h.Resume(args)
		wd.yielded()

		switch res.Kind {
		case engine.Returned:
			return
		case engine.Errored:
			if c.request.Load() != reqNone || c.reg.ctx.Err() != nil {
				c.logger.Debug("guest stopped", "reason", res.Err)
				return
			}
			c.fail(res.Err)
			return
		}
		if c.request.Load() != reqNone {
			// a guest that was computing when the request came in still
			// gets its one terminate
			if !c.queue.TakeInterrupt() {
				return
			}
			c.reg.metrics.EventDelivered()
			args = []any{event.Terminate}
			continue
		}

		ev, err := c.nextEvent(res.Request.Filter)
		if err != nil {
			return
		}
		args = ev.Values()
	}
}

// nextEvent blocks for the next event the guest accepts. Events not
// matching filter are discarded; terminate always gets through.
func (c *Computer) nextEvent(filter string) (event.Event, error) {
	for {
		ev, err := c.queue.WaitNext(c.reg.ctx)
		if err != nil {
			return event.Event{}, err
		}
		if filter == "" || ev.Name == filter || ev.Name == event.Terminate {
			c.reg.metrics.EventDelivered()
			return ev, nil
		}
	}
}

// fail reports an uncaught guest error. It is shown on the terminal and
// kept in the store.
func (c *Computer) fail(err error) {
	if errors.Is(err, engine.ErrTooLongWithoutYielding) {
		c.logger.Warn("guest aborted", "error", err)
	} else {
		c.logger.Warn("guest error", "error", err)
	}
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	fmt.Fprintf(c.term, "%v\n", err)
	c.reg.metrics.GuestError()
	c.reg.record("record error", func(s RecordStore) error { return s.RecordError(c.id, err.Error()) })
}

// teardown is ShuttingDown: nothing started by this boot survives it.
func (c *Computer) teardown(h engine.Handle) {
	if n := c.reg.timers.CancelOwned(c.ref); n > 0 {
		c.logger.Debug("cancelled timers", "count", n)
	}
	if h != nil {
		if err := h.Close(); err != nil {
			c.logger.Error("closing engine", "error", err)
		}
	}
	c.mu.Lock()
	c.handle = nil
	net := c.net
	c.net = nil
	c.mu.Unlock()
	if net != nil {
		net.Close()
	}

	if c.request.Load() == reqReboot {
		c.status.Store(int32(StatusRebooting))
		c.reg.record("update status", func(s RecordStore) error { return s.UpdateStatus(c.id, StatusRebooting.String()) })
	} else {
		c.status.Store(int32(StatusOff))
	}
}
