package computer

import (
	"sync"
	"time"

	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/engine"
)

// watchdog aborts guests that run too long without asking for an event.
// Once the abort timeout passed, every interval raises an abort in the
// engine and counts an escalation. When the count reaches the limit the
// host decides between a forced reboot and more time.
type watchdog struct {
	c        *Computer
	h        engine.Handle
	timeout  time.Duration
	interval time.Duration
	limit    int
	grace    int
	kill     bool

	mu          sync.Mutex
	running     bool
	since       time.Time
	escalations int

	stopCh chan struct{}
	done   chan struct{}
}

func newWatchdog(c *Computer, h engine.Handle, cfg *config.Config) *watchdog {
	limit := cfg.WatchdogEscalations
	if limit <= 0 {
		limit = 5
	}
	return &watchdog{
		c:        c,
		h:        h,
		timeout:  cfg.AbortTimeout(),
		interval: cfg.WatchdogInterval(),
		limit:    limit,
		grace:    cfg.WaitGrace,
		kill:     cfg.StandardsMode,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *watchdog) start() {
	ticker := w.c.reg.clock.NewTicker(w.interval)
	go func() {
		defer close(w.done)
		defer ticker.Stop()
		for {
			select {
			case <-w.stopCh:
				return
			case now := <-ticker.Chan():
				w.tick(now)
			}
		}
	}()
}

func (w *watchdog) stop() {
	close(w.stopCh)
	<-w.done
}

// resumed arms the deadline: the guest is executing from now on.
func (w *watchdog) resumed() {
	w.mu.Lock()
	w.running = true
	w.since = w.c.reg.clock.Now()
	w.escalations = 0
	w.mu.Unlock()
}

// yielded disarms it: the guest asked for an event or stopped.
func (w *watchdog) yielded() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}

func (w *watchdog) escalationCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.escalations
}

func (w *watchdog) tick(now time.Time) {
	w.mu.Lock()
	if !w.running || now.Sub(w.since) < w.timeout {
		w.mu.Unlock()
		return
	}
	w.escalations++
	n := w.escalations
	w.mu.Unlock()

	w.c.logger.Warn("guest not yielding", "running_for", now.Sub(w.since).String(), "escalation", n)
	w.c.reg.metrics.Escalation("abort")
	w.h.RaiseAbort()
	if n < w.limit {
		return
	}

	if w.kill {
		w.c.reg.metrics.Escalation("kill")
		w.c.logger.Error("killing unresponsive computer")
		w.c.forceStop(false)
		return
	}
	switch w.c.reg.unresponsive(w.c) {
	case Wait:
		w.c.reg.metrics.Escalation("wait")
		w.mu.Lock()
		w.escalations = w.grace
		w.mu.Unlock()
	default:
		w.c.reg.metrics.Escalation("restart")
		w.c.logger.Error("restarting unresponsive computer")
		w.c.forceStop(true)
	}
}
