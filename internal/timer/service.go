// Package timer schedules one-shot callbacks owned by computers.
package timer

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/p-arndt/rechenkasten/internal/ref"
)

// Handle identifies a scheduled timer. Handles increase monotonically, so a
// guest holding a retired handle can never name a newer timer with it.
type Handle uint32

type state int

const (
	stateActive state = iota
	stateFreed
	stateRetired
)

type entry struct {
	handle Handle
	owner  ref.Computer
	fire   func(Handle)
	state  state
	t      clockwork.Timer
}

// Service is the process-wide timer registry. Callbacks run on clock
// goroutines; each one re-checks the handle state and the owner's liveness
// before doing anything.
type Service struct {
	clock  clockwork.Clock
	live   ref.Liveness
	logger *slog.Logger

	mu     sync.Mutex
	last   Handle
	timers map[Handle]*entry
	owned  map[ref.Computer]map[Handle]*entry
}

func NewService(clock clockwork.Clock, live ref.Liveness, logger *slog.Logger) *Service {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		clock:  clock,
		live:   live,
		logger: logger,
		timers: make(map[Handle]*entry),
		owned:  make(map[ref.Computer]map[Handle]*entry),
	}
}

// Schedule arms a one-shot timer for owner. fire runs at most once and
// never after the handle was cancelled or the owner went away.
func (s *Service) Schedule(owner ref.Computer, delay time.Duration, fire func(Handle)) Handle {
	s.mu.Lock()
	h := s.allocate()
	e := &entry{handle: h, owner: owner, fire: fire}
	s.timers[h] = e
	m, ok := s.owned[owner]
	if !ok {
		m = make(map[Handle]*entry)
		s.owned[owner] = m
	}
	m[h] = e
	s.mu.Unlock()

	t := s.clock.AfterFunc(delay, func() { s.onFire(e) })

	s.mu.Lock()
	e.t = t
	cancelled := e.state != stateActive
	s.mu.Unlock()
	if cancelled {
		t.Stop()
	}
	return h
}

// allocate returns the next handle. After wrapping around it skips zero and
// handles that are still in use. s.mu must be held.
func (s *Service) allocate() Handle {
	for {
		s.last++
		if _, used := s.timers[s.last]; s.last != 0 && !used {
			return s.last
		}
	}
}

func (s *Service) onFire(e *entry) {
	s.mu.Lock()
	if cur, ok := s.timers[e.handle]; !ok || cur != e {
		s.mu.Unlock()
		return
	}
	wasActive := e.state == stateActive
	s.retire(e)
	s.mu.Unlock()

	if !wasActive {
		return
	}
	if s.live != nil && !s.live.Alive(e.owner) {
		s.logger.Debug("timer: owner gone, dropping", "computer_id", e.owner.ID, "timer", e.handle)
		return
	}
	e.fire(e.handle)
}

// retire drops e from every table. s.mu must be held.
func (s *Service) retire(e *entry) {
	if e.state == stateRetired {
		return
	}
	e.state = stateRetired
	delete(s.timers, e.handle)
	if m, ok := s.owned[e.owner]; ok {
		delete(m, e.handle)
		if len(m) == 0 {
			delete(s.owned, e.owner)
		}
	}
}

// markFreed marks e as cancelled. s.mu must be held.
func (s *Service) markFreed(e *entry) {
	e.state = stateFreed
	if m, ok := s.owned[e.owner]; ok {
		delete(m, e.handle)
		if len(m) == 0 {
			delete(s.owned, e.owner)
		}
	}
}

// stop removes the clock timer. If the callback is already on its way the
// entry stays freed until onFire sees it.
func (s *Service) stop(e *entry) {
	s.mu.Lock()
	t := e.t
	s.mu.Unlock()
	if t == nil || !t.Stop() {
		return
	}
	s.mu.Lock()
	if cur, ok := s.timers[e.handle]; ok && cur == e {
		s.retire(e)
	}
	s.mu.Unlock()
}

// Cancel cancels h if owner holds it. Cancelling an unknown, foreign or
// retired handle is a no-op and returns false.
func (s *Service) Cancel(owner ref.Computer, h Handle) bool {
	s.mu.Lock()
	e, ok := s.timers[h]
	if !ok || e.owner != owner || e.state != stateActive {
		s.mu.Unlock()
		return false
	}
	s.markFreed(e)
	s.mu.Unlock()

	s.stop(e)
	return true
}

// CancelOwned cancels every active timer of owner and returns how many
// there were.
func (s *Service) CancelOwned(owner ref.Computer) int {
	s.mu.Lock()
	var entries []*entry
	for _, e := range s.owned[owner] {
		entries = append(entries, e)
	}
	for _, e := range entries {
		s.markFreed(e)
	}
	s.mu.Unlock()

	for _, e := range entries {
		s.stop(e)
	}
	return len(entries)
}

// Active returns the number of timers that may still fire.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.timers {
		if e.state == stateActive {
			n++
		}
	}
	return n
}

// Owned returns the number of active timers held by owner.
func (s *Service) Owned(owner ref.Computer) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.owned[owner])
}

// Clock exposes the clock timers run on.
func (s *Service) Clock() clockwork.Clock {
	return s.clock
}
