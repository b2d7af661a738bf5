// Package peripheral defines devices attached to the sides of a computer.
package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/p-arndt/rechenkasten/internal/engine"
)

var (
	ErrAlreadyAttached = errors.New("peripheral already attached")
	ErrUnknownType     = errors.New("unknown peripheral type")
	ErrNotAttached     = errors.New("no peripheral attached")
)

// Peripheral is a host-side device. It outlives the engine of the computer
// it is attached to, so it is told about every new boot.
type Peripheral interface {
	Type() string
	// Methods is the table of calls the guest may make.
	Methods() map[string]engine.Method
	// Reinitialize is called after the computer booted a fresh engine.
	Reinitialize(boot uint64)
	Close() error
}

// Host is the computer a peripheral is attached to.
type Host interface {
	ComputerID() int
	QueueEvent(name string, args ...any)
}

// Constructor builds a peripheral of one type.
type Constructor func(host Host, side string, args []string) (Peripheral, error)

// Types is the registry of constructible peripheral types.
type Types struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
}

func NewTypes() *Types {
	return &Types{ctors: make(map[string]Constructor)}
}

func (t *Types) Register(name string, c Constructor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ctors[name] = c
}

func (t *Types) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.ctors))
	for name := range t.ctors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Types) lookup(name string) (Constructor, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.ctors[name]
	return c, ok
}

// Set is the peripherals attached to one computer, keyed by side.
type Set struct {
	types *Types
	host  Host

	mu       sync.Mutex
	attached map[string]Peripheral
}

func NewSet(types *Types, host Host) *Set {
	return &Set{types: types, host: host, attached: make(map[string]Peripheral)}
}

// Attach constructs a peripheral of type typ on side and queues a
// "peripheral" event.
func (s *Set) Attach(side, typ string, args []string) (Peripheral, error) {
	s.mu.Lock()
	_, taken := s.attached[side]
	s.mu.Unlock()
	if taken {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, side)
	}
	ctor, ok := s.types.lookup(typ)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	p, err := ctor(s.host, side, args)
	if err != nil {
		return nil, fmt.Errorf("create %s on %s: %w", typ, side, err)
	}

	s.mu.Lock()
	if _, taken := s.attached[side]; taken {
		s.mu.Unlock()
		p.Close()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, side)
	}
	s.attached[side] = p
	s.mu.Unlock()

	s.host.QueueEvent("peripheral", side)
	return p, nil
}

// Detach removes the peripheral on side and queues "peripheral_detach".
func (s *Set) Detach(side string) bool {
	s.mu.Lock()
	p, ok := s.attached[side]
	delete(s.attached, side)
	s.mu.Unlock()
	if !ok {
		return false
	}
	p.Close()
	s.host.QueueEvent("peripheral_detach", side)
	return true
}

func (s *Set) Get(side string) (Peripheral, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.attached[side]
	return p, ok
}

// Sides lists the occupied sides in sorted order.
func (s *Set) Sides() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	sides := make([]string, 0, len(s.attached))
	for side := range s.attached {
		sides = append(sides, side)
	}
	sort.Strings(sides)
	return sides
}

// Call invokes method on the peripheral at side.
func (s *Set) Call(ctx context.Context, side, method string, args []string) ([]string, error) {
	p, ok := s.Get(side)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAttached, side)
	}
	lib := engine.Library{Name: side, Methods: p.Methods()}
	return lib.Call(ctx, method, args)
}

// MethodNames lists the methods of the peripheral at side.
func (s *Set) MethodNames(side string) ([]string, error) {
	p, ok := s.Get(side)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotAttached, side)
	}
	return engine.Library{Name: side, Methods: p.Methods()}.MethodNames(), nil
}

// Reinitialize tells every attached peripheral about a new boot.
func (s *Set) Reinitialize(boot uint64) {
	s.mu.Lock()
	ps := make([]Peripheral, 0, len(s.attached))
	for _, p := range s.attached {
		ps = append(ps, p)
	}
	s.mu.Unlock()
	for _, p := range ps {
		p.Reinitialize(boot)
	}
}

// CloseAll detaches everything without queueing events.
func (s *Set) CloseAll() {
	s.mu.Lock()
	ps := s.attached
	s.attached = make(map[string]Peripheral)
	s.mu.Unlock()
	for _, p := range ps {
		p.Close()
	}
}
