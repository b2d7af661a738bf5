package event

import "sync"

// Hook inspects an event before delivery and returns the name to deliver
// it under. Returning "" suppresses the event.
type Hook func(computerID int, name string, args []any) string

type hookEntry struct {
	id int
	fn Hook
}

// Hooks holds global and per-computer hook chains keyed by event name.
type Hooks struct {
	mu     sync.RWMutex
	nextID int
	global map[string][]hookEntry
	scoped map[int]map[string][]hookEntry
}

func NewHooks() *Hooks {
	return &Hooks{
		global: make(map[string][]hookEntry),
		scoped: make(map[int]map[string][]hookEntry),
	}
}

// Add registers a hook for every computer and returns a function removing it.
func (h *Hooks) Add(event string, fn Hook) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.global[event] = append(h.global[event], hookEntry{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.global[event] = without(h.global[event], id)
	}
}

// AddFor registers a hook for one computer.
func (h *Hooks) AddFor(computerID int, event string, fn Hook) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	m, ok := h.scoped[computerID]
	if !ok {
		m = make(map[string][]hookEntry)
		h.scoped[computerID] = m
	}
	m[event] = append(m[event], hookEntry{id: id, fn: fn})
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if m, ok := h.scoped[computerID]; ok {
			m[event] = without(m[event], id)
		}
	}
}

// ClearFor drops every hook scoped to computerID.
func (h *Hooks) ClearFor(computerID int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.scoped, computerID)
}

// Apply runs the computer's chain for name, then the global chain for the
// name the computer chain left. Chains stop at the first empty name.
func (h *Hooks) Apply(computerID int, name string, args []any) string {
	h.mu.RLock()
	scoped := append([]hookEntry(nil), h.scoped[computerID][name]...)
	h.mu.RUnlock()

	for _, e := range scoped {
		if name = e.fn(computerID, name, args); name == "" {
			return ""
		}
	}

	h.mu.RLock()
	global := append([]hookEntry(nil), h.global[name]...)
	h.mu.RUnlock()

	for _, e := range global {
		if name = e.fn(computerID, name, args); name == "" {
			return ""
		}
	}
	return name
}

func without(entries []hookEntry, id int) []hookEntry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}
