// Package ref holds weak references to computer incarnations.
//
// A reference is the computer id plus the generation assigned when that
// incarnation was started. Anything that outlives a computer (timers,
// event producers, cross-computer peripherals) keeps a Computer value and
// asks a Liveness before touching the target.
package ref

import "fmt"

// Computer identifies one incarnation of a virtual computer.
type Computer struct {
	ID  int
	Gen uint64
}

func (c Computer) String() string {
	return fmt.Sprintf("computer %d (gen %d)", c.ID, c.Gen)
}

// IsZero reports whether c was never assigned.
func (c Computer) IsZero() bool {
	return c.Gen == 0
}

// Liveness reports whether a referenced incarnation is still running.
type Liveness interface {
	Alive(c Computer) bool
}

// LivenessFunc adapts a function to Liveness.
type LivenessFunc func(c Computer) bool

func (f LivenessFunc) Alive(c Computer) bool { return f(c) }
