// Package event implements the per-computer event queue guest programs
// block on.
package event

import (
	"context"
	"errors"
	"sync"
)

// Terminate is delivered when a computer is asked to stop.
const Terminate = "terminate"

var ErrClosed = errors.New("event queue closed")

// Event is a materialized event ready for the guest.
type Event struct {
	Name string
	Args []any
}

// Values returns the name followed by the arguments.
func (e Event) Values() []any {
	return append([]any{e.Name}, e.Args...)
}

// Producer builds the event on the consuming goroutine. It returns the
// event name and its arguments.
type Producer func() (string, []any)

type item struct {
	produce     Producer
	epoch       uint64
	constrained bool
}

// Queue is a FIFO of pending events with a single consumer, the
// computer's own goroutine. Any goroutine may push.
type Queue struct {
	computerID int
	hooks      *Hooks

	mu          sync.Mutex
	items       []item
	epoch       uint64
	interrupted bool
	closed      bool
	notify      chan struct{}
}

// NewQueue returns a queue for computerID. hooks may be nil.
func NewQueue(computerID int, hooks *Hooks) *Queue {
	return &Queue{
		computerID: computerID,
		hooks:      hooks,
		notify:     make(chan struct{}, 1),
	}
}

// Push queues a plain event.
func (q *Queue) Push(name string, args ...any) {
	q.PushProducer(func() (string, []any) { return name, args })
}

// PushProducer queues an event whose arguments are built at delivery time.
func (q *Queue) PushProducer(p Producer) {
	q.push(item{produce: p})
}

// PushFor queues an event that is only delivered if the queue is still in
// the given epoch. Events for a previous boot are dropped.
func (q *Queue) PushFor(epoch uint64, p Producer) {
	q.push(item{produce: p, epoch: epoch, constrained: true})
}

func (q *Queue) push(it item) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, it)
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Epoch is the current boot epoch.
func (q *Queue) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// Reset drops every pending event and starts a new epoch.
func (q *Queue) Reset() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.interrupted = false
	q.epoch++
	return q.epoch
}

// Interrupt makes the next WaitNext return Terminate ahead of anything
// already queued.
func (q *Queue) Interrupt() {
	q.mu.Lock()
	q.interrupted = true
	q.mu.Unlock()
	q.wake()
}

// TakeInterrupt clears a pending Interrupt and reports whether one was
// still waiting to be delivered.
func (q *Queue) TakeInterrupt() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	was := q.interrupted
	q.interrupted = false
	return was
}

// Close wakes the consumer with ErrClosed. Later pushes are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// WaitNext blocks until an event is deliverable or ctx is done.
func (q *Queue) WaitNext(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return Event{}, ErrClosed
		}
		if q.interrupted {
			q.interrupted = false
			q.mu.Unlock()
			return Event{Name: Terminate}, nil
		}
		if len(q.items) > 0 {
			it := q.items[0]
			q.items[0] = item{}
			q.items = q.items[1:]
			stale := it.constrained && it.epoch != q.epoch
			q.mu.Unlock()
			if stale {
				continue
			}
			if ev, ok := q.materialize(it); ok {
				return ev, nil
			}
			continue
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Event{}, ctx.Err()
		}
	}
}

func (q *Queue) materialize(it item) (Event, bool) {
	name, args := it.produce()
	if q.hooks != nil {
		name = q.hooks.Apply(q.computerID, name, args)
	}
	if name == "" {
		return Event{}, false
	}
	return Event{Name: name, Args: args}, true
}
