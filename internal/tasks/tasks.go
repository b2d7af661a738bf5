// Package tasks runs work on a single designated goroutine. Computers are
// constructed there so that setup against shared process state is
// serialized.
package tasks

import (
	"context"
	"errors"
	"log/slog"
)

var ErrStopped = errors.New("task queue stopped")

type mainKey struct{}

// OnMain reports whether ctx belongs to a task running on the queue's
// goroutine.
func OnMain(ctx context.Context) bool {
	return ctx.Value(mainKey{}) != nil
}

type result struct {
	v   any
	err error
}

type task struct {
	fn   func(ctx context.Context) (any, error)
	done chan result
}

// Queue is a main-thread work queue. Do blocks for the result, Post does not.
type Queue struct {
	logger  *slog.Logger
	tasks   chan task
	stopped chan struct{}
}

func New(size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 64
	}
	return &Queue{
		logger:  logger,
		tasks:   make(chan task, size),
		stopped: make(chan struct{}),
	}
}

// Do runs fn on the queue's goroutine and waits for it. Called from a task
// that is already on that goroutine, fn runs inline.
func (q *Queue) Do(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if OnMain(ctx) {
		return fn(ctx)
	}
	t := task{fn: fn, done: make(chan result, 1)}
	select {
	case q.tasks <- t:
	case <-q.stopped:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-t.done:
		return r.v, r.err
	case <-q.stopped:
		// the loop may have run t just before it stopped
		select {
		case r := <-t.done:
			return r.v, r.err
		default:
			return nil, ErrStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Post queues fn without waiting for it.
func (q *Queue) Post(fn func(ctx context.Context)) error {
	t := task{fn: func(ctx context.Context) (any, error) {
		fn(ctx)
		return nil, nil
	}}
	select {
	case q.tasks <- t:
		return nil
	case <-q.stopped:
		return ErrStopped
	}
}

// Loop runs queued tasks until ctx is done. It must be called from exactly
// one goroutine.
func (q *Queue) Loop(ctx context.Context) {
	defer close(q.stopped)
	mainCtx := context.WithValue(ctx, mainKey{}, true)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-q.tasks:
			q.run(mainCtx, t)
		}
	}
}

// RunPending runs the tasks queued so far without blocking and returns how
// many ran.
func (q *Queue) RunPending(ctx context.Context) int {
	mainCtx := context.WithValue(ctx, mainKey{}, true)
	n := 0
	for {
		select {
		case t := <-q.tasks:
			q.run(mainCtx, t)
			n++
		default:
			return n
		}
	}
}

func (q *Queue) run(ctx context.Context, t task) {
	defer func() {
		if p := recover(); p != nil {
			q.logger.Error("tasks: panic in task", "panic", p)
			if t.done != nil {
				t.done <- result{err: errors.New("task panicked")}
			}
		}
	}()
	v, err := t.fn(ctx)
	if t.done != nil {
		t.done <- result{v: v, err: err}
	}
}
