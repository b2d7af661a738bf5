package event

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func next(t *testing.T, q *Queue) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := q.WaitNext(ctx)
	require.NoError(t, err)
	return ev
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(0, nil)
	for i := 0; i < 50; i++ {
		q.Push("char", i)
	}
	for i := 0; i < 50; i++ {
		ev := next(t, q)
		assert.Equal(t, "char", ev.Name)
		assert.Equal(t, []any{i}, ev.Args)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueueFIFOPerProducerAcrossGoroutines(t *testing.T) {
	q := NewQueue(0, nil)
	const producers, perProducer = 4, 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(fmt.Sprintf("p%d", p), i)
			}
		}(p)
	}

	last := map[string]int{}
	for n := 0; n < producers*perProducer; n++ {
		ev := next(t, q)
		seq := ev.Args[0].(int)
		if prev, ok := last[ev.Name]; ok {
			assert.Equal(t, prev+1, seq, "events from %s out of order", ev.Name)
		} else {
			assert.Equal(t, 0, seq)
		}
		last[ev.Name] = seq
	}
	wg.Wait()
}

func TestQueueWakesBlockedConsumer(t *testing.T) {
	q := NewQueue(0, nil)
	got := make(chan Event, 1)
	go func() {
		ev, err := q.WaitNext(context.Background())
		if err == nil {
			got <- ev
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push("timer", 7)

	select {
	case ev := <-got:
		assert.Equal(t, Event{Name: "timer", Args: []any{7}}, ev)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken")
	}
}

func TestQueueTakeInterrupt(t *testing.T) {
	q := NewQueue(0, nil)
	assert.False(t, q.TakeInterrupt())

	q.Interrupt()
	assert.True(t, q.TakeInterrupt())
	assert.False(t, q.TakeInterrupt())

	// a delivered interrupt is not taken again
	q.Interrupt()
	ev, err := q.WaitNext(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Terminate, ev.Name)
	assert.False(t, q.TakeInterrupt())
}

func TestQueueContextCancel(t *testing.T) {
	q := NewQueue(0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := q.WaitNext(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue(0, nil)
	q.Push("a")
	q.Close()
	q.Push("b")

	_, err := q.WaitNext(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, q.Len())
}

func TestQueueInterruptJumpsAhead(t *testing.T) {
	q := NewQueue(0, nil)
	q.Push("key", 30)
	q.Interrupt()

	assert.Equal(t, Terminate, next(t, q).Name)
	assert.Equal(t, "key", next(t, q).Name)
}

func TestQueueProducerRunsOnConsumer(t *testing.T) {
	q := NewQueue(0, nil)
	var calls atomic.Int32
	q.PushProducer(func() (string, []any) {
		calls.Add(1)
		return "http_success", []any{"http://example.com", "body"}
	})
	assert.Equal(t, int32(0), calls.Load())

	ev := next(t, q)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "http_success", ev.Name)
	assert.Equal(t, []any{"http_success", "http://example.com", "body"}, ev.Values())
}

func TestQueueResetDropsStaleEpoch(t *testing.T) {
	q := NewQueue(0, nil)
	old := q.Epoch()
	q.PushFor(old, func() (string, []any) { return "from_old_boot", nil })
	q.Push("pending")

	cur := q.Reset()
	assert.Equal(t, old+1, cur)
	assert.Equal(t, 0, q.Len())

	q.PushFor(old, func() (string, []any) { return "late_old_boot", nil })
	q.PushFor(cur, func() (string, []any) { return "current_boot", nil })

	assert.Equal(t, "current_boot", next(t, q).Name)
}

func TestQueueSuppressedEventSkipped(t *testing.T) {
	hooks := NewHooks()
	hooks.Add("mouse_move", func(int, string, []any) string { return "" })
	q := NewQueue(3, hooks)
	q.Push("mouse_move", 1, 2)
	q.Push("key", 28)

	assert.Equal(t, "key", next(t, q).Name)
}
