// Package pool runs background jobs on a fixed set of workers. Network
// requests made by guests are executed here so that a slow remote never
// blocks a computer's event loop.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrFull    = errors.New("worker pool queue is full")
	ErrStopped = errors.New("worker pool is not running")
)

// Job is one unit of background work. ctx is cancelled when the pool stops.
type Job func(ctx context.Context)

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
}

// Pool is a fixed-size worker pool with a bounded queue.
type Pool struct {
	cfg     Config
	logger  *slog.Logger
	jobs    chan Job
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	active  atomic.Int32
}

func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 16
	}
	return &Pool{
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan Job, cfg.QueueSize),
		stopCh: make(chan struct{}),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)

	p.logger.Info("starting worker pool", "workers", p.cfg.Workers, "queue", p.cfg.QueueSize)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Stop cancels running jobs, drops queued ones and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.cancel()
	p.mu.Unlock()

	p.wg.Wait()
	dropped := 0
	for {
		select {
		case <-p.jobs:
			dropped++
		default:
			if dropped > 0 {
				p.logger.Info("worker pool: dropped queued jobs", "count", dropped)
			}
			return
		}
	}
}

// Submit queues job without blocking.
func (p *Pool) Submit(job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.running {
		return ErrStopped
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrFull
	}
}

// Pending is the number of queued jobs not yet picked up.
func (p *Pool) Pending() int { return len(p.jobs) }

// Active is the number of jobs currently executing.
func (p *Pool) Active() int { return int(p.active.Load()) }

func (p *Pool) worker(ctx context.Context, n int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case job := <-p.jobs:
			p.run(ctx, n, job)
		}
	}
}

func (p *Pool) run(ctx context.Context, n int, job Job) {
	p.active.Add(1)
	defer p.active.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker pool: job panicked", "worker", n, "panic", r)
		}
	}()
	job(ctx)
}
