package computer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/event"
	"github.com/p-arndt/rechenkasten/internal/metrics"
	"github.com/p-arndt/rechenkasten/internal/mount"
	"github.com/p-arndt/rechenkasten/internal/netevent"
	"github.com/p-arndt/rechenkasten/internal/peripheral"
	"github.com/p-arndt/rechenkasten/internal/ref"
	"github.com/p-arndt/rechenkasten/internal/rom"
	"github.com/p-arndt/rechenkasten/internal/tasks"
	"github.com/p-arndt/rechenkasten/internal/terminal"
	"github.com/p-arndt/rechenkasten/internal/timer"
	"github.com/p-arndt/rechenkasten/internal/vfs"
	"github.com/p-arndt/rechenkasten/internal/workspace"
)

// Options wires a Registry. Config, Engine and Workspace are required.
type Options struct {
	Config    *config.Config
	Engine    engine.Engine
	Workspace *workspace.Manager

	Store   RecordStore
	Clock   clockwork.Clock
	Tasks   *tasks.Queue
	Net     *netevent.Client
	Types   *peripheral.Types
	Trees   *vfs.Table
	Hooks   *event.Hooks
	Metrics *metrics.Metrics
	// Terminal returns the terminal of a new computer. Defaults to a
	// buffer keeping the last 64KiB.
	Terminal func(id int) terminal.Terminal
	// BIOS overrides the boot program.
	BIOS         []byte
	Unresponsive UnresponsiveFunc
	OnState      func(c *Computer, s State)
	Logger       *slog.Logger
}

// Registry is the process-wide set of live computers.
type Registry struct {
	cfg          atomic.Pointer[config.Config]
	engine       engine.Engine
	workspace    *workspace.Manager
	store        RecordStore
	clock        clockwork.Clock
	tasks        *tasks.Queue
	net          *netevent.Client
	types        *peripheral.Types
	trees        *vfs.Table
	hooks        *event.Hooks
	metrics      *metrics.Metrics
	terminal     func(id int) terminal.Terminal
	bios         []byte
	unresponsive UnresponsiveFunc
	onState      func(c *Computer, s State)
	logger       *slog.Logger
	timers       *timer.Service

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	gen      uint64
	live     map[int]*Computer
	starting map[int]bool
	freed    map[ref.Computer]time.Time
	closed   bool
}

func NewRegistry(opts Options) (*Registry, error) {
	if opts.Config == nil || opts.Engine == nil || opts.Workspace == nil {
		return nil, fmt.Errorf("registry needs config, engine and workspace")
	}
	r := &Registry{
		engine:       opts.Engine,
		workspace:    opts.Workspace,
		store:        opts.Store,
		clock:        opts.Clock,
		tasks:        opts.Tasks,
		net:          opts.Net,
		types:        opts.Types,
		trees:        opts.Trees,
		hooks:        opts.Hooks,
		metrics:      opts.Metrics,
		terminal:     opts.Terminal,
		bios:         opts.BIOS,
		unresponsive: opts.Unresponsive,
		onState:      opts.OnState,
		logger:       opts.Logger,
		live:         make(map[int]*Computer),
		starting:     make(map[int]bool),
		freed:        make(map[ref.Computer]time.Time),
	}
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.types == nil {
		r.types = peripheral.NewTypes()
	}
	if r.trees == nil {
		r.trees = vfs.NewTable()
		if err := rom.Register(r.trees); err != nil {
			return nil, err
		}
	}
	if r.hooks == nil {
		r.hooks = event.NewHooks()
	}
	if r.terminal == nil {
		r.terminal = func(int) terminal.Terminal { return terminal.NewBuffer(0) }
	}
	if r.unresponsive == nil {
		r.unresponsive = func(*Computer) Decision { return Restart }
	}
	r.cfg.Store(opts.Config)
	r.timers = timer.NewService(r.clock, r, r.logger)
	r.types.Register(RemoteType, r.newRemote)
	r.ctx, r.cancel = context.WithCancel(context.Background())

	r.metrics.RegisterGaugeFunc("timers_active", "Armed guest timers.", func() float64 {
		return float64(r.timers.Active())
	})
	return r, nil
}

func (r *Registry) config() *config.Config { return r.cfg.Load() }

// SetConfig swaps the runtime tunables. Running computers pick up the new
// limits on their next check.
func (r *Registry) SetConfig(cfg *config.Config) {
	r.cfg.Store(cfg)
	if r.net != nil {
		r.net.SetLimits(NetLimits(cfg))
	}
}

// NetLimits derives the network limits from cfg.
func NetLimits(cfg *config.Config) netevent.Limits {
	return netevent.Limits{
		MaxRequests:     cfg.Limits.MaxRequests,
		MaxWebsockets:   cfg.Limits.MaxWebsockets,
		Timeout:         cfg.HTTPTimeout(),
		MaxResponseSize: cfg.MaxResponseBytes(),
	}
}

func (r *Registry) Timers() *timer.Service        { return r.timers }
func (r *Registry) Hooks() *event.Hooks           { return r.hooks }
func (r *Registry) Types() *peripheral.Types      { return r.types }
func (r *Registry) Workspace() *workspace.Manager { return r.workspace }

// Start constructs computer id and spawns its runner. Construction runs
// on the task queue when one is configured. On failure nothing is
// registered.
func (r *Registry) Start(ctx context.Context, id int) (*Computer, error) {
	if id < 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidID, id)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if _, ok := r.live[id]; ok || r.starting[id] {
		r.mu.Unlock()
		return nil, fmt.Errorf("computer %d: %w", id, ErrAlreadyRunning)
	}
	r.starting[id] = true
	r.gen++
	cref := ref.Computer{ID: id, Gen: r.gen}
	r.mu.Unlock()

	c, err := r.construct(ctx, cref)

	r.mu.Lock()
	delete(r.starting, id)
	if err == nil && r.closed {
		err = ErrRegistryClosed
	}
	if err != nil {
		r.mu.Unlock()
		return nil, fmt.Errorf("start computer %d: %w", id, err)
	}
	r.live[id] = c
	r.wg.Add(1)
	r.mu.Unlock()

	r.metrics.ComputerStarted()
	r.logger.Info("computer started", "computer_id", id, "ref", cref.String())
	go c.run()
	return c, nil
}

func (r *Registry) construct(ctx context.Context, cref ref.Computer) (*Computer, error) {
	if r.tasks == nil {
		return r.newComputer(cref)
	}
	v, err := r.tasks.Do(ctx, func(context.Context) (any, error) {
		return r.newComputer(cref)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Computer), nil
}

func (r *Registry) newComputer(cref ref.Computer) (*Computer, error) {
	cfg := r.config()
	dir, err := r.workspace.Ensure(cref.ID)
	if err != nil {
		return nil, err
	}
	data, err := mount.NewDirBackend(dir)
	if err != nil {
		return nil, err
	}

	c := &Computer{
		id:     cref.ID,
		ref:    cref,
		reg:    r,
		logger: r.logger.With("computer_id", cref.ID),
		mounts: mount.NewTable(data),
		data:   data,
		queue:  event.NewQueue(cref.ID, r.hooks),
		term:   r.terminal(cref.ID),
		done:   make(chan struct{}),
	}
	c.peripherals = peripheral.NewSet(r.types, c)
	if err := r.installMounts(c, cfg); err != nil {
		return nil, err
	}

	if r.store != nil {
		if err := r.store.EnsureComputer(cref.ID); err != nil {
			r.logger.Error("registry: ensure record", "computer_id", cref.ID, "error", err)
		} else if rec, err := r.store.GetComputer(cref.ID); err == nil && rec != nil {
			c.label = rec.Label
		}
	}
	return c, nil
}

// installMounts adds the ROM, the debug tree and the configured host
// directories.
func (r *Registry) installMounts(c *Computer, cfg *config.Config) error {
	var romBackend mount.Backend
	if cfg.ROMPath != "" {
		dir := filepath.Join(cfg.ROMPath, "rom")
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return fmt.Errorf("rom directory %s not found", dir)
		}
		b, err := mount.NewDirBackend(dir)
		if err != nil {
			return err
		}
		romBackend = b
	} else {
		tree, ok := r.trees.Get("rom")
		if !ok {
			return fmt.Errorf("no rom tree registered")
		}
		romBackend = mount.NewTreeBackend("rom", tree)
	}
	if err := c.mounts.Mount("rom", romBackend, cfg.ROMReadOnly); err != nil {
		return fmt.Errorf("mounting rom: %w", err)
	}

	if cfg.DebugROM {
		if tree, ok := r.trees.Get("debug"); ok {
			if err := c.mounts.Mount("debug", mount.NewTreeBackend("debug", tree), true); err != nil {
				return fmt.Errorf("mounting debug: %w", err)
			}
		}
	}

	for _, m := range cfg.Mounts {
		if err := c.Mount(m.Path, m.Source, m.ReadOnly); err != nil {
			return fmt.Errorf("mounting %s: %w", m.Path, err)
		}
	}
	return nil
}

func (r *Registry) loadBIOS(cfg *config.Config) (string, []byte, error) {
	if r.bios != nil {
		return rom.BIOSName, r.bios, nil
	}
	if cfg.ROMPath != "" {
		p := filepath.Join(cfg.ROMPath, rom.BIOSName)
		data, err := os.ReadFile(p)
		if err != nil {
			return "", nil, fmt.Errorf("reading bios: %w", err)
		}
		return rom.BIOSName, data, nil
	}
	return rom.BIOSName, rom.BIOS(), nil
}

// Lookup returns the live computer with id.
func (r *Registry) Lookup(id int) (*Computer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.live[id]
	return c, ok
}

// IsRunning reports whether a computer with id is live.
func (r *Registry) IsRunning(id int) bool {
	_, ok := r.Lookup(id)
	return ok
}

// Resolve dereferences a weak reference. It fails once the referenced
// computer terminated, even if the id was started again since.
func (r *Registry) Resolve(cref ref.Computer) (*Computer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.live[cref.ID]
	if !ok || c.ref != cref {
		return nil, false
	}
	return c, true
}

// Alive implements ref.Liveness.
func (r *Registry) Alive(cref ref.Computer) bool {
	_, ok := r.Resolve(cref)
	return ok
}

// IsFreed reports whether cref terminated within the retention window.
func (r *Registry) IsFreed(cref ref.Computer) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.freed[cref]
	return ok
}

// PruneFreed forgets freed references older than retention.
func (r *Registry) PruneFreed(retention time.Duration) int {
	cutoff := r.clock.Now().Add(-retention)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for cref, at := range r.freed {
		if !at.After(cutoff) {
			delete(r.freed, cref)
			n++
		}
	}
	return n
}

// List returns the live computers sorted by id.
func (r *Registry) List() []*Computer {
	r.mu.RLock()
	out := make([]*Computer, 0, len(r.live))
	for _, c := range r.live {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// ForEach calls fn on a snapshot of the live computers until fn returns
// false. Computers may terminate while it runs.
func (r *Registry) ForEach(fn func(c *Computer) bool) {
	for _, c := range r.List() {
		if !fn(c) {
			return
		}
	}
}

func (r *Registry) Shutdown(id int) error {
	c, ok := r.Lookup(id)
	if !ok {
		return fmt.Errorf("computer %d: %w", id, ErrNotFound)
	}
	c.Shutdown()
	return nil
}

func (r *Registry) Reboot(id int) error {
	c, ok := r.Lookup(id)
	if !ok {
		return fmt.Errorf("computer %d: %w", id, ErrNotFound)
	}
	c.Reboot()
	return nil
}

func (r *Registry) QueueEvent(id int, name string, args ...any) error {
	c, ok := r.Lookup(id)
	if !ok {
		return fmt.Errorf("computer %d: %w", id, ErrNotFound)
	}
	c.QueueEvent(name, args...)
	return nil
}

// Close shuts every computer down and waits for the runners until ctx
// expires. No computer can be started afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.ForEach(func(c *Computer) bool {
		c.Shutdown()
		return true
	})

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		// abort engines that ignore terminate
		r.cancel()
		r.ForEach(func(c *Computer) bool {
			c.forceStop(false)
			return true
		})
		<-done
		return ctx.Err()
	}
}

// finish is the Terminated state: the computer leaves the registry and
// its reference becomes stale.
func (r *Registry) finish(c *Computer) {
	c.setState(StateTerminated)
	c.queue.Close()
	r.timers.CancelOwned(c.ref)
	c.peripherals.CloseAll()
	r.hooks.ClearFor(c.id)

	r.mu.Lock()
	if r.live[c.id] == c {
		delete(r.live, c.id)
	}
	r.freed[c.ref] = r.clock.Now()
	r.mu.Unlock()

	c.status.Store(int32(StatusOff))
	r.record("update status", func(s RecordStore) error { return s.UpdateStatus(c.id, StatusOff.String()) })
	r.metrics.ComputerStopped()
	r.logger.Info("computer terminated", "computer_id", c.id, "boots", c.BootCount())
	close(c.done)
	r.wg.Done()
}

// record runs a store update if a store is configured. Failures are
// logged; persistence never stops a computer.
func (r *Registry) record(what string, fn func(s RecordStore) error) {
	if r.store == nil {
		return
	}
	if err := fn(r.store); err != nil {
		r.logger.Error("registry: "+what, "error", err)
	}
}
