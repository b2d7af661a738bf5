package computer

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/rechenkasten/internal/config"
	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/engine/shell"
	"github.com/p-arndt/rechenkasten/internal/store"
	"github.com/p-arndt/rechenkasten/internal/terminal"
	"github.com/p-arndt/rechenkasten/internal/workspace"
)

const (
	waitTimeout  = 5 * time.Second
	pollInterval = 5 * time.Millisecond
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTestRegistry returns a registry running bios on the shell engine.
func newTestRegistry(t *testing.T, bios string, opts ...func(*Options)) *Registry {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	ws, err := workspace.NewManager(cfg.DataDir)
	require.NoError(t, err)

	o := Options{
		Config:    cfg,
		Engine:    shell.New(testLogger()),
		Workspace: ws,
		BIOS:      []byte(bios),
		Logger:    testLogger(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	r, err := NewRegistry(o)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.Close(ctx)
	})
	return r
}

func withClock(c clockwork.Clock) func(*Options) {
	return func(o *Options) { o.Clock = c }
}

func withEngine(e engine.Engine) func(*Options) {
	return func(o *Options) { o.Engine = e }
}

func withConfig(fn func(cfg *config.Config)) func(*Options) {
	return func(o *Options) { fn(o.Config) }
}

func waitDone(t *testing.T, c *Computer) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("computer %d did not terminate (state %s)", c.ID(), c.State())
	}
}

func waitRunning(t *testing.T, c *Computer) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == StateRunning }, waitTimeout, pollInterval)
}

func output(c *Computer) string {
	return c.Terminal().(*terminal.Buffer).String()
}

// stateLog records lifecycle transitions in order.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(_ *Computer, s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) get() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

// stuckEngine boots guests that never yield. Resume only returns once the
// handle is closed.
type stuckEngine struct {
	mu      sync.Mutex
	handles []*stuckHandle
}

type stuckHandle struct {
	closed chan struct{}
	once   sync.Once
	aborts atomic.Int32
}

func (e *stuckEngine) Boot(context.Context, engine.Env) (engine.Handle, error) {
	h := &stuckHandle{closed: make(chan struct{})}
	e.mu.Lock()
	e.handles = append(e.handles, h)
	e.mu.Unlock()
	return h, nil
}

func (e *stuckEngine) first() *stuckHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.handles) == 0 {
		return nil
	}
	return e.handles[0]
}

func (h *stuckHandle) Resume([]any) engine.Result {
	<-h.closed
	return engine.ErrorResult(engine.ErrClosed)
}

func (h *stuckHandle) RaiseAbort() { h.aborts.Add(1) }

func (h *stuckHandle) Close() error {
	h.once.Do(func() { close(h.closed) })
	return nil
}

type failingEngine struct{ err error }

func (e failingEngine) Boot(context.Context, engine.Env) (engine.Handle, error) {
	return nil, e.err
}

func TestNewRegistryRequiresCollaborators(t *testing.T) {
	_, err := NewRegistry(Options{Config: config.Default()})
	assert.Error(t, err)
}

func TestStartRunsBIOSToCompletion(t *testing.T) {
	r := newTestRegistry(t, `echo "hello from $COMPUTER_ID"`)

	c, err := r.Start(context.Background(), 3)
	require.NoError(t, err)
	waitDone(t, c)

	assert.Contains(t, output(c), "hello from 3")
	assert.Equal(t, StateTerminated, c.State())
	assert.Equal(t, StatusOff, c.Status())
	assert.NoError(t, c.Err())
	_, ok := r.Lookup(3)
	assert.False(t, ok)
	assert.True(t, r.IsFreed(c.Ref()))
}

func TestStartRejectsDuplicateAndInvalidIDs(t *testing.T) {
	r := newTestRegistry(t, `pullEvent`)

	c, err := r.Start(context.Background(), 1)
	require.NoError(t, err)

	_, err = r.Start(context.Background(), 1)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	_, err = r.Start(context.Background(), -1)
	assert.ErrorIs(t, err, ErrInvalidID)

	c.Shutdown()
	waitDone(t, c)
}

func TestConstructionFailureRegistersNothing(t *testing.T) {
	r := newTestRegistry(t, `pullEvent`, withConfig(func(cfg *config.Config) {
		cfg.Mounts = []config.Mount{{Path: "data", Source: "/does/not/exist"}}
	}))

	_, err := r.Start(context.Background(), 4)
	require.Error(t, err)

	_, ok := r.Lookup(4)
	assert.False(t, ok)
	assert.Empty(t, r.List())
}

func TestBootFailureTerminates(t *testing.T) {
	r := newTestRegistry(t, "", withEngine(failingEngine{err: errors.New("no program")}))

	c, err := r.Start(context.Background(), 2)
	require.NoError(t, err)
	waitDone(t, c)

	require.Error(t, c.Err())
	assert.Contains(t, c.Err().Error(), "no program")
}

func TestGuestErrorShutsComputerDown(t *testing.T) {
	var log stateLog
	st, err := store.New(":memory:", 0)
	require.NoError(t, err)
	defer st.Close()

	r := newTestRegistry(t, `exit 3`, func(o *Options) {
		o.OnState = log.record
		o.Store = st
	})

	c, err := r.Start(context.Background(), 5)
	require.NoError(t, err)
	waitDone(t, c)

	assert.Equal(t, []State{StateBooting, StateRunning, StateShuttingDown, StateTerminated}, log.get())
	require.Error(t, c.Err())
	assert.Contains(t, output(c), "exit status 3")
	_, ok := r.Lookup(5)
	assert.False(t, ok)

	rec, err := st.GetComputer(5)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, store.StatusOff, rec.Status)
	assert.Equal(t, 1, rec.BootCount)
	assert.Equal(t, "exit status 3", rec.LastError)
}

func TestROMIsMountedReadOnly(t *testing.T) {
	r := newTestRegistry(t, `
cat /rom/help.txt >/dev/null && echo rom-readable
echo x > /rom/x || echo write-denied
fs isReadOnly rom
fs getDrive rom/help.txt
`)

	c, err := r.Start(context.Background(), 5)
	require.NoError(t, err)
	waitDone(t, c)

	out := output(c)
	assert.Contains(t, out, "rom-readable")
	assert.Contains(t, out, "write-denied")
	assert.Contains(t, out, "true\nrom\n")
	_, err = os.Stat(c.DataDir() + "/rom/x")
	assert.True(t, os.IsNotExist(err))
}

func TestEmbeddedBIOSBoots(t *testing.T) {
	r := newTestRegistry(t, "", func(o *Options) { o.BIOS = nil })

	c, err := r.Start(context.Background(), 8)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return strings.Contains(output(c), "computer 8") }, waitTimeout, pollInterval)
	c.Shutdown()
	waitDone(t, c)
}

func TestTimerDoesNotFireAfterTeardown(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(t, `os startTimer 1; pullEvent`, withClock(clock))

	c, err := r.Start(context.Background(), 6)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Timers().Owned(c.Ref()) == 1 }, waitTimeout, pollInterval)

	clock.Advance(500 * time.Millisecond)
	c.Shutdown()
	waitDone(t, c)

	assert.Zero(t, r.Timers().Owned(c.Ref()))
	assert.Zero(t, r.Timers().Active())
	clock.Advance(time.Second)
	assert.Zero(t, r.Timers().Active())
	assert.Zero(t, c.PendingEvents())
}

func TestSleepWakesOnTimer(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(t, `sleep 1; echo woke`, withClock(clock))

	c, err := r.Start(context.Background(), 6)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Timers().Owned(c.Ref()) == 1 }, waitTimeout, pollInterval)

	clock.Advance(time.Second)
	waitDone(t, c)
	assert.Contains(t, output(c), "woke")
}

func TestSleepIgnoresEarlierTimerEvent(t *testing.T) {
	clock := clockwork.NewFakeClock()
	bios := `os startTimer 0.001
while [ ! -f go ]; do :; done
sleep 100
echo woke`
	r := newTestRegistry(t, bios, withClock(clock))

	c, err := r.Start(context.Background(), 6)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Timers().Owned(c.Ref()) == 1 }, waitTimeout, pollInterval)

	// the first timer's event sits in the queue while the guest is busy
	clock.Advance(time.Millisecond)
	require.Eventually(t, func() bool { return c.PendingEvents() == 1 }, waitTimeout, pollInterval)
	require.NoError(t, os.WriteFile(filepath.Join(c.DataDir(), "go"), nil, 0o644))

	require.Eventually(t, func() bool { return r.Timers().Owned(c.Ref()) == 1 && c.PendingEvents() == 0 }, waitTimeout, pollInterval)
	assert.Never(t, func() bool { return strings.Contains(output(c), "woke") }, 100*time.Millisecond, pollInterval)

	clock.Advance(100 * time.Second)
	waitDone(t, c)
	assert.Contains(t, output(c), "woke")
}

func TestShutdownDeliversTerminateToBusyGuest(t *testing.T) {
	bios := `while [ ! -f go ]; do :; done
ev=$(pullEventRaw)
echo "got:$ev"
pullEventRaw
echo unreachable`
	r := newTestRegistry(t, bios)

	c, err := r.Start(context.Background(), 7)
	require.NoError(t, err)
	waitRunning(t, c)

	c.Shutdown()
	require.NoError(t, os.WriteFile(filepath.Join(c.DataDir(), "go"), nil, 0o644))
	waitDone(t, c)

	out := output(c)
	assert.Contains(t, out, "got:terminate")
	assert.NotContains(t, out, "unreachable")
}

func TestQueueEventRespectsFilter(t *testing.T) {
	r := newTestRegistry(t, `pullEvent ping`)

	c, err := r.Start(context.Background(), 1)
	require.NoError(t, err)
	waitRunning(t, c)

	require.NoError(t, r.QueueEvent(1, "noise", "x"))
	require.NoError(t, r.QueueEvent(1, "ping", "a", 1))
	waitDone(t, c)

	out := output(c)
	assert.Contains(t, out, "ping a 1")
	assert.NotContains(t, out, "noise")
	assert.ErrorIs(t, r.QueueEvent(1, "ping"), ErrNotFound)
}

func TestRebootBootsAgain(t *testing.T) {
	r := newTestRegistry(t, `echo booted; pullEvent`)

	c, err := r.Start(context.Background(), 1)
	require.NoError(t, err)
	waitRunning(t, c)

	require.NoError(t, r.Reboot(1))
	require.Eventually(t, func() bool { return c.BootCount() == 2 && c.State() == StateRunning }, waitTimeout, pollInterval)
	got, ok := r.Lookup(1)
	require.True(t, ok)
	assert.Same(t, c, got)

	require.NoError(t, r.Shutdown(1))
	waitDone(t, c)
	assert.ErrorIs(t, r.Reboot(1), ErrNotFound)
}

func TestGuestShutdownAndReboot(t *testing.T) {
	t.Run("shutdown", func(t *testing.T) {
		r := newTestRegistry(t, `os shutdown; echo unreachable`)
		c, err := r.Start(context.Background(), 1)
		require.NoError(t, err)
		waitDone(t, c)
		assert.NotContains(t, output(c), "unreachable")
		assert.NoError(t, c.Err())
	})

	t.Run("reboot", func(t *testing.T) {
		r := newTestRegistry(t, `os reboot`)
		c, err := r.Start(context.Background(), 1)
		require.NoError(t, err)
		require.Eventually(t, func() bool { return c.BootCount() >= 3 }, waitTimeout, pollInterval)
		c.Shutdown()
		waitDone(t, c)
	})
}

func TestCloseStopsEverything(t *testing.T) {
	r := newTestRegistry(t, `pullEvent`)

	a, err := r.Start(context.Background(), 1)
	require.NoError(t, err)
	b, err := r.Start(context.Background(), 2)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx))

	waitDone(t, a)
	waitDone(t, b)
	assert.Empty(t, r.List())
	_, err = r.Start(context.Background(), 3)
	assert.ErrorIs(t, err, ErrRegistryClosed)
}

func TestCloseForcesStuckGuests(t *testing.T) {
	eng := &stuckEngine{}
	r := newTestRegistry(t, "", withEngine(eng))

	c, err := r.Start(context.Background(), 1)
	require.NoError(t, err)
	waitRunning(t, c)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Close(ctx), context.DeadlineExceeded)
	waitDone(t, c)
}

func TestForEachToleratesTermination(t *testing.T) {
	r := newTestRegistry(t, `pullEvent`)
	for id := 1; id <= 3; id++ {
		_, err := r.Start(context.Background(), id)
		require.NoError(t, err)
	}

	var seen []int
	r.ForEach(func(c *Computer) bool {
		seen = append(seen, c.ID())
		c.Shutdown()
		return true
	})
	assert.Equal(t, []int{1, 2, 3}, seen)
	require.Eventually(t, func() bool { return len(r.List()) == 0 }, waitTimeout, pollInterval)
}

func TestResolveAndPruneFreed(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := newTestRegistry(t, `true`, withClock(clock))

	c, err := r.Start(context.Background(), 9)
	require.NoError(t, err)
	old := c.Ref()
	waitDone(t, c)

	_, ok := r.Resolve(old)
	assert.False(t, ok)
	assert.False(t, r.Alive(old))
	assert.True(t, r.IsFreed(old))

	assert.Zero(t, r.PruneFreed(time.Minute))
	clock.Advance(2 * time.Minute)
	assert.Equal(t, 1, r.PruneFreed(time.Minute))
	assert.False(t, r.IsFreed(old))
}

func TestRestartGetsNewGeneration(t *testing.T) {
	r := newTestRegistry(t, `pullEvent`)

	c, err := r.Start(context.Background(), 1)
	require.NoError(t, err)
	c.Shutdown()
	waitDone(t, c)

	c2, err := r.Start(context.Background(), 1)
	require.NoError(t, err)
	defer func() {
		c2.Shutdown()
		waitDone(t, c2)
	}()

	assert.NotEqual(t, c.Ref(), c2.Ref())
	_, ok := r.Resolve(c.Ref())
	assert.False(t, ok)
	got, ok := r.Resolve(c2.Ref())
	require.True(t, ok)
	assert.Same(t, c2, got)
}

func TestLabelSurvivesRestart(t *testing.T) {
	st, err := store.New(":memory:", 0)
	require.NoError(t, err)
	defer st.Close()
	r := newTestRegistry(t, `
if [ -n "$COMPUTER_LABEL" ]; then
	echo "label=$COMPUTER_LABEL"
else
	os setComputerLabel turtle one
fi
`, func(o *Options) { o.Store = st })

	c, err := r.Start(context.Background(), 4)
	require.NoError(t, err)
	waitDone(t, c)
	assert.Equal(t, "turtle one", c.Label())

	c2, err := r.Start(context.Background(), 4)
	require.NoError(t, err)
	waitDone(t, c2)
	assert.Contains(t, output(c2), "label=turtle one")
}
