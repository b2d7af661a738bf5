// Package shell runs guest programs written in POSIX shell. Host libraries
// appear as commands ("os startTimer 2"), and pullEvent suspends the
// program until the computer delivers the next event.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/p-arndt/rechenkasten/internal/engine"
)

// Engine boots shell programs.
type Engine struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

type handle struct {
	logger *slog.Logger
	runner *interp.Runner
	prog   *syntax.File
	libs   map[string]engine.Library
	files  engine.FileSystem

	ctx    context.Context
	cancel context.CancelCauseFunc

	started  atomic.Bool
	resumeCh chan []any
	yieldCh  chan engine.Request
	done     chan struct{}
	final    engine.Result

	abortRequested atomic.Bool
	closeOnce      sync.Once
}

// Boot parses the program and prepares an interpreter. Nothing runs until
// the first Resume.
func (e *Engine) Boot(ctx context.Context, env engine.Env) (engine.Handle, error) {
	prog, err := syntax.NewParser().Parse(bytes.NewReader(env.Program), env.ProgramName)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", env.ProgramName, err)
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	h := &handle{
		logger:   e.logger.With("computer_id", env.ComputerID),
		prog:     prog,
		libs:     make(map[string]engine.Library, len(env.Libraries)),
		files:    env.Files,
		ctx:      runCtx,
		cancel:   cancel,
		resumeCh: make(chan []any),
		yieldCh:  make(chan engine.Request),
		done:     make(chan struct{}),
	}
	for _, lib := range env.Libraries {
		h.libs[lib.Name] = lib
	}

	stdout, stderr := env.Stdout, env.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = stdout
	}

	runner, err := interp.New(
		interp.StdIO(nil, stdout, stderr),
		interp.Env(expand.ListEnviron(environ(env)...)),
		interp.Dir("/"),
		interp.ExecHandlers(h.execHandler),
		interp.OpenHandler(h.open),
		interp.StatHandler(h.stat),
	)
	if err != nil {
		cancel(err)
		return nil, fmt.Errorf("new interpreter: %w", err)
	}
	h.runner = runner
	return h, nil
}

func environ(env engine.Env) []string {
	vars := map[string]string{
		"HOME":        "/",
		"COMPUTER_ID": fmt.Sprint(env.ComputerID),
	}
	for k, v := range env.Vars {
		vars[k] = v
	}
	pairs := make([]string, 0, len(vars))
	for k, v := range vars {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return pairs
}

func (h *handle) Resume(args []any) engine.Result {
	select {
	case <-h.done:
		return h.final
	default:
	}

	if h.started.CompareAndSwap(false, true) {
		go h.run()
	} else {
		select {
		case h.resumeCh <- args:
		case <-h.done:
			return h.final
		}
	}

	select {
	case req := <-h.yieldCh:
		return engine.YieldResult(req)
	case <-h.done:
		return h.final
	}
}

func (h *handle) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("shell: interpreter panic", "panic", r)
			h.final = engine.ErrorResult(fmt.Errorf("interpreter panic: %v", r))
		}
	}()
	err := h.runner.Run(h.ctx, h.prog)
	h.final = h.result(err)
}

func (h *handle) result(err error) engine.Result {
	if h.ctx.Err() != nil {
		return engine.ErrorResult(context.Cause(h.ctx))
	}
	if err == nil || errors.Is(err, engine.ErrHalt) {
		return engine.ReturnResult()
	}
	var status interp.ExitStatus
	if errors.As(err, &status) {
		if status == 0 {
			return engine.ReturnResult()
		}
		return engine.ErrorResult(fmt.Errorf("exit status %d", uint8(status)))
	}
	return engine.ErrorResult(err)
}

// RaiseAbort first asks the program to fail at its next command. A second
// call before the program yields cancels the interpreter outright.
func (h *handle) RaiseAbort() {
	if h.abortRequested.Swap(true) {
		h.cancel(engine.ErrTooLongWithoutYielding)
	}
}

func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		h.cancel(engine.ErrClosed)
		if h.started.Load() {
			<-h.done
		}
	})
	return nil
}

// yield hands req to the computer and waits for the answer.
func (h *handle) yield(req engine.Request) ([]any, error) {
	select {
	case h.yieldCh <- req:
	case <-h.ctx.Done():
		return nil, context.Cause(h.ctx)
	}
	select {
	case args := <-h.resumeCh:
		h.abortRequested.Store(false)
		return args, nil
	case <-h.ctx.Done():
		return nil, context.Cause(h.ctx)
	}
}

func (h *handle) open(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		return devNull{}, nil
	}
	if h.files == nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: fs.ErrNotExist}
	}
	return h.files.OpenFile(ctx, path, flag, perm)
}

func (h *handle) stat(ctx context.Context, name string, _ bool) (fs.FileInfo, error) {
	if h.files == nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return h.files.Stat(ctx, name)
}

type devNull struct{}

func (devNull) Read([]byte) (int, error)    { return 0, io.EOF }
func (devNull) Write(p []byte) (int, error) { return len(p), nil }
func (devNull) Close() error                { return nil }
