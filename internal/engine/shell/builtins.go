package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"mvdan.cc/sh/v3/interp"

	"github.com/p-arndt/rechenkasten/internal/engine"
	"github.com/p-arndt/rechenkasten/internal/event"
)

type builtin func(h *handle, ctx context.Context, hc interp.HandlerContext, args []string) error

var builtins = map[string]builtin{
	"pullEvent":    pullEvent,
	"pullEventRaw": pullEventRaw,
	"sleep":        sleep,
	"cat":          cat,
}

// execHandler replaces process execution: every command that is not a
// shell builtin is either one of ours or a host library.
func (h *handle) execHandler(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		if h.abortRequested.Load() {
			return engine.ErrTooLongWithoutYielding
		}
		hc := interp.HandlerCtx(ctx)
		if b, ok := builtins[args[0]]; ok {
			return b(h, ctx, hc, args[1:])
		}
		if lib, ok := h.libs[args[0]]; ok {
			return h.callLibrary(ctx, hc, lib, args[1:])
		}
		fmt.Fprintf(hc.Stderr, "%s: command not found\n", args[0])
		return interp.ExitStatus(127)
	}
}

func (h *handle) callLibrary(ctx context.Context, hc interp.HandlerContext, lib engine.Library, args []string) error {
	if len(args) == 0 {
		for _, name := range lib.MethodNames() {
			fmt.Fprintln(hc.Stdout, name)
		}
		return nil
	}
	out, err := lib.Call(ctx, args[0], args[1:])
	if err != nil {
		if errors.Is(err, engine.ErrHalt) || ctx.Err() != nil {
			return err
		}
		fmt.Fprintf(hc.Stderr, "%s.%s: %v\n", lib.Name, args[0], err)
		return interp.ExitStatus(1)
	}
	for _, v := range out {
		fmt.Fprintln(hc.Stdout, v)
	}
	return nil
}

func pullEvent(h *handle, ctx context.Context, hc interp.HandlerContext, args []string) error {
	values, err := h.pull(args)
	if err != nil {
		return err
	}
	if len(values) > 0 && values[0] == event.Terminate {
		fmt.Fprintln(hc.Stderr, "Terminated")
		return interp.ExitStatus(130)
	}
	printEvent(hc.Stdout, values)
	return nil
}

func pullEventRaw(h *handle, ctx context.Context, hc interp.HandlerContext, args []string) error {
	values, err := h.pull(args)
	if err != nil {
		return err
	}
	printEvent(hc.Stdout, values)
	return nil
}

func (h *handle) pull(args []string) ([]any, error) {
	var req engine.Request
	if len(args) > 0 {
		req.Filter = args[0]
	}
	return h.yield(req)
}

func printEvent(w io.Writer, values []any) {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	fmt.Fprintln(w, strings.Join(parts, " "))
}

// sleep starts a timer and swallows events until it fires.
func sleep(h *handle, ctx context.Context, hc interp.HandlerContext, args []string) error {
	if len(args) != 1 {
		fmt.Fprintln(hc.Stderr, "usage: sleep <seconds>")
		return interp.ExitStatus(2)
	}
	lib, ok := h.libs["os"]
	if !ok {
		fmt.Fprintln(hc.Stderr, "sleep: os library unavailable")
		return interp.ExitStatus(1)
	}
	out, err := lib.Call(ctx, "startTimer", args)
	if err != nil || len(out) == 0 {
		fmt.Fprintf(hc.Stderr, "sleep: %v\n", err)
		return interp.ExitStatus(1)
	}
	id := out[0]
	for {
		values, err := h.yield(engine.Request{Filter: "timer"})
		if err != nil {
			return err
		}
		if len(values) > 0 && values[0] == event.Terminate {
			fmt.Fprintln(hc.Stderr, "Terminated")
			return interp.ExitStatus(130)
		}
		if len(values) > 1 && fmt.Sprint(values[1]) == id {
			return nil
		}
	}
}

func cat(h *handle, ctx context.Context, hc interp.HandlerContext, args []string) error {
	status := 0
	for _, arg := range args {
		p := arg
		if !path.IsAbs(p) {
			p = path.Join(hc.Dir, p)
		}
		f, err := h.open(ctx, p, os.O_RDONLY, 0)
		if err != nil {
			fmt.Fprintf(hc.Stderr, "cat: %s: %v\n", arg, err)
			status = 1
			continue
		}
		_, err = io.Copy(hc.Stdout, f)
		f.Close()
		if err != nil {
			fmt.Fprintf(hc.Stderr, "cat: %s: %v\n", arg, err)
			status = 1
		}
	}
	if status != 0 {
		return interp.ExitStatus(status)
	}
	return nil
}
