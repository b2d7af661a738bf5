// Package engine defines how a computer drives the program running inside
// it. A booted program is resumed until it yields a request for the next
// event, returns, or fails.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"sort"
)

var (
	// ErrTooLongWithoutYielding is raised in a guest that kept running past
	// the watchdog deadline.
	ErrTooLongWithoutYielding = errors.New("too long without yielding")
	// ErrHalt stops the guest program without reporting an error.
	ErrHalt = errors.New("halt")
	// ErrClosed is the result of resuming a closed handle.
	ErrClosed         = errors.New("engine closed")
	ErrUnknownMethod  = errors.New("unknown method")
	ErrUnknownLibrary = errors.New("unknown library")
)

// Kind tells the three outcomes of a resume apart.
type Kind int

const (
	Yielded Kind = iota + 1
	Returned
	Errored
)

func (k Kind) String() string {
	switch k {
	case Yielded:
		return "yielded"
	case Returned:
		return "returned"
	case Errored:
		return "errored"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Request is what a yielding guest waits for.
type Request struct {
	// Filter restricts delivery to one event name. Empty accepts anything.
	Filter string
}

// Result is the outcome of Handle.Resume.
type Result struct {
	Kind    Kind
	Request Request
	Err     error
}

func YieldResult(req Request) Result { return Result{Kind: Yielded, Request: req} }
func ReturnResult() Result           { return Result{Kind: Returned} }
func ErrorResult(err error) Result   { return Result{Kind: Errored, Err: err} }

// Method is a host function callable from guest code.
type Method func(ctx context.Context, args []string) ([]string, error)

// Library is a named table of host methods.
type Library struct {
	Name    string
	Methods map[string]Method
}

// MethodNames lists the library's methods in sorted order.
func (l Library) MethodNames() []string {
	names := make([]string, 0, len(l.Methods))
	for name := range l.Methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Call invokes a method by name.
func (l Library) Call(ctx context.Context, method string, args []string) ([]string, error) {
	m, ok := l.Methods[method]
	if !ok {
		return nil, &UnknownMethodError{Library: l.Name, Method: method}
	}
	return m(ctx, args)
}

// UnknownMethodError reports a call to a method a table does not have.
type UnknownMethodError struct {
	Library string
	Method  string
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("%s: no such method %q", e.Library, e.Method)
}

func (e *UnknownMethodError) Is(target error) bool {
	return target == ErrUnknownMethod
}

// FileSystem is the guest's view of its mounts.
type FileSystem interface {
	OpenFile(ctx context.Context, path string, flag int, perm fs.FileMode) (io.ReadWriteCloser, error)
	Stat(ctx context.Context, path string) (fs.FileInfo, error)
}

// Env is everything a booted program gets from its computer.
type Env struct {
	ComputerID  int
	ProgramName string
	Program     []byte
	Libraries   []Library
	Files       FileSystem
	Stdout      io.Writer
	Stderr      io.Writer
	Vars        map[string]string
}

// Engine boots guest programs.
type Engine interface {
	Boot(ctx context.Context, env Env) (Handle, error)
}

// Handle is one booted program. Resume and Close belong to the computer's
// goroutine; RaiseAbort may be called from anywhere.
type Handle interface {
	// Resume continues the program, passing args as the answer to its last
	// request, and blocks until it yields, returns or fails.
	Resume(args []any) Result
	// RaiseAbort makes the running program fail with
	// ErrTooLongWithoutYielding.
	RaiseAbort()
	// Close stops the program and releases its resources. Safe to call more
	// than once and from any goroutine.
	Close() error
}
