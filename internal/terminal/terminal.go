// Package terminal provides the output sinks a computer writes its screen to.
package terminal

import (
	"bytes"
	"io"
	"sync"
)

// Terminal receives a computer's output. Reset is called on every boot.
type Terminal interface {
	io.Writer
	Reset()
}

const clearScreen = "\x1b[H\x1b[2J"

// Stream forwards output to a writer, optionally clearing the screen on
// reset. It is what "rechenkasten run" attaches to stdout.
type Stream struct {
	mu    sync.Mutex
	w     io.Writer
	clear bool
}

func NewStream(w io.Writer, clearOnReset bool) *Stream {
	return &Stream{w: w, clear: clearOnReset}
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *Stream) Reset() {
	if !s.clear {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.w, clearScreen)
}

// Buffer keeps the most recent output of a headless computer in memory.
type Buffer struct {
	mu    sync.Mutex
	limit int
	buf   bytes.Buffer
}

// NewBuffer returns a Buffer holding at most limit bytes. Older output is
// dropped first.
func NewBuffer(limit int) *Buffer {
	if limit <= 0 {
		limit = 64 << 10
	}
	return &Buffer{limit: limit}
}

func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, _ := b.buf.Write(p)
	if over := b.buf.Len() - b.limit; over > 0 {
		b.buf.Next(over)
	}
	return n, nil
}

func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Discard drops all output.
var Discard Terminal = discard{}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
func (discard) Reset()                      {}
