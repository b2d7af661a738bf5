package computer

import (
	"context"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/p-arndt/rechenkasten/internal/mount"
)

const writeFlags = os.O_WRONLY | os.O_RDWR | os.O_CREATE | os.O_APPEND | os.O_TRUNC

// guestFS is the engine's view of a computer's mounts. Every open file
// counts against the files_open limit until it is closed.
type guestFS struct{ c *Computer }

func (g guestFS) OpenFile(_ context.Context, p string, flag int, perm fs.FileMode) (io.ReadWriteCloser, error) {
	return g.c.openFile(p, flag, perm)
}

func (g guestFS) Stat(_ context.Context, p string) (fs.FileInfo, error) {
	return g.c.stat(p)
}

func (c *Computer) stat(p string) (fs.FileInfo, error) {
	r, err := c.mounts.Resolve(p, mount.MustExist)
	if err != nil {
		return nil, err
	}
	return r.Backend.Stat(r.Rel)
}

func (c *Computer) openFile(p string, flag int, perm fs.FileMode) (io.ReadWriteCloser, error) {
	if !c.acquireFile() {
		return nil, ErrTooManyFiles
	}
	f, err := c.open(p, flag, perm)
	if err != nil {
		c.filesOpen.Add(-1)
		return nil, err
	}
	return &trackedFile{ReadWriteCloser: f, release: func() { c.filesOpen.Add(-1) }}, nil
}

func (c *Computer) open(p string, flag int, perm fs.FileMode) (io.ReadWriteCloser, error) {
	if flag&writeFlags == 0 {
		r, err := c.mounts.Resolve(p, mount.MustExist)
		if err != nil {
			return nil, err
		}
		return r.Backend.OpenFile(r.Rel, flag, perm)
	}

	r, err := c.mounts.PrepareCreate(p)
	if err != nil {
		return nil, err
	}
	if r.Mount != mount.RootKey {
		return r.Backend.OpenFile(r.Rel, flag, perm)
	}
	free, err := c.freeSpace()
	if err != nil {
		return nil, err
	}
	f, err := r.Backend.OpenFile(r.Rel, flag, perm)
	if err != nil {
		return nil, err
	}
	return &quotaFile{ReadWriteCloser: f, remaining: free}, nil
}

func (c *Computer) acquireFile() bool {
	limit := int32(c.reg.config().Limits.MaxFilesOpen)
	for {
		n := c.filesOpen.Load()
		if limit > 0 && n >= limit {
			return false
		}
		if c.filesOpen.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// freeSpace is the quota left in the data directory.
func (c *Computer) freeSpace() (int64, error) {
	used, err := c.reg.workspace.Usage(c.id)
	if err != nil {
		return 0, err
	}
	free := c.reg.config().SpaceLimitBytes() - used
	if free < 0 {
		free = 0
	}
	return free, nil
}

type trackedFile struct {
	io.ReadWriteCloser
	once    sync.Once
	release func()
}

func (f *trackedFile) Close() error {
	err := f.ReadWriteCloser.Close()
	f.once.Do(f.release)
	return err
}

// quotaFile fails writes that would exceed the space left when it was
// opened.
type quotaFile struct {
	io.ReadWriteCloser
	remaining int64
}

func (f *quotaFile) Write(p []byte) (int, error) {
	if int64(len(p)) > f.remaining {
		n, err := f.ReadWriteCloser.Write(p[:f.remaining])
		f.remaining -= int64(n)
		if err != nil {
			return n, err
		}
		return n, ErrOutOfSpace
	}
	n, err := f.ReadWriteCloser.Write(p)
	f.remaining -= int64(n)
	return n, err
}
