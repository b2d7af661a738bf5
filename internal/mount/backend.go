package mount

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/p-arndt/rechenkasten/internal/vfs"
)

// Backend is storage a mount entry points at. Paths are slash separated and
// relative to the backend root; "" is the root itself.
type Backend interface {
	Stat(rel string) (fs.FileInfo, error)
	ReadDir(rel string) ([]fs.FileInfo, error)
	OpenFile(rel string, flag int, perm fs.FileMode) (io.ReadWriteCloser, error)
	MkdirAll(rel string) error
	RemoveAll(rel string) error
	// Writable is false for backends that can never be modified.
	Writable() bool
	String() string
}

// DirBackend serves a real host directory.
type DirBackend struct {
	root string
	fs   billy.Filesystem
}

// NewDirBackend returns a backend rooted at dir. Paths can not leave dir,
// not even through symlinks.
func NewDirBackend(dir string) (*DirBackend, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	return &DirBackend{root: abs, fs: osfs.New(abs, osfs.WithBoundOS())}, nil
}

func (b *DirBackend) Root() string { return b.root }

func (b *DirBackend) Stat(rel string) (fs.FileInfo, error) {
	return b.fs.Stat(billyPath(rel))
}

func (b *DirBackend) ReadDir(rel string) ([]fs.FileInfo, error) {
	return b.fs.ReadDir(billyPath(rel))
}

func (b *DirBackend) OpenFile(rel string, flag int, perm fs.FileMode) (io.ReadWriteCloser, error) {
	return b.fs.OpenFile(billyPath(rel), flag, perm)
}

func (b *DirBackend) MkdirAll(rel string) error {
	return b.fs.MkdirAll(billyPath(rel), 0o755)
}

func (b *DirBackend) RemoveAll(rel string) error {
	if rel == "" {
		return fmt.Errorf("%w: refusing to remove backend root", ErrReadOnly)
	}
	return util.RemoveAll(b.fs, billyPath(rel))
}

func (b *DirBackend) Writable() bool { return true }

func (b *DirBackend) String() string { return b.root }

// HostPath maps rel to the path on the host filesystem.
func (b *DirBackend) HostPath(rel string) string {
	return filepath.Join(b.root, filepath.FromSlash(rel))
}

func billyPath(rel string) string {
	if rel == "" {
		return "."
	}
	return rel
}

// TreeBackend serves an immutable vfs tree.
type TreeBackend struct {
	name string
	root *vfs.Node
}

func NewTreeBackend(name string, root *vfs.Node) *TreeBackend {
	return &TreeBackend{name: name, root: root}
}

func (b *TreeBackend) lookup(rel string) (*vfs.Node, string, error) {
	var comps []string
	if rel != "" {
		comps = strings.Split(rel, "/")
	}
	n, ok := b.root.Lookup(comps)
	if !ok {
		return nil, "", &fs.PathError{Op: "stat", Path: rel, Err: fs.ErrNotExist}
	}
	name := "/"
	if len(comps) > 0 {
		name = comps[len(comps)-1]
	}
	return n, name, nil
}

func (b *TreeBackend) Stat(rel string) (fs.FileInfo, error) {
	n, name, err := b.lookup(rel)
	if err != nil {
		return nil, err
	}
	return n.Stat(name), nil
}

func (b *TreeBackend) ReadDir(rel string) ([]fs.FileInfo, error) {
	n, _, err := b.lookup(rel)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: rel, Err: errors.New("not a directory")}
	}
	names := n.Names()
	out := make([]fs.FileInfo, 0, len(names))
	for _, name := range names {
		c, _ := n.Child(name)
		out = append(out, c.Stat(name))
	}
	return out, nil
}

func (b *TreeBackend) OpenFile(rel string, flag int, _ fs.FileMode) (io.ReadWriteCloser, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_APPEND|os.O_TRUNC) != 0 {
		return nil, &fs.PathError{Op: "open", Path: rel, Err: ErrReadOnly}
	}
	n, _, err := b.lookup(rel)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return nil, &fs.PathError{Op: "open", Path: rel, Err: errors.New("is a directory")}
	}
	return treeFile{Reader: n.NewReader()}, nil
}

func (b *TreeBackend) MkdirAll(rel string) error {
	return &fs.PathError{Op: "mkdir", Path: rel, Err: ErrReadOnly}
}

func (b *TreeBackend) RemoveAll(rel string) error {
	return &fs.PathError{Op: "remove", Path: rel, Err: ErrReadOnly}
}

func (b *TreeBackend) Writable() bool { return false }

func (b *TreeBackend) String() string { return "vfs:" + b.name }

type treeFile struct {
	io.Reader
}

func (treeFile) Write([]byte) (int, error) { return 0, ErrReadOnly }
func (treeFile) Close() error              { return nil }
