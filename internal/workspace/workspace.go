// Package workspace manages the per-computer data directories under
// data_dir/computer/<id>.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/docker/go-units"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Manager handles computer data directories.
type Manager struct {
	root string
	fs   billy.Filesystem
}

// Workspace is one computer's data directory.
type Workspace struct {
	ID        int
	Path      string
	CreatedAt time.Time
	SizeBytes int64
}

func NewManager(dataDir string) (*Manager, error) {
	abs, err := filepath.Abs(filepath.Join(dataDir, "computer"))
	if err != nil {
		return nil, fmt.Errorf("resolve data dir: %w", err)
	}
	return &Manager{root: abs, fs: osfs.New(abs, osfs.WithBoundOS())}, nil
}

func (m *Manager) Root() string { return m.root }

// Dir returns the host path of computer id's data directory.
func (m *Manager) Dir(id int) string {
	return filepath.Join(m.root, strconv.Itoa(id))
}

// Ensure creates the data directory if needed and returns its path.
func (m *Manager) Ensure(id int) (string, error) {
	if id < 0 {
		return "", fmt.Errorf("invalid computer id %d", id)
	}
	if err := m.fs.MkdirAll(strconv.Itoa(id), 0o755); err != nil {
		return "", fmt.Errorf("creating data directory for computer %d: %w", id, err)
	}
	return m.Dir(id), nil
}

func (m *Manager) Exists(id int) (bool, error) {
	_, err := m.fs.Stat(strconv.Itoa(id))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// Usage sums the sizes of all regular files in the data directory.
func (m *Manager) Usage(id int) (int64, error) {
	var total int64
	err := util.Walk(m.fs, strconv.Itoa(id), func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measuring data directory of computer %d: %w", id, err)
	}
	return total, nil
}

// List returns every data directory, sorted by computer id.
func (m *Manager) List() ([]*Workspace, error) {
	entries, err := m.fs.ReadDir(".")
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Workspace
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		size, err := m.Usage(id)
		if err != nil {
			return nil, err
		}
		out = append(out, &Workspace{ID: id, Path: m.Dir(id), CreatedAt: e.ModTime(), SizeBytes: size})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Delete removes a data directory and everything in it.
func (m *Manager) Delete(id int) error {
	if err := util.RemoveAll(m.fs, strconv.Itoa(id)); err != nil {
		return fmt.Errorf("deleting data directory of computer %d: %w", id, err)
	}
	return nil
}

// HumanSize formats a byte count for display.
func HumanSize(n int64) string {
	return units.HumanSize(float64(n))
}
