// Package mount resolves sandboxed paths against a computer's overlapping
// mounts.
package mount

import (
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound     = errors.New("no such file")
	ErrReadOnly     = errors.New("access denied")
	ErrEscapesRoot  = errors.New("path escapes sandbox root")
	ErrNotDir       = errors.New("not a directory")
	ErrInvalidMount = errors.New("invalid mount")
)

// RootKey names the primary data-directory mount.
const RootKey = "hdd"

// Mode selects how Resolve treats a missing target.
type Mode int

const (
	// MustExist succeeds only if the path exists in some candidate backend.
	MustExist Mode = iota
	// CreateIfMissing picks the backend a new file at the path belongs in.
	CreateIfMissing
	// ModifyExisting finds the path like MustExist and fails with
	// ErrReadOnly when the backend holding it is read-only.
	ModifyExisting
)

func (m Mode) String() string {
	switch m {
	case CreateIfMissing:
		return "create"
	case ModifyExisting:
		return "modify"
	}
	return "exist"
}

// Entry binds a sandboxed prefix to a backend.
type Entry struct {
	Prefix   []string
	Backend  Backend
	ReadOnly bool
}

// Key is the mount name: RootKey for the root entry, the joined prefix
// otherwise.
func (e Entry) Key() string {
	if len(e.Prefix) == 0 {
		return RootKey
	}
	return strings.Join(e.Prefix, "/")
}

// Resolved is the outcome of a resolution.
type Resolved struct {
	Backend  Backend
	Rel      string
	Mount    string
	ReadOnly bool
}

func (r Resolved) String() string {
	if r.Rel == "" {
		return r.Backend.String()
	}
	return r.Backend.String() + "/" + r.Rel
}

// Table is one computer's ordered set of mounts. Entries registered at the
// same depth keep their registration order, and that order decides ties.
type Table struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewTable returns a table whose root entry is the given data backend.
func NewTable(root Backend) *Table {
	return &Table{entries: []Entry{{Backend: root}}}
}

// Mount adds backend at prefix. Backends that are not writable are always
// mounted read-only. The root can not be mounted over.
func (t *Table) Mount(prefix string, b Backend, readOnly bool) error {
	comps, err := Split(prefix)
	if err != nil {
		return err
	}
	if len(comps) == 0 {
		return fmt.Errorf("%w: empty mount point", ErrInvalidMount)
	}
	if !b.Writable() {
		readOnly = true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, Entry{Prefix: comps, Backend: b, ReadOnly: readOnly})
	return nil
}

// Unmount removes every entry mounted exactly at prefix and reports whether
// anything was removed.
func (t *Table) Unmount(prefix string) bool {
	comps, err := Split(prefix)
	if err != nil || len(comps) == 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.entries[:0]
	removed := false
	for _, e := range t.entries {
		if len(e.Prefix) == len(comps) && hasPrefix(comps, e.Prefix) {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	for i := len(kept); i < len(t.entries); i++ {
		t.entries[i] = Entry{}
	}
	t.entries = kept
	return removed
}

// Entries returns a snapshot of the table in registration order.
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Entry(nil), t.entries...)
}

// candidates returns the entries with the longest prefix matching comps,
// in registration order, and that prefix length.
func (t *Table) candidates(comps []string) ([]Entry, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var set []Entry
	depth := -1
	for _, e := range t.entries {
		if !hasPrefix(comps, e.Prefix) {
			continue
		}
		switch {
		case len(e.Prefix) > depth:
			depth = len(e.Prefix)
			set = []Entry{e}
		case len(e.Prefix) == depth:
			set = append(set, e)
		}
	}
	return set, depth
}

// IsReadOnly reports the read-only flag of the mount p falls under. Only
// prefixes are compared; no backend is consulted.
func (t *Table) IsReadOnly(p string) (bool, error) {
	comps, err := Split(p)
	if err != nil {
		return false, err
	}
	return t.isReadOnly(comps), nil
}

func (t *Table) isReadOnly(comps []string) bool {
	set, _ := t.candidates(comps)
	if len(set) == 0 {
		return false
	}
	return set[0].ReadOnly
}

// Resolve maps a sandboxed path to a backend location.
func (t *Table) Resolve(p string, mode Mode) (Resolved, error) {
	comps, err := Split(p)
	if err != nil {
		return Resolved{}, err
	}
	return t.resolve(comps, mode)
}

func (t *Table) resolve(comps []string, mode Mode) (Resolved, error) {
	set, depth := t.candidates(comps)
	if len(set) == 0 {
		return Resolved{}, fmt.Errorf("%w: /%s", ErrNotFound, join(comps))
	}
	rel := comps[depth:]
	relPath := join(rel)

	if mode == MustExist || mode == ModifyExisting {
		for _, e := range set {
			if _, err := e.Backend.Stat(relPath); err != nil {
				continue
			}
			if mode == ModifyExisting && (e.ReadOnly || !e.Backend.Writable()) {
				return Resolved{}, fmt.Errorf("%w: /%s", ErrReadOnly, join(comps))
			}
			return resolvedAt(e, relPath), nil
		}
		return Resolved{}, fmt.Errorf("%w: /%s", ErrNotFound, join(comps))
	}

	if t.isReadOnly(comps) {
		return Resolved{}, fmt.Errorf("%w: /%s", ErrReadOnly, join(comps))
	}
	writable := set[:0:0]
	for _, e := range set {
		if !e.ReadOnly && e.Backend.Writable() {
			writable = append(writable, e)
		}
	}
	if len(writable) == 0 {
		return Resolved{}, fmt.Errorf("%w: /%s", ErrReadOnly, join(comps))
	}
	if len(rel) <= 1 {
		return resolvedAt(writable[0], relPath), nil
	}
	parent := join(rel[:len(rel)-1])
	for _, e := range writable {
		if _, err := e.Backend.Stat(relPath); err == nil {
			return resolvedAt(e, relPath), nil
		}
		if fi, err := e.Backend.Stat(parent); err == nil && fi.IsDir() {
			return resolvedAt(e, relPath), nil
		}
	}
	return Resolved{}, fmt.Errorf("%w: /%s", ErrNotFound, join(comps[:len(comps)-1]))
}

func resolvedAt(e Entry, rel string) Resolved {
	if rel == "." {
		rel = ""
	}
	return Resolved{Backend: e.Backend, Rel: rel, Mount: e.Key(), ReadOnly: e.ReadOnly}
}

// PrepareCreate resolves p for writing after creating any missing parent
// directories. Parents are created in the backend of the nearest ancestor
// that resolves.
func (t *Table) PrepareCreate(p string) (Resolved, error) {
	comps, err := Split(p)
	if err != nil {
		return Resolved{}, err
	}
	if t.isReadOnly(comps) {
		return Resolved{}, fmt.Errorf("%w: /%s", ErrReadOnly, join(comps))
	}
	if len(comps) == 0 {
		return t.resolve(comps, CreateIfMissing)
	}

	parent := comps[:len(comps)-1]
	var missing []string
	for {
		anc, err := t.resolve(parent, CreateIfMissing)
		if err == nil {
			if err := ensureDir(anc, missing); err != nil {
				return Resolved{}, err
			}
			break
		}
		if !errors.Is(err, ErrNotFound) || len(parent) == 0 {
			return Resolved{}, err
		}
		missing = append([]string{parent[len(parent)-1]}, missing...)
		parent = parent[:len(parent)-1]
	}
	return t.resolve(comps, CreateIfMissing)
}

func ensureDir(anc Resolved, missing []string) error {
	if fi, err := anc.Backend.Stat(anc.Rel); err == nil && !fi.IsDir() {
		return fmt.Errorf("%w: %s", ErrNotDir, anc)
	}
	target := path.Join(append([]string{anc.Rel}, missing...)...)
	if fi, err := anc.Backend.Stat(target); err == nil {
		if !fi.IsDir() {
			return fmt.Errorf("%w: %s", ErrNotDir, target)
		}
		return nil
	}
	if err := anc.Backend.MkdirAll(target); err != nil {
		return fmt.Errorf("mkdir %s: %w", target, err)
	}
	return nil
}

// ChildMounts returns the names of mounts that sit directly below dir.
func (t *Table) ChildMounts(dir string) ([]string, error) {
	comps, err := Split(dir)
	if err != nil {
		return nil, err
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, e := range t.entries {
		if len(e.Prefix) <= len(comps) || !hasPrefix(e.Prefix, comps) {
			continue
		}
		name := e.Prefix[len(comps)]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

// List merges the directory entries of every backend tied for dir with the
// mounts directly below it.
func (t *Table) List(dir string) ([]string, error) {
	comps, err := Split(dir)
	if err != nil {
		return nil, err
	}
	children, _ := t.ChildMounts(dir)
	seen := make(map[string]bool)
	var out []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	set, depth := t.candidates(comps)
	found := false
	rel := join(comps[depth:])
	for _, e := range set {
		infos, err := e.Backend.ReadDir(rel)
		if err != nil {
			continue
		}
		found = true
		for _, fi := range infos {
			add(fi.Name())
		}
	}
	if !found && len(children) == 0 {
		return nil, fmt.Errorf("%w: /%s", ErrNotFound, join(comps))
	}
	for _, c := range children {
		add(c)
	}
	sort.Strings(out)
	return out, nil
}
