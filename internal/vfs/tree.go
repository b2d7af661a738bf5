// Package vfs implements immutable in-memory file trees that can be
// mounted next to real directories.
package vfs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// Node is either a file with a byte payload or a directory of named nodes.
// Nodes never change after construction, so one tree can be shared by any
// number of mounts.
type Node struct {
	dir      bool
	data     []byte
	children map[string]*Node
}

// File returns a file node holding a copy of data.
func File(data []byte) *Node {
	return &Node{data: bytes.Clone(data)}
}

// Dir returns a directory node. The map is copied; nil children are skipped.
func Dir(children map[string]*Node) *Node {
	n := &Node{dir: true, children: make(map[string]*Node, len(children))}
	for name, c := range children {
		if c != nil {
			n.children[name] = c
		}
	}
	return n
}

func (n *Node) IsDir() bool { return n.dir }

// Size is the payload length for files and zero for directories.
func (n *Node) Size() int64 { return int64(len(n.data)) }

// NewReader returns a reader over the file payload.
func (n *Node) NewReader() io.Reader { return bytes.NewReader(n.data) }

// Names returns the sorted child names of a directory.
func (n *Node) Names() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (n *Node) Child(name string) (*Node, bool) {
	if !n.dir {
		return nil, false
	}
	c, ok := n.children[name]
	return c, ok
}

// Lookup walks components from n. An empty slice returns n itself.
func (n *Node) Lookup(components []string) (*Node, bool) {
	cur := n
	for _, c := range components {
		next, ok := cur.Child(c)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// Stat describes n as a read-only fs.FileInfo named name.
func (n *Node) Stat(name string) fs.FileInfo {
	return fileInfo{name: name, node: n}
}

type fileInfo struct {
	name string
	node *Node
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.node.Size() }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.node.dir }
func (fi fileInfo) Sys() any           { return nil }

func (fi fileInfo) Mode() fs.FileMode {
	if fi.node.dir {
		return fs.ModeDir | 0o555
	}
	return 0o444
}

// FromFS copies the subtree at root of fsys into a new tree.
func FromFS(fsys fs.FS, root string) (*Node, error) {
	info, err := fs.Stat(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}
	if !info.IsDir() {
		data, err := fs.ReadFile(fsys, root)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", root, err)
		}
		return File(data), nil
	}
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", root, err)
	}
	children := make(map[string]*Node, len(entries))
	for _, e := range entries {
		child, err := FromFS(fsys, path.Join(root, e.Name()))
		if err != nil {
			return nil, err
		}
		children[e.Name()] = child
	}
	return Dir(children), nil
}

// FromMap builds a tree from slash-separated file paths. Intermediate
// directories are created as needed.
func FromMap(files map[string]string) *Node {
	type builder map[string]any
	root := builder{}
	for p, content := range files {
		parts := strings.Split(strings.Trim(p, "/"), "/")
		cur := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := cur[part].(builder)
			if !ok {
				next = builder{}
				cur[part] = next
			}
			cur = next
		}
		cur[parts[len(parts)-1]] = content
	}
	var build func(b builder) *Node
	build = func(b builder) *Node {
		children := make(map[string]*Node, len(b))
		for name, v := range b {
			switch v := v.(type) {
			case builder:
				children[name] = build(v)
			case string:
				children[name] = File([]byte(v))
			}
		}
		return Dir(children)
	}
	return build(root)
}

// Table is the process-wide set of named trees available for mounting.
type Table struct {
	mu    sync.RWMutex
	trees map[string]*Node
}

func NewTable() *Table {
	return &Table{trees: make(map[string]*Node)}
}

// Register adds or replaces a named tree. Computers that already mount the
// previous tree keep using it.
func (t *Table) Register(name string, root *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trees[name] = root
}

func (t *Table) Get(name string) (*Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.trees[name]
	return n, ok
}

func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.trees))
	for name := range t.trees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
