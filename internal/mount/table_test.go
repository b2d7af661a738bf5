package mount

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-arndt/rechenkasten/internal/vfs"
)

func dirBackend(t *testing.T) *DirBackend {
	t.Helper()
	b, err := NewDirBackend(t.TempDir())
	require.NoError(t, err)
	return b
}

func writeHostFile(t *testing.T, b *DirBackend, rel, content string) {
	t.Helper()
	p := b.HostPath(rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestResolveRootIsDataDir(t *testing.T) {
	root := dirBackend(t)
	tbl := NewTable(root)

	r, err := tbl.Resolve("", MustExist)
	require.NoError(t, err)
	assert.Same(t, root, r.Backend)
	assert.Equal(t, RootKey, r.Mount)
	assert.Equal(t, "", r.Rel)
}

func TestResolveLongestPrefixWins(t *testing.T) {
	root, a, ab := dirBackend(t), dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("a", a, false))
	require.NoError(t, tbl.Mount("a/b", ab, false))

	// Same relative file exists under the shorter mount too.
	writeHostFile(t, a, "b/c", "shadowed")
	writeHostFile(t, ab, "c", "visible")

	r, err := tbl.Resolve("a/b/c", MustExist)
	require.NoError(t, err)
	assert.Same(t, ab, r.Backend)
	assert.Equal(t, "c", r.Rel)
	assert.Equal(t, "a/b", r.Mount)

	r, err = tbl.Resolve("a/b/c", CreateIfMissing)
	require.NoError(t, err)
	assert.Same(t, ab, r.Backend)

	r, err = tbl.Resolve("a/x", CreateIfMissing)
	require.NoError(t, err)
	assert.Same(t, a, r.Backend)
}

func TestResolveMustExistMissing(t *testing.T) {
	tbl := NewTable(dirBackend(t))
	_, err := tbl.Resolve("nope/file", MustExist)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveEscape(t *testing.T) {
	tbl := NewTable(dirBackend(t))
	_, err := tbl.Resolve("../outside", MustExist)
	assert.ErrorIs(t, err, ErrEscapesRoot)
}

func TestResolveTieRegistrationOrder(t *testing.T) {
	root, first, second := dirBackend(t), dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("m", first, false))
	require.NoError(t, tbl.Mount("m", second, false))

	writeHostFile(t, second, "only-second.txt", "2")
	writeHostFile(t, first, "both.txt", "1")
	writeHostFile(t, second, "both.txt", "2")

	r, err := tbl.Resolve("m/only-second.txt", MustExist)
	require.NoError(t, err)
	assert.Same(t, second, r.Backend)

	r, err = tbl.Resolve("m/both.txt", MustExist)
	require.NoError(t, err)
	assert.Same(t, first, r.Backend)

	r, err = tbl.Resolve("m/new.txt", CreateIfMissing)
	require.NoError(t, err)
	assert.Same(t, first, r.Backend)
}

func TestResolveCreatePicksBackendWithParent(t *testing.T) {
	root, first, second := dirBackend(t), dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("m", first, false))
	require.NoError(t, tbl.Mount("m", second, false))
	require.NoError(t, os.MkdirAll(second.HostPath("docs"), 0o755))

	r, err := tbl.Resolve("m/docs/new.txt", CreateIfMissing)
	require.NoError(t, err)
	assert.Same(t, second, r.Backend)

	_, err = tbl.Resolve("m/missing/new.txt", CreateIfMissing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveIsDeterministic(t *testing.T) {
	root, first, second := dirBackend(t), dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("m", first, false))
	require.NoError(t, tbl.Mount("m", second, false))
	writeHostFile(t, first, "f", "1")
	writeHostFile(t, second, "f", "2")

	want, err := tbl.Resolve("m/f", MustExist)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		got, err := tbl.Resolve("m/f", MustExist)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestReadOnlyLaw(t *testing.T) {
	root, ro := dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("ro", ro, true))
	require.NoError(t, os.MkdirAll(ro.HostPath("deep/er"), 0o755))

	for _, p := range []string{"ro", "ro/x", "ro/deep/x", "ro/deep/er/x/y"} {
		isRO, err := tbl.IsReadOnly(p)
		require.NoError(t, err)
		assert.True(t, isRO, p)

		_, err = tbl.Resolve(p, CreateIfMissing)
		assert.ErrorIs(t, err, ErrReadOnly, p)

		_, err = tbl.PrepareCreate(p)
		assert.ErrorIs(t, err, ErrReadOnly, p)
	}

	isRO, err := tbl.IsReadOnly("rw/file")
	require.NoError(t, err)
	assert.False(t, isRO)
}

func TestReadOnlyTieSkipsReadOnlyBackend(t *testing.T) {
	root, rw, ro := dirBackend(t), dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("m", rw, false))
	require.NoError(t, tbl.Mount("m", ro, true))
	require.NoError(t, os.MkdirAll(ro.HostPath("only-ro"), 0o755))

	// The parent exists only in the read-only backend, which must not be
	// chosen for a write.
	_, err := tbl.Resolve("m/only-ro/file", CreateIfMissing)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModifyResolveRejectsReadOnlyTie(t *testing.T) {
	root, rw, ro := dirBackend(t), dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("m", rw, false))
	require.NoError(t, tbl.Mount("m", ro, true))
	writeHostFile(t, ro, "keep.txt", "kept")
	writeHostFile(t, rw, "scratch.txt", "gone")

	_, err := tbl.Resolve("m/keep.txt", ModifyExisting)
	assert.ErrorIs(t, err, ErrReadOnly)

	r, err := tbl.Resolve("m/scratch.txt", ModifyExisting)
	require.NoError(t, err)
	assert.Same(t, rw, r.Backend)

	_, err = tbl.Resolve("m/missing.txt", ModifyExisting)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateResolveRoundTrip(t *testing.T) {
	root, data := dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("disk", data, false))

	created, err := tbl.PrepareCreate("disk/sub/dir/file.txt")
	require.NoError(t, err)
	assert.Same(t, data, created.Backend)

	f, err := created.Backend.OpenFile(created.Rel, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	require.NoError(t, err)
	_, err = io.WriteString(f, "hello")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	found, err := tbl.Resolve("disk/sub/dir/file.txt", MustExist)
	require.NoError(t, err)
	assert.Equal(t, created, found)

	content, err := os.ReadFile(data.HostPath("sub/dir/file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(content))
}

func TestPrepareCreateRejectsFileAncestor(t *testing.T) {
	root := dirBackend(t)
	tbl := NewTable(root)
	writeHostFile(t, root, "file", "x")

	_, err := tbl.PrepareCreate("file/child/leaf")
	assert.ErrorIs(t, err, ErrNotDir)
}

func TestVirtualTreeMount(t *testing.T) {
	root := dirBackend(t)
	tbl := NewTable(root)
	tree := vfs.FromMap(map[string]string{
		"bios.lua":        "-- boot",
		"programs/ls.lua": "-- ls",
	})
	require.NoError(t, tbl.Mount("rom", NewTreeBackend("rom", tree), false))

	r, err := tbl.Resolve("rom/bios.lua", MustExist)
	require.NoError(t, err)
	assert.Equal(t, "vfs:rom/bios.lua", r.String())
	assert.True(t, r.ReadOnly, "virtual trees are always read-only")

	isRO, err := tbl.IsReadOnly("rom/x")
	require.NoError(t, err)
	assert.True(t, isRO)

	_, err = tbl.Resolve("rom/x", CreateIfMissing)
	assert.ErrorIs(t, err, ErrReadOnly)

	f, err := r.Backend.OpenFile(r.Rel, os.O_RDONLY, 0)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "-- boot", string(data))

	_, err = r.Backend.OpenFile(r.Rel, os.O_WRONLY, 0)
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestUnmount(t *testing.T) {
	root, a, b := dirBackend(t), dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	require.NoError(t, tbl.Mount("x", a, false))
	require.NoError(t, tbl.Mount("x", b, true))
	require.NoError(t, tbl.Mount("x/y", b, true))

	assert.True(t, tbl.Unmount("x"))
	assert.False(t, tbl.Unmount("x"))
	assert.False(t, tbl.Unmount(""))

	entries := tbl.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, RootKey, entries[0].Key())
	assert.Equal(t, "x/y", entries[1].Key())
}

func TestMountRejectsRoot(t *testing.T) {
	tbl := NewTable(dirBackend(t))
	err := tbl.Mount("/", dirBackend(t), false)
	assert.ErrorIs(t, err, ErrInvalidMount)
}

func TestListMergesBackendsAndMounts(t *testing.T) {
	root, first, second := dirBackend(t), dirBackend(t), dirBackend(t)
	tbl := NewTable(root)
	writeHostFile(t, root, "startup.sh", "")
	require.NoError(t, tbl.Mount("m", first, false))
	require.NoError(t, tbl.Mount("m", second, false))
	require.NoError(t, tbl.Mount("deep/inner", dirBackend(t), false))
	writeHostFile(t, first, "a", "")
	writeHostFile(t, second, "b", "")
	writeHostFile(t, second, "a", "")

	names, err := tbl.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"deep", "m", "startup.sh"}, names)

	names, err = tbl.List("m")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	names, err = tbl.List("deep")
	require.NoError(t, err)
	assert.Equal(t, []string{"inner"}, names)

	_, err = tbl.List("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	children, err := tbl.ChildMounts("")
	require.NoError(t, err)
	assert.Equal(t, []string{"deep", "m"}, children)
}
