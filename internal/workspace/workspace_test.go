package workspace

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureCreatesComputerDir(t *testing.T) {
	dataDir := t.TempDir()
	m, err := NewManager(dataDir)
	require.NoError(t, err)

	dir, err := m.Ensure(5)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "computer", "5"), dir)
	assert.DirExists(t, dir)

	ok, err := m.Exists(5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = m.Exists(6)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = m.Ensure(-1)
	assert.Error(t, err)
}

func TestUsageAndList(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)

	dir, err := m.Ensure(2)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), make([]byte, 50), 0o644))
	_, err = m.Ensure(1)
	require.NoError(t, err)

	used, err := m.Usage(2)
	require.NoError(t, err)
	assert.Equal(t, int64(150), used)

	list, err := m.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].ID)
	assert.Equal(t, 2, list[1].ID)
	assert.Equal(t, int64(150), list[1].SizeBytes)
}

func TestListMissingRoot(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "nothing"))
	require.NoError(t, err)
	list, err := m.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDelete(t *testing.T) {
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	dir, err := m.Ensure(3)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0o644))

	require.NoError(t, m.Delete(3))
	assert.NoDirExists(t, dir)
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "1.049MB", HumanSize(1<<20))
}
