package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(":memory:", 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestEnsureAndGetComputer(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.EnsureComputer(5))

	got, err := st.GetComputer(5)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 5, got.ID)
	assert.Equal(t, StatusOff, got.Status)
	assert.Zero(t, got.BootCount)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestEnsureComputerKeepsExisting(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.EnsureComputer(1))
	require.NoError(t, st.SetLabel(1, "turtle"))
	require.NoError(t, st.EnsureComputer(1))

	got, err := st.GetComputer(1)
	require.NoError(t, err)
	assert.Equal(t, "turtle", got.Label)
}

func TestGetComputerNotFound(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetComputer(42)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRecordBootAndError(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.EnsureComputer(3))
	require.NoError(t, st.RecordBoot(3))
	require.NoError(t, st.RecordBoot(3))
	require.NoError(t, st.RecordError(3, "bios.sh: exit status 1"))

	got, err := st.GetComputer(3)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, 2, got.BootCount)
	assert.Equal(t, "bios.sh: exit status 1", got.LastError)
}

func TestListComputersAndByStatus(t *testing.T) {
	st := newTestStore(t)
	for _, id := range []int{3, 1, 2} {
		require.NoError(t, st.EnsureComputer(id))
	}
	require.NoError(t, st.UpdateStatus(2, StatusRunning))

	all, err := st.ListComputers()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].ID)
	assert.Equal(t, 3, all[2].ID)

	running, err := st.ListByStatus(StatusRunning)
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, 2, running[0].ID)
}

func TestListComputersEmpty(t *testing.T) {
	st := newTestStore(t)

	all, err := st.ListComputers()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUpdateStatusNotFound(t *testing.T) {
	st := newTestStore(t)

	err := st.UpdateStatus(9, StatusCrashed)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteComputer(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.EnsureComputer(1))
	require.NoError(t, st.DeleteComputer(1))

	got, err := st.GetComputer(1)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, st.DeleteComputer(1), ErrNotFound)
}
