package reaper

import (
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/rechenkasten/internal/store"
)

// MockReaperStore mocks the ReaperStore interface.
type MockReaperStore struct {
	mock.Mock
}

func (m *MockReaperStore) ListByStatus(status string) ([]*store.Computer, error) {
	args := m.Called(status)
	if computers := args.Get(0); computers != nil {
		return computers.([]*store.Computer), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockReaperStore) UpdateStatus(id int, status string) error {
	args := m.Called(id, status)
	return args.Error(0)
}

// MockReaperRegistry mocks the ReaperRegistry interface.
type MockReaperRegistry struct {
	mock.Mock
}

func (m *MockReaperRegistry) IsRunning(id int) bool {
	args := m.Called(id)
	return args.Bool(0)
}

func (m *MockReaperRegistry) PruneFreed(retention time.Duration) int {
	args := m.Called(retention)
	return args.Int(0)
}
