package api

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/p-arndt/rechenkasten/protocol"
)

type MockComputerService struct {
	mock.Mock
}

func (m *MockComputerService) List(ctx context.Context) ([]protocol.ComputerInfo, error) {
	args := m.Called(ctx)
	if list := args.Get(0); list != nil {
		return list.([]protocol.ComputerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockComputerService) Get(ctx context.Context, id int) (*protocol.ComputerInfo, error) {
	args := m.Called(ctx, id)
	if info := args.Get(0); info != nil {
		return info.(*protocol.ComputerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockComputerService) Start(ctx context.Context, id int) (*protocol.ComputerInfo, error) {
	args := m.Called(ctx, id)
	if info := args.Get(0); info != nil {
		return info.(*protocol.ComputerInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockComputerService) Shutdown(ctx context.Context, id int) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockComputerService) Reboot(ctx context.Context, id int) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockComputerService) QueueEvent(ctx context.Context, id int, name string, args []string) error {
	return m.Called(ctx, id, name, args).Error(0)
}

func (m *MockComputerService) Mounts(ctx context.Context, id int) ([]protocol.MountInfo, error) {
	args := m.Called(ctx, id)
	if list := args.Get(0); list != nil {
		return list.([]protocol.MountInfo), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockComputerService) Mount(ctx context.Context, id int, req protocol.MountRequest) error {
	return m.Called(ctx, id, req).Error(0)
}

func (m *MockComputerService) Unmount(ctx context.Context, id int, name string) error {
	return m.Called(ctx, id, name).Error(0)
}

func (m *MockComputerService) Attach(ctx context.Context, id int, req protocol.AttachRequest) error {
	return m.Called(ctx, id, req).Error(0)
}

func (m *MockComputerService) Detach(ctx context.Context, id int, side string) error {
	return m.Called(ctx, id, side).Error(0)
}
