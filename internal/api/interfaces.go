package api

import (
	"context"

	"github.com/p-arndt/rechenkasten/protocol"
)

// ComputerService abstracts the computer operations needed by API handlers.
// *control.Manager implements it.
type ComputerService interface {
	List(ctx context.Context) ([]protocol.ComputerInfo, error)
	Get(ctx context.Context, id int) (*protocol.ComputerInfo, error)
	Start(ctx context.Context, id int) (*protocol.ComputerInfo, error)
	Shutdown(ctx context.Context, id int) error
	Reboot(ctx context.Context, id int) error
	QueueEvent(ctx context.Context, id int, name string, args []string) error
	Mounts(ctx context.Context, id int) ([]protocol.MountInfo, error)
	Mount(ctx context.Context, id int, req protocol.MountRequest) error
	Unmount(ctx context.Context, id int, name string) error
	Attach(ctx context.Context, id int, req protocol.AttachRequest) error
	Detach(ctx context.Context, id int, side string) error
}
