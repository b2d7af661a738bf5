package control

import "github.com/p-arndt/rechenkasten/internal/store"

// ComputerStore is the read side of the computer records.
type ComputerStore interface {
	GetComputer(id int) (*store.Computer, error)
	ListComputers() ([]*store.Computer, error)
}

// UsageMeter measures data directories. *workspace.Manager implements it.
type UsageMeter interface {
	Usage(id int) (int64, error)
}
