// Package protocol defines the JSON bodies of the rechenkasten control API.
package protocol

import "time"

// HeaderRequestID carries the request id set by the API middleware.
const HeaderRequestID = "X-Request-ID"

// ComputerInfo describes one computer. Live fields are only set while the
// computer runs.
type ComputerInfo struct {
	ID        int       `json:"id"`
	Label     string    `json:"label,omitempty"`
	Status    string    `json:"status"`
	BootCount int       `json:"boot_count"`
	LastError string    `json:"last_error,omitempty"`
	DiskUsage int64     `json:"disk_usage_bytes"`
	CreatedAt time.Time `json:"created_at,omitempty"`

	Live *LiveInfo `json:"live,omitempty"`
}

// LiveInfo is the runtime state of a running computer.
type LiveInfo struct {
	State         string   `json:"state"`
	UptimeMs      int64    `json:"uptime_ms"`
	PendingEvents int      `json:"pending_events"`
	FilesOpen     int      `json:"files_open"`
	RequestsOpen  int      `json:"requests_open"`
	Peripherals   []string `json:"peripherals,omitempty"`
}

// QueueEventRequest queues an event for the guest.
type QueueEventRequest struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// MountInfo is one entry of a computer's mount table.
type MountInfo struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	ReadOnly bool   `json:"read_only"`
}

// MountRequest binds a host directory into a running computer. ReadOnly
// defaults to true.
type MountRequest struct {
	Name     string `json:"name"`
	Source   string `json:"source"`
	ReadOnly *bool  `json:"read_only,omitempty"`
}

// AttachRequest attaches a peripheral to a side of a running computer.
type AttachRequest struct {
	Side string   `json:"side"`
	Type string   `json:"type"`
	Args []string `json:"args,omitempty"`
}

// OKResponse acknowledges an action without a body of its own.
type OKResponse struct {
	OK bool `json:"ok"`
}
