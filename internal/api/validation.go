package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/p-arndt/rechenkasten/protocol"
)

const (
	maxEventNameLen = 64
	maxEventArgs    = 32
)

// parseComputerID validates the {id} path value.
func parseComputerID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("computer id must be an integer")
	}
	if id < 0 {
		return 0, fmt.Errorf("computer id must be non-negative")
	}
	return id, nil
}

func validateQueueEventRequest(req protocol.QueueEventRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(req.Name) > maxEventNameLen {
		return fmt.Errorf("name must not exceed %d characters", maxEventNameLen)
	}
	if strings.ContainsAny(req.Name, " \t\n") {
		return fmt.Errorf("name must not contain whitespace")
	}
	if len(req.Args) > maxEventArgs {
		return fmt.Errorf("at most %d args are allowed", maxEventArgs)
	}
	return nil
}

func validateMountRequest(req protocol.MountRequest) error {
	if strings.Trim(req.Name, "/") == "" {
		return fmt.Errorf("name is required")
	}
	if req.Source == "" {
		return fmt.Errorf("source is required")
	}
	if !strings.HasPrefix(req.Source, "/") {
		return fmt.Errorf("source must be an absolute host path")
	}
	return nil
}

func validateAttachRequest(req protocol.AttachRequest) error {
	if req.Side == "" {
		return fmt.Errorf("side is required")
	}
	if req.Type == "" {
		return fmt.Errorf("type is required")
	}
	return nil
}
