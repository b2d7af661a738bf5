package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/p-arndt/rechenkasten/internal/computer"
	"github.com/p-arndt/rechenkasten/internal/mount"
	"github.com/p-arndt/rechenkasten/internal/peripheral"
	"github.com/p-arndt/rechenkasten/internal/store"
)

// Error codes returned in API responses
const (
	ErrCodeComputerNotFound  = "COMPUTER_NOT_FOUND"
	ErrCodeAlreadyRunning    = "ALREADY_RUNNING"
	ErrCodeShuttingDown      = "SHUTTING_DOWN"
	ErrCodeInvalidMount      = "INVALID_MOUNT"
	ErrCodeMountNotFound     = "MOUNT_NOT_FOUND"
	ErrCodeAlreadyAttached   = "ALREADY_ATTACHED"
	ErrCodeUnknownPeripheral = "UNKNOWN_PERIPHERAL_TYPE"
	ErrCodeNotAttached       = "NOT_ATTACHED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInternalError     = "INTERNAL_ERROR"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// APIError represents a structured API error response
type APIError struct {
	Code    string         `json:"error_code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// errorStatus maps sentinel errors to a status and an error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, computer.ErrNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, ErrCodeComputerNotFound
	case errors.Is(err, computer.ErrAlreadyRunning):
		return http.StatusConflict, ErrCodeAlreadyRunning
	case errors.Is(err, computer.ErrInvalidID):
		return http.StatusBadRequest, ErrCodeInvalidRequest
	case errors.Is(err, computer.ErrRegistryClosed):
		return http.StatusServiceUnavailable, ErrCodeShuttingDown
	case errors.Is(err, mount.ErrInvalidMount), errors.Is(err, mount.ErrEscapesRoot):
		return http.StatusBadRequest, ErrCodeInvalidMount
	case errors.Is(err, mount.ErrNotFound):
		return http.StatusNotFound, ErrCodeMountNotFound
	case errors.Is(err, peripheral.ErrAlreadyAttached):
		return http.StatusConflict, ErrCodeAlreadyAttached
	case errors.Is(err, peripheral.ErrUnknownType):
		return http.StatusBadRequest, ErrCodeUnknownPeripheral
	case errors.Is(err, peripheral.ErrNotAttached):
		return http.StatusNotFound, ErrCodeNotAttached
	}
	return http.StatusInternalServerError, ErrCodeInternalError
}

// writeAPIError writes a structured error response with appropriate HTTP status
func writeAPIError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{Code: code, Message: err.Error()})
}

// writeValidationError writes a 400 Bad Request with validation details
func writeValidationError(w http.ResponseWriter, message string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeInvalidRequest,
		Message: message,
		Details: details,
	})
}

// writeUnauthorizedError writes a 401 Unauthorized error
func writeUnauthorizedError(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(APIError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	})
}
