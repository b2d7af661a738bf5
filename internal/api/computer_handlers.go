package api

import (
	"net/http"

	"github.com/p-arndt/rechenkasten/protocol"
)

// pathID parses {id} and writes the validation error itself on failure.
func pathID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := parseComputerID(r.PathValue("id"))
	if err != nil {
		writeValidationError(w, err.Error(), map[string]any{"id": r.PathValue("id")})
		return 0, false
	}
	return id, true
}

func (s *Server) handleListComputers(w http.ResponseWriter, r *http.Request) {
	list, err := s.manager.List(r.Context())
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if list == nil {
		list = []protocol.ComputerInfo{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetComputer(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	info, err := s.manager.Get(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	info, err := s.manager.Start(r.Context(), id)
	if err != nil {
		s.logger.Warn("start failed", "computer_id", id, "request_id", requestID(r), "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Shutdown(r.Context(), id); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}

func (s *Server) handleReboot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Reboot(r.Context(), id); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}

func (s *Server) handleQueueEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req protocol.QueueEventRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json", map[string]any{"error": err.Error()})
		return
	}
	if err := validateQueueEventRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	if err := s.manager.QueueEvent(r.Context(), id, req.Name, req.Args); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, protocol.OKResponse{OK: true})
}
