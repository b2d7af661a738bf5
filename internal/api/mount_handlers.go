package api

import (
	"net/http"

	"github.com/p-arndt/rechenkasten/protocol"
)

func (s *Server) handleListMounts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	mounts, err := s.manager.Mounts(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	if mounts == nil {
		mounts = []protocol.MountInfo{}
	}
	writeJSON(w, http.StatusOK, mounts)
}

func (s *Server) handleMount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req protocol.MountRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json", map[string]any{"error": err.Error()})
		return
	}
	if err := validateMountRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	if err := s.manager.Mount(r.Context(), id, req); err != nil {
		s.logger.Warn("mount failed", "computer_id", id, "name", req.Name, "request_id", requestID(r), "error", err)
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.OKResponse{OK: true})
}

func (s *Server) handleUnmount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Unmount(r.Context(), id, r.PathValue("name")); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req protocol.AttachRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json", map[string]any{"error": err.Error()})
		return
	}
	if err := validateAttachRequest(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}
	if err := s.manager.Attach(r.Context(), id, req); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, protocol.OKResponse{OK: true})
}

func (s *Server) handleDetach(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.manager.Detach(r.Context(), id, r.PathValue("side")); err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.OKResponse{OK: true})
}
