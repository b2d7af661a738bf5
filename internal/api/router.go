package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/p-arndt/rechenkasten/internal/config"
)

type Server struct {
	cfg     atomic.Pointer[config.Config]
	manager ComputerService
	metrics http.Handler
	logger  *slog.Logger
	mux     *http.ServeMux
}

// NewServer builds the control API. metrics may be nil.
func NewServer(cfg *config.Config, mgr ComputerService, metrics http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		manager: mgr,
		metrics: metrics,
		logger:  logger,
		mux:     http.NewServeMux(),
	}
	s.cfg.Store(cfg)
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.authMiddleware(s.requestIDMiddleware(s.mux))
}

// SetConfig swaps the config after a reload. Only the api key is read per
// request.
func (s *Server) SetConfig(cfg *config.Config) {
	s.cfg.Store(cfg)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /v1/computers", s.handleListComputers)
	s.mux.HandleFunc("GET /v1/computers/{id}", s.handleGetComputer)
	s.mux.HandleFunc("POST /v1/computers/{id}/start", s.handleStart)
	s.mux.HandleFunc("POST /v1/computers/{id}/shutdown", s.handleShutdown)
	s.mux.HandleFunc("POST /v1/computers/{id}/reboot", s.handleReboot)
	s.mux.HandleFunc("POST /v1/computers/{id}/events", s.handleQueueEvent)

	s.mux.HandleFunc("GET /v1/computers/{id}/mounts", s.handleListMounts)
	s.mux.HandleFunc("POST /v1/computers/{id}/mounts", s.handleMount)
	s.mux.HandleFunc("DELETE /v1/computers/{id}/mounts/{name...}", s.handleUnmount)

	s.mux.HandleFunc("POST /v1/computers/{id}/peripherals", s.handleAttach)
	s.mux.HandleFunc("DELETE /v1/computers/{id}/peripherals/{side}", s.handleDetach)

	// Health check and metrics (no auth)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		s.mux.Handle("GET /metrics", s.metrics)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
