package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/stockbot/internal/history"
	"github.com/aristath/stockbot/internal/lifecycle"
)

// handleHealth reports liveness and, when configured, database reachability.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":  "healthy",
		"service": "stockbot",
	}
	status := http.StatusOK

	if s.cfg.HistoryDB != nil {
		if err := s.cfg.HistoryDB.QuickCheck(r.Context()); err != nil {
			response["status"] = "degraded"
			response["history_db"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	s.writeJSON(w, status, response)
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	State         lifecycle.State    `json:"state"`
	Presence      lifecycle.Presence `json:"presence"`
	Pending       int                `json:"pending_interactions"`
	RunningJobs   int                `json:"running_jobs"`
	UptimeSeconds float64            `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		UptimeSeconds: time.Since(s.startedAt).Seconds(),
	}
	if s.cfg.Lifecycle != nil {
		resp.State = s.cfg.Lifecycle.State()
		resp.Presence = s.cfg.Lifecycle.Presence()
	}
	if s.cfg.Pending != nil {
		resp.Pending = len(s.cfg.Pending.Pending())
	}
	if s.cfg.Jobs != nil {
		resp.RunningJobs = len(s.cfg.Jobs.InFlight())
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Commands == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Commands.Descriptors())
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Jobs == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Jobs.InFlight())
}

func (s *Server) handlePendingInteractions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Pending == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.cfg.Pending.Pending())
}

func (s *Server) handleListInteractions(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	records, err := s.cfg.History.List(r.Context(), limit, r.URL.Query().Get("command"))
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to list interactions")
		s.writeError(w, http.StatusInternalServerError, "failed to list interactions")
		return
	}
	if records == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	s.writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleGetInteraction(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}

	rec, err := s.cfg.History.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "interaction not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to get interaction")
		s.writeError(w, http.StatusInternalServerError, "failed to get interaction")
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleInteractionStats(w http.ResponseWriter, r *http.Request) {
	if s.cfg.History == nil {
		s.writeError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}

	stats, err := s.cfg.History.Stats(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to compute interaction stats")
		s.writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
