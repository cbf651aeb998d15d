package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/vnykmshr/pacer/internal/logging"
	"github.com/vnykmshr/pacer/internal/threat"
	"github.com/vnykmshr/pacer/pkg/coordinator"
)

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Fallback bool   `json:"fallback"`
}

// BusStatus describes the active transport in GET /status.
type BusStatus struct {
	Backend    string `json:"backend"`
	Configured string `json:"configured"`
	Fallback   bool   `json:"fallback"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	Uptime      string              `json:"uptime"`
	Bus         BusStatus           `json:"bus"`
	Coordinator *coordinator.Status `json:"coordinator,omitempty"`
	Sources     []string            `json:"sources"`
}

// EventResponse is returned by POST /events/{source}.
type EventResponse struct {
	PipelineID string `json:"pipeline_id"`
	Source     string `json:"source"`
	Severity   string `json:"severity"`
	Host       string `json:"host"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Health reports liveness and the active backend.
func (s *Server) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Backend:  s.bus.Backend(),
		Fallback: s.bus.Fallback(),
	})
}

// Status reports the transport and, when running, the coordinator.
func (s *Server) Status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{
		Uptime: time.Since(s.started).Round(time.Second).String(),
		Bus: BusStatus{
			Backend:    s.bus.Backend(),
			Configured: s.bus.Configured(),
			Fallback:   s.bus.Fallback(),
		},
		Sources: threat.Sources,
	}
	if s.status != nil {
		st := s.status.Status()
		resp.Coordinator = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

// InjectEvent publishes the canned event for the source path variable.
func (s *Server) InjectEvent(w http.ResponseWriter, r *http.Request) {
	source := mux.Vars(r)["source"]

	ev, err := s.detector.Detect(r.Context(), source)
	switch {
	case errors.Is(err, threat.ErrUnknownSource):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	case errors.Is(err, threat.ErrNotPublished):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	case err != nil:
		s.logger.Error("event injection failed", logging.String("source", source), logging.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: internalServerError})
		return
	}

	writeJSON(w, http.StatusAccepted, EventResponse{
		PipelineID: ev.PipelineID,
		Source:     source,
		Severity:   ev.NormalizedSeverity(),
		Host:       ev.Host,
	})
}
