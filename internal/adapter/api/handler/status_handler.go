package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// RunStatus tracks which phase the running command is in.
type RunStatus struct {
	mu        sync.RWMutex
	command   string
	phase     string
	startedAt time.Time
	updatedAt time.Time
	counters  map[string]int
}

// StatusSnapshot is the JSON body of GET /status.
type StatusSnapshot struct {
	Command   string         `json:"command"`
	Phase     string         `json:"phase"`
	StartedAt time.Time      `json:"started_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	Uptime    string         `json:"uptime"`
	Counters  map[string]int `json:"counters,omitempty"`
}

// NewRunStatus starts tracking command.
func NewRunStatus(command string) *RunStatus {
	now := time.Now().UTC()
	return &RunStatus{command: command, phase: "starting", startedAt: now, updatedAt: now, counters: make(map[string]int)}
}

// SetPhase records the current phase.
func (s *RunStatus) SetPhase(phase string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = phase
	s.updatedAt = time.Now().UTC()
}

// SetCounter records a named count, such as the number of candidates.
func (s *RunStatus) SetCounter(name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters[name] = n
	s.updatedAt = time.Now().UTC()
}

// Snapshot returns a copy of the current status.
func (s *RunStatus) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counters := make(map[string]int, len(s.counters))
	for k, v := range s.counters {
		counters[k] = v
	}
	return StatusSnapshot{
		Command:   s.command,
		Phase:     s.phase,
		StartedAt: s.startedAt,
		UpdatedAt: s.updatedAt,
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Counters:  counters,
	}
}

// StatusHandler serves liveness and run status.
type StatusHandler struct {
	status *RunStatus
	logger *slog.Logger
}

// NewStatusHandler creates a new StatusHandler.
func NewStatusHandler(status *RunStatus, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{status: status, logger: logger}
}

// HealthCheck is a simple health check endpoint.
func (h *StatusHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports the phase of the running command.
// GET /status
func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.status == nil {
		http.Error(w, "no run in progress", http.StatusServiceUnavailable)
		return
	}
	h.respondWithJSON(w, http.StatusOK, h.status.Snapshot())
}

func (h *StatusHandler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
