// Package health serves the liveness and readiness probes.
//
//   - /healthz answers 200 whenever the process can serve HTTP.
//   - /readyz answers 200 only while every registered dependency [Checker]
//     (the notes store, typically) passes.
//
// Both respond with a JSON body carrying "status", the number of live voice
// sessions, and per-checker results.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds a single dependency probe.
const checkTimeout = 3 * time.Second

// Checker probes one dependency. Check returns nil while the dependency can
// serve; the error text is surfaced verbatim in the probe response.
type Checker struct {
	// Name keys the check result in the JSON body (e.g. "notes").
	Name string

	// Check must respect context cancellation.
	Check func(ctx context.Context) error
}

type probeBody struct {
	Status   string            `json:"status"`
	Sessions *int              `json:"active_sessions,omitempty"`
	Checks   map[string]string `json:"checks,omitempty"`
}

// Handler serves the probe endpoints. The checker list is fixed at
// construction; the optional session gauge may be installed before the
// handler is mounted. Safe for concurrent use.
type Handler struct {
	checkers []Checker
	sessions func() int
}

// New creates a Handler that runs the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// ObserveSessions installs a live-session gauge reported in both probes.
func (h *Handler) ObserveSessions(fn func() int) {
	h.sessions = fn
}

// Healthz always answers 200.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.body("ok", nil))
}

// Readyz answers 200 only when every checker passes. Each checker gets a
// [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	ready := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	if ready {
		writeJSON(w, http.StatusOK, h.body("ok", checks))
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, h.body("fail", checks))
}

// Register mounts the probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func (h *Handler) body(status string, checks map[string]string) probeBody {
	b := probeBody{Status: status, Checks: checks}
	if h.sessions != nil {
		n := h.sessions()
		b.Sessions = &n
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
