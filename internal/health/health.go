// Package health serves the liveness and readiness probes of the
// transcription server.
//
// GET /healthz answers 200 whenever the process can serve HTTP at all.
// GET /readyz runs every registered [Checker] and answers 200 only when all
// of them pass; the domain checkers in this package probe the ASR failover
// chain, the segment store, and guarded collaborators that may be running in
// degraded mode. Both endpoints respond with a JSON body carrying a "status"
// field and, for readiness, a per-check "checks" map.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// checkTimeout bounds each individual readiness check.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil when the dependency can
// serve traffic and must respect context cancellation.
type Checker struct {
	// Name keys this check in the readiness response, e.g. "asr" or "store".
	Name string

	Check func(ctx context.Context) error
}

// result is the response body shape shared by both probes.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler answers the two probe endpoints. The checker list is fixed at
// construction, so a Handler needs no locking.
type Handler struct {
	checkers []Checker
}

// New builds a [Handler] over the given checkers. Readiness evaluates them
// sequentially in the order given.
func New(checkers ...Checker) *Handler {
	h := &Handler{checkers: make([]Checker, len(checkers))}
	copy(h.checkers, checkers)
	return h
}

// Healthz reports liveness. Reaching this handler is the proof.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz reports readiness: 200 when every checker passes, 503 with the
// failing checks named otherwise.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks, ready := h.runChecks(r.Context())

	res := result{Status: "ok", Checks: checks}
	code := http.StatusOK
	if !ready {
		res.Status = "fail"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, res)
}

func (h *Handler) runChecks(ctx context.Context) (map[string]string, bool) {
	checks := make(map[string]string, len(h.checkers))
	ready := true
	for _, c := range h.checkers {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(checkCtx)
		cancel()
		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			ready = false
			continue
		}
		checks[c.Name] = "ok"
	}
	return checks, ready
}

// Register mounts both probes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
