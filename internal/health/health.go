// Package health serves the liveness and readiness probes of the phonemix
// server:
//
//   - /healthz always returns 200 while the process can serve HTTP.
//   - /readyz returns 200 only when every registered [Checker] passes, for
//     example once the project's source videos are loaded.
//
// Both respond with a JSON object holding a "status" field ("ok" or "fail")
// and, for /readyz, a "checks" map with one entry per checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when healthy.
type Checker struct {
	// Name is the key of this check in the JSON response, e.g. "sources".
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Condition returns a Checker that passes while ok reports true and fails
// with reason otherwise.
func Condition(name string, ok func() bool, reason string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if ok() {
			return nil
		}
		return errors.New(reason)
	}}
}

// Pinger is implemented by backends with a connectivity probe, such as the
// PostgreSQL result store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a Checker that pings p.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the probes. The checker list is fixed at construction time.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers, in order, on each /readyz
// request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is the readiness probe. Each checker gets [checkTimeout] derived
// from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			res.Checks[c.Name] = "fail: " + err.Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
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
