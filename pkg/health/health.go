// Package health serves liveness and readiness checks. Readiness runs every
// registered dependency check concurrently.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// checkTimeout bounds a readiness check as a whole.
const checkTimeout = 5 * time.Second

// Checker reports whether a dependency is usable.
type Checker func(ctx context.Context) error

// Status is the state of one dependency or of the service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDown     Status = "down"
	StatusDegraded Status = "degraded"
)

// Response is the health endpoint body.
type Response struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status     Status `json:"status"`
	Critical   bool   `json:"critical"`
	DurationMs int64  `json:"durationMs"`
	Error      string `json:"error,omitempty"`
}

type dependency struct {
	name     string
	check    Checker
	critical bool
}

// Handler aggregates dependency checks. A failing critical dependency makes
// the service unready (503); a failing non-critical one marks it degraded
// but keeps it in rotation.
type Handler struct {
	mu   sync.RWMutex
	deps map[string]dependency
	now  func() time.Time
}

// NewHandler creates a handler with no dependencies.
func NewHandler() *Handler {
	return &Handler{deps: make(map[string]dependency), now: time.Now}
}

// RegisterCritical adds or replaces a dependency the service cannot run without.
func (h *Handler) RegisterCritical(name string, check Checker) {
	h.add(dependency{name: name, check: check, critical: true})
}

// RegisterNonCritical adds or replaces a dependency the service can limp along without.
func (h *Handler) RegisterNonCritical(name string, check Checker) {
	h.add(dependency{name: name, check: check})
}

func (h *Handler) add(d dependency) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.deps[d.name] = d
}

// LivenessHandler answers 200 while the process can serve HTTP.
func (h *Handler) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeResponse(w, http.StatusOK, Response{Status: StatusUp, Timestamp: h.now().UTC()})
	}
}

// ReadinessHandler runs all checks and answers 200 (up or degraded) or 503.
func (h *Handler) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check(r.Context())
		status := http.StatusOK
		if resp.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeResponse(w, status, resp)
	}
}

// Check runs every registered check concurrently and folds the results.
func (h *Handler) Check(ctx context.Context) Response {
	h.mu.RLock()
	deps := make([]dependency, 0, len(h.deps))
	for _, d := range h.deps {
		deps = append(deps, d)
	}
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	results := make([]CheckResult, len(deps))
	var g errgroup.Group
	for i, d := range deps {
		g.Go(func() error {
			start := h.now()
			err := d.check(ctx)
			res := CheckResult{Status: StatusUp, Critical: d.critical, DurationMs: h.now().Sub(start).Milliseconds()}
			if err != nil {
				res.Status = StatusDown
				res.Error = err.Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	resp := Response{Status: StatusUp, Timestamp: h.now().UTC(), Checks: make(map[string]CheckResult, len(deps))}
	for i, d := range deps {
		res := results[i]
		resp.Checks[d.name] = res
		if res.Status != StatusDown {
			continue
		}
		if res.Critical {
			resp.Status = StatusDown
		} else if resp.Status == StatusUp {
			resp.Status = StatusDegraded
		}
	}
	return resp
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
