// Package health serves liveness, readiness and status probes.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"kcc-issuer/pkg/platform/httputil"
)

// Version is set at build time via ldflags.
var Version = "dev"

// CheckFunc returns nil when the dependency answers.
type CheckFunc func(ctx context.Context) error

// InfoFunc reports a value for the status probe, such as the issuer state.
type InfoFunc func() string

type Handler struct {
	startTime    time.Time
	environment  string
	checkTimeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
	info   map[string]InfoFunc
}

func New(environment string) *Handler {
	return &Handler{
		startTime:    time.Now(),
		environment:  environment,
		checkTimeout: 2 * time.Second,
		checks:       make(map[string]CheckFunc),
		info:         make(map[string]InfoFunc),
	}
}

// RegisterCheck adds a dependency to the readiness probe.
// Only configured backends are registered, so an empty set is ready.
func (h *Handler) RegisterCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RegisterInfo adds a value to the status probe. It never affects readiness.
func (h *Handler) RegisterInfo(name string, fn InfoFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.info[name] = fn
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.HandleStatus)
	r.Get("/health/live", h.HandleLiveness)
	r.Get("/health/ready", h.HandleReadiness)
}

type LivenessResponse struct {
	Status string `json:"status"`
}

func (h *Handler) HandleLiveness(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, LivenessResponse{Status: "alive"})
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// HandleReadiness runs the checks concurrently under one deadline. Any failure is a 503.
func (h *Handler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	names, checks := h.snapshotChecks()

	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	results := make([]string, len(checks))
	var g errgroup.Group
	for i, check := range checks {
		g.Go(func() error {
			results[i] = "up"
			if err := check(ctx); err != nil {
				results[i] = "down: " + err.Error()
			}
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // failures are reported per check

	response := ReadinessResponse{Status: "ready", Checks: make(map[string]string, len(names))}
	for i, name := range names {
		response.Checks[name] = results[i]
		if results[i] != "up" {
			response.Status = "not_ready"
		}
	}

	code := http.StatusOK
	if response.Status != "ready" {
		code = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, code, response)
}

func (h *Handler) snapshotChecks() ([]string, []CheckFunc) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]CheckFunc, len(names))
	for i, name := range names {
		checks[i] = h.checks[name]
	}
	return names, checks
}

type StatusResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	Environment   string            `json:"environment"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Timestamp     string            `json:"timestamp"`
	Info          map[string]string `json:"info,omitempty"`
}

func (h *Handler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	h.mu.RLock()
	info := make(map[string]string, len(h.info))
	for name, fn := range h.info {
		info[name] = fn()
	}
	h.mu.RUnlock()

	now := time.Now()
	httputil.WriteJSON(w, http.StatusOK, StatusResponse{
		Status:        "healthy",
		Version:       Version,
		Environment:   h.environment,
		UptimeSeconds: int64(now.Sub(h.startTime).Seconds()),
		Timestamp:     now.UTC().Format(time.RFC3339),
		Info:          info,
	})
}
