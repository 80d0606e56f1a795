package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/upb/pulse/services/audit"
	"github.com/upb/pulse/services/pulse"
	"github.com/upb/pulse/utils"
	"go.uber.org/zap"
)

const readinessTimeout = 5 * time.Second

// HealthResponse is the body of /healthz and /readyz
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatusResponse describes the running service
type StatusResponse struct {
	Providers []pulse.ProviderInfo `json:"providers"`
	Audit     *audit.Stats         `json:"audit,omitempty"`
}

// Pinger is a readiness probe for one backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

// Ping calls f
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type dependencyCheck struct {
	name   string
	pinger Pinger
}

// HealthHandler serves liveness, readiness and the status summary
type HealthHandler struct {
	checks    []dependencyCheck
	providers func() []pulse.ProviderInfo
	audit     func() audit.Stats
	logger    *zap.Logger
}

func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	return &HealthHandler{logger: logger}
}

// Check adds a dependency to /readyz. A nil pinger is skipped.
func (h *HealthHandler) Check(name string, p Pinger) *HealthHandler {
	if p != nil {
		h.checks = append(h.checks, dependencyCheck{name: name, pinger: p})
	}
	return h
}

// WithStatus sets the sources behind GET /status
func (h *HealthHandler) WithStatus(providers func() []pulse.ProviderInfo, auditStats func() audit.Stats) *HealthHandler {
	h.providers = providers
	h.audit = auditStats
	return h
}

// HandleHealth handles GET /healthz. It never touches dependencies.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	_ = utils.WriteOK(w, HealthResponse{Status: "healthy", Timestamp: timestamp()})
}

// HandleReadiness handles GET /readyz, answering 503 when any dependency fails
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	response := HealthResponse{Status: "healthy", Timestamp: timestamp()}
	code := http.StatusOK

	for _, c := range h.checks {
		if response.Checks == nil {
			response.Checks = make(map[string]string, len(h.checks))
		}
		if err := c.pinger.Ping(ctx); err != nil {
			h.logger.Warn("readiness check failed", zap.String("dependency", c.name), zap.Error(err))
			response.Checks[c.name] = "unhealthy"
			response.Status = "unhealthy"
			code = http.StatusServiceUnavailable
			continue
		}
		response.Checks[c.name] = "healthy"
	}

	if err := utils.WriteJSON(w, code, utils.SuccessResponse{Data: response}); err != nil {
		h.logger.Error("failed to write readiness response", zap.Error(err))
	}
}

// HandleStatus handles GET /api/v1/status
func (h *HealthHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response := StatusResponse{Providers: []pulse.ProviderInfo{}}
	if h.providers != nil {
		response.Providers = h.providers()
	}
	if h.audit != nil {
		stats := h.audit()
		response.Audit = &stats
	}
	_ = utils.WriteOK(w, response)
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
