package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthCheckTimeout = 3 * time.Second

// HealthCheck probes one dependency. Critical checks decide readiness.
type HealthCheck struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// HealthHandlers handles health check endpoints
type HealthHandlers struct {
	version string
	started time.Time
	checks  []HealthCheck
}

func NewHealthHandlers(version string, checks ...HealthCheck) *HealthHandlers {
	return &HealthHandlers{version: version, started: time.Now(), checks: checks}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
}

func (h *HealthHandlers) run(ctx context.Context) (services map[string]string, degraded, ready bool) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	services = make(map[string]string, len(h.checks))
	ready = true
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			services[check.Name] = "unhealthy"
			degraded = true
			if check.Critical {
				ready = false
			}
			continue
		}
		services[check.Name] = "healthy"
	}
	return services, degraded, ready
}

// HealthCheck godoc
// @Summary Dependency health
// @Tags health
// @Produce json
// @Success 200 {object} HealthStatus
// @Router /health [get]
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	services, degraded, _ := h.run(c.Request().Context())
	health := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
		Uptime:    time.Since(h.started).Truncate(time.Second).String(),
		Version:   h.version,
	}
	if degraded {
		health.Status = "degraded"
	}
	return c.JSON(http.StatusOK, health)
}

// ReadinessCheck determines if the application is ready to serve traffic
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	services, _, ready := h.run(c.Request().Context())
	if !ready {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status":   "not_ready",
			"services": services,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":   "ready",
		"services": services,
	})
}
