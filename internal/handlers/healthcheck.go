package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether one downstream dependency is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

func HealthCheck(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type ReadinessHandler struct {
	checks map[string]HealthChecker
}

func NewReadinessHandler(checks map[string]HealthChecker) *ReadinessHandler {
	return &ReadinessHandler{checks: checks}
}

// GET /readyz
//
// Degraded dependencies are reported but do not fail readiness: the service
// keeps answering with fallbacks when the operational database is down.
func (h *ReadinessHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	status := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if check == nil {
			status[name] = "disabled"
			continue
		}
		if err := check.Healthy(ctx); err != nil {
			status[name] = "unreachable: " + err.Error()
			continue
		}
		status[name] = "ok"
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "dependencies": status})
}
