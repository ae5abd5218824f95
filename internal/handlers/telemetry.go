package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/danutirta/tanyadata-backend/internal/cache"
	"github.com/danutirta/tanyadata-backend/internal/observability"
)

type TelemetryHandler struct {
	metrics *observability.Metrics
	perf    *observability.PerformanceLog
	cache   *cache.QueryCache
}

func NewTelemetryHandler(m *observability.Metrics, p *observability.PerformanceLog, qc *cache.QueryCache) *TelemetryHandler {
	return &TelemetryHandler{metrics: m, perf: p, cache: qc}
}

// GET /metrics
func (h *TelemetryHandler) Prometheus(c *gin.Context) {
	c.Header("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	c.Status(http.StatusOK)
	if err := h.metrics.WritePrometheus(c.Writer); err != nil {
		// Headers are already out; nothing useful left to do.
		return
	}
}

// GET /api/performance?recent=<n>
func (h *TelemetryHandler) Performance(c *gin.Context) {
	recent := queryInt(c, "recent", 20)
	payload := gin.H{
		"summary": h.perf.Snapshot(),
		"recent":  h.perf.Recent(recent),
	}
	if h.cache != nil {
		payload["cache"] = h.cache.Stats()
	}
	RespondOK(c, payload)
}
