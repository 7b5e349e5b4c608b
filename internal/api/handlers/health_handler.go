package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tollgrid/smarttoll/internal/api/dto"
	"github.com/tollgrid/smarttoll/pkg/logger"
)

const readyCheckTimeout = 5 * time.Second

// Health handles GET /health. Liveness only: the process is up and serving.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{
		Status:  "ok",
		Service: h.opts.Service,
	})
}

// Ready handles GET /ready. Runs every configured dependency probe and
// reports 503 while any of them fails, so the orchestrator holds traffic
// until brokers and stores are actually reachable.
func (h *Handlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), readyCheckTimeout)
	defer cancel()

	checks := make(map[string]string, len(h.opts.ReadyChecks))
	healthy := true
	for _, rc := range h.opts.ReadyChecks {
		if err := rc.Check(ctx); err != nil {
			healthy = false
			checks[rc.Name] = err.Error()
			h.Logger.Warn("readiness check failed",
				logger.String("check", rc.Name),
				logger.Err(err),
			)
			continue
		}
		checks[rc.Name] = "ok"
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, dto.ReadyResponse{
			Status: "degraded",
			Checks: checks,
		})
		return
	}
	c.JSON(http.StatusOK, dto.ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}
