package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tollgrid/smarttoll/internal/api/handlers"
	"github.com/tollgrid/smarttoll/internal/api/middleware"
)

// SetupBillingRoutes configures the billing worker's API: operational
// endpoints, the transaction query surface, and the payment feed.
func SetupBillingRoutes(r *gin.Engine, h *handlers.Handlers, apiKey string, nrApp *newrelic.Application) {
	// Add New Relic middleware if enabled
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}

	// Operational endpoints
	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		transactions := v1.Group("/transactions")
		transactions.Use(middleware.RequireAPIKey(apiKey))
		{
			transactions.GET("", h.ListTransactions)
			transactions.GET("/status/:tollEventId", h.GetTransactionStatus)
			transactions.GET("/:id", h.GetTransaction)
		}
	}

	// WebSocket payment feed
	r.GET("/ws/payments", h.PaymentFeed)
}

// SetupHealthRoutes configures the operational-only server used by the
// toll processor.
func SetupHealthRoutes(r *gin.Engine, h *handlers.Handlers, nrApp *newrelic.Application) {
	if nrApp != nil {
		r.Use(nrgin.Middleware(nrApp))
	}

	r.GET("/health", h.Health)
	r.GET("/ready", h.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
