package api_gateway

import (
	"log/slog"

	"github.com/backoffice-reconciliation/internal/api_gateway/handler"
	"github.com/backoffice-reconciliation/internal/api_gateway/middleware"
	"github.com/gin-gonic/gin"
)

// handlers groups every HTTP handler the gateway exposes
type handlers struct {
	reconciliation *handler.ReconciliationHandler
	records        *handler.RecordHandler
	sync           *handler.SyncHandler
	health         *handler.HealthHandler
}

// setupRouter configures API routes and middleware for the application
func setupRouter(logger *slog.Logger, r *gin.Engine, h handlers) {
	// correlation and actor must be set before the access log reads them
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CorrelationID())
	r.Use(middleware.Actor())
	r.Use(middleware.Logger(logger))

	v1 := r.Group("/api/v1")
	{
		reconcile := v1.Group("/reconcile")
		{
			reconcile.POST("", h.reconciliation.Reconcile)
			reconcile.DELETE("/:record_id", h.reconciliation.Unreconcile)
			reconcile.POST("/auto", h.reconciliation.AutoReconcile)
			reconcile.POST("/disbursement-chain", h.reconciliation.DisbursementChain)
		}

		records := v1.Group("/records")
		{
			records.GET("/:id/chain", h.records.GetChain)
			records.GET("/:id/history", h.records.GetHistory)
		}

		v1.GET("/runs/:id", h.records.GetRun)
		v1.POST("/sync/:source", h.sync.TriggerSync)
	}

	// Health check endpoint for monitoring
	r.GET("/health", h.health.Health)
}
