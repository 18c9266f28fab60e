package handler

import (
	"errors"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/api_gateway/middleware"
	"github.com/backoffice-reconciliation/internal/api_gateway/service"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/gin-gonic/gin"
)

// SyncHandler queues source syncs for the worker
type SyncHandler struct {
	syncService service.SyncService
	logger      *slog.Logger
}

func NewSyncHandler(logger *slog.Logger, syncService service.SyncService) *SyncHandler {
	return &SyncHandler{
		syncService: syncService,
		logger:      logger,
	}
}

// TriggerSync answers 202 once the job is on the job topic
func (h *SyncHandler) TriggerSync(c *gin.Context) {
	source := c.Param("source")

	var query RunQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		RespondBadRequest(c, "Invalid currency")
		return
	}

	job, err := h.syncService.RequestSync(c.Request.Context(), source, query.Currency, middleware.GetCorrelationID(c), middleware.GetActor(c))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrUnknownSource):
			RespondNotFound(c, "Unknown source: "+source)
		case errors.Is(err, shared.ErrJobCurrencyInvalid), errors.Is(err, shared.ErrJobSourceRequired):
			RespondBadRequest(c, err.Error())
		default:
			h.logger.Error("Failed to queue sync job", "source", source, "error", err)
			RespondInternalError(c)
		}
		return
	}

	RespondAccepted(c, SyncAcceptedResponse{
		JobID:  job.JobID.String(),
		Source: job.Source,
		Status: "QUEUED",
	})
}
