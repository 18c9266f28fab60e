package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/backoffice-reconciliation/internal/api_gateway/service"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RecordHandler serves read-only record, audit and run queries
type RecordHandler struct {
	recordService service.RecordService
	logger        *slog.Logger
}

func NewRecordHandler(logger *slog.Logger, recordService service.RecordService) *RecordHandler {
	return &RecordHandler{
		recordService: recordService,
		logger:        logger,
	}
}

// GetChain returns the invoice to bank chain around a record
func (h *RecordHandler) GetChain(c *gin.Context) {
	id, ok := parseID(c, "Invalid record ID")
	if !ok {
		return
	}

	result, err := h.recordService.GetChain(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, record.ErrRecordNotFound{}) {
			RespondNotFound(c, "Record not found")
			return
		}
		h.logger.Error("Failed to resolve chain", "record_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, result)
}

// GetHistory returns the paginated audit trail of a record, newest first
func (h *RecordHandler) GetHistory(c *gin.Context) {
	id, ok := parseID(c, "Invalid record ID")
	if !ok {
		return
	}

	var pagination PaginationParams
	if err := c.ShouldBindQuery(&pagination); err != nil {
		RespondBadRequest(c, "Invalid pagination parameters")
		return
	}

	entries, total, err := h.recordService.GetHistory(c.Request.Context(), id, pagination.Page, pagination.PerPage)
	if err != nil {
		h.logger.Error("Failed to get audit history", "record_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}

	RespondWithPaginatedData(c, http.StatusOK, entries, pagination.Page, pagination.PerPage, int(total))
}

// GetRun returns a stored run summary with its tolerance settings
func (h *RecordHandler) GetRun(c *gin.Context) {
	id, ok := parseID(c, "Invalid run ID")
	if !ok {
		return
	}

	result, err := h.recordService.GetRun(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get run", "run_id", id.String(), "error", err)
		RespondInternalError(c)
		return
	}
	if result == nil {
		RespondNotFound(c, "Run not found")
		return
	}

	RespondOK(c, result)
}

func parseID(c *gin.Context, message string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondBadRequest(c, message)
		return uuid.Nil, false
	}
	return id, true
}
