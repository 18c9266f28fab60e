package handler

import (
	"errors"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/api_gateway/middleware"
	"github.com/backoffice-reconciliation/internal/api_gateway/service"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/reconciliation/manual"
	"github.com/backoffice-reconciliation/internal/reconciliation/run"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// ReconciliationHandler handles manual and triggered reconciliation requests
type ReconciliationHandler struct {
	reconciliationService service.ReconciliationService
	logger                *slog.Logger
}

func NewReconciliationHandler(logger *slog.Logger, reconciliationService service.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
		logger:                logger,
	}
}

// Reconcile manually links a record to a payment. The actor comes from X-Actor-ID.
func (h *ReconciliationHandler) Reconcile(c *gin.Context) {
	var req ReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", "error", err)
		RespondBadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	recordID, err := uuid.Parse(req.RecordID)
	if err != nil {
		RespondBadRequest(c, "Invalid record ID")
		return
	}

	updated, err := h.reconciliationService.Reconcile(c.Request.Context(), manual.Command{
		RecordID:      recordID,
		PaymentSource: req.Source,
		Reference:     req.Reference,
		Actor:         middleware.GetActor(c),
		Override:      req.Override,
		CorrelationID: middleware.GetCorrelationID(c),
	})
	if err != nil {
		h.respondStateError(c, recordID, err)
		return
	}

	RespondOK(c, updated)
}

// Unreconcile clears the reconciliation state of a record
func (h *ReconciliationHandler) Unreconcile(c *gin.Context) {
	idParam := c.Param("record_id")
	recordID, err := uuid.Parse(idParam)
	if err != nil {
		RespondBadRequest(c, "Invalid record ID")
		return
	}

	updated, err := h.reconciliationService.Unreconcile(c.Request.Context(), recordID, middleware.GetActor(c), middleware.GetCorrelationID(c))
	if err != nil {
		h.respondStateError(c, recordID, err)
		return
	}

	RespondOK(c, updated)
}

// AutoReconcile runs automatic reconciliation and returns its summary, even on partial failure
func (h *ReconciliationHandler) AutoReconcile(c *gin.Context) {
	var query RunQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		RespondBadRequest(c, "Invalid currency")
		return
	}

	result, err := h.reconciliationService.AutoReconcile(c.Request.Context(), run.Request{
		Currency:      query.Currency,
		CorrelationID: middleware.GetCorrelationID(c),
		RequestedBy:   middleware.GetActor(c),
	})
	if err != nil {
		h.logger.Error("Automatic reconciliation failed", "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapAutoReconcileResponse(result))
}

// DisbursementChain reconciles invoice to bank chains for one currency
func (h *ReconciliationHandler) DisbursementChain(c *gin.Context) {
	var query ChainQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		RespondBadRequest(c, "A 3-letter currency query parameter is required")
		return
	}

	result, err := h.reconciliationService.DisbursementChain(c.Request.Context(), run.Request{
		Currency:      query.Currency,
		CorrelationID: middleware.GetCorrelationID(c),
		RequestedBy:   middleware.GetActor(c),
	})
	if err != nil {
		if errors.Is(err, shared.ErrJobCurrencyInvalid) {
			RespondBadRequest(c, err.Error())
			return
		}
		h.logger.Error("Disbursement chain run failed", "currency", query.Currency, "error", err)
		RespondInternalError(c)
		return
	}

	RespondOK(c, mapDisbursementChainResponse(result))
}

func (h *ReconciliationHandler) respondStateError(c *gin.Context, recordID uuid.UUID, err error) {
	var conflict record.ConflictError
	switch {
	case errors.Is(err, manual.ErrInvalidCommand):
		RespondBadRequest(c, err.Error())
	case errors.Is(err, record.ErrRecordNotFound{}):
		RespondNotFound(c, "Record not found")
	case errors.As(err, &conflict):
		RespondConflict(c, conflict.Error(), map[string]string{
			"current":   conflict.Current,
			"requested": conflict.Requested,
		})
	default:
		h.logger.Error("Failed to change reconciliation state", "record_id", recordID.String(), "error", err)
		RespondInternalError(c)
	}
}
