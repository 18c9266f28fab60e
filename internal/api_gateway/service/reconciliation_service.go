package service

import (
	"context"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/reconciliation/manual"
	"github.com/backoffice-reconciliation/internal/reconciliation/run"
	"github.com/google/uuid"
)

// ReconciliationServiceImpl implements the ReconciliationService interface
type ReconciliationServiceImpl struct {
	manual ManualReconciler
	runs   RunExecutor
	logger *slog.Logger
}

func NewReconciliationService(logger *slog.Logger, manual ManualReconciler, runs RunExecutor) ReconciliationService {
	return &ReconciliationServiceImpl{
		manual: manual,
		runs:   runs,
		logger: logger,
	}
}

func (s *ReconciliationServiceImpl) Reconcile(ctx context.Context, cmd manual.Command) (*record.FinancialRecord, error) {
	return s.manual.Reconcile(ctx, cmd)
}

func (s *ReconciliationServiceImpl) Unreconcile(ctx context.Context, recordID uuid.UUID, actor, correlationID string) (*record.FinancialRecord, error) {
	return s.manual.Unreconcile(ctx, recordID, actor, correlationID)
}

// AutoReconcile runs in the request. The run keeps going if the client disconnects.
func (s *ReconciliationServiceImpl) AutoReconcile(ctx context.Context, req run.Request) (*audit.Run, error) {
	return s.runs.AutoReconcile(context.WithoutCancel(ctx), req)
}

func (s *ReconciliationServiceImpl) DisbursementChain(ctx context.Context, req run.Request) (*audit.Run, error) {
	return s.runs.DisbursementChain(context.WithoutCancel(ctx), req)
}
