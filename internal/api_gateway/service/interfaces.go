package service

import (
	"context"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/reconciliation/chain"
	"github.com/backoffice-reconciliation/internal/reconciliation/manual"
	"github.com/backoffice-reconciliation/internal/reconciliation/run"
	"github.com/google/uuid"
)

// ReconciliationService changes reconciliation state on behalf of an operator
type ReconciliationService interface {
	// Reconcile links a record to an external payment.
	// Returns manual.ErrInvalidCommand, record.ErrRecordNotFound or record.ConflictError.
	Reconcile(ctx context.Context, cmd manual.Command) (*record.FinancialRecord, error)

	// Unreconcile clears the reconciliation state of a record
	Unreconcile(ctx context.Context, recordID uuid.UUID, actor, correlationID string) (*record.FinancialRecord, error)

	// AutoReconcile matches every unreconciled settlement batch and returns the run summary
	AutoReconcile(ctx context.Context, req run.Request) (*audit.Run, error)

	// DisbursementChain matches the batches of one currency, then links invoices to transactions
	DisbursementChain(ctx context.Context, req run.Request) (*audit.Run, error)
}

// RecordService answers read-only questions about records and runs
type RecordService interface {
	// GetChain returns the invoice to bank chain around a record
	GetChain(ctx context.Context, id uuid.UUID) (*chain.Chain, error)

	// GetHistory returns a page of the audit trail of a record and the total entry count
	GetHistory(ctx context.Context, id uuid.UUID, page, perPage int) ([]*audit.Entry, int64, error)

	// GetRun returns a run summary, or nil if it does not exist
	GetRun(ctx context.Context, id uuid.UUID) (*audit.Run, error)
}

// SyncService queues sync jobs for the worker
type SyncService interface {
	// RequestSync publishes a sync-then-reconcile job for one configured source
	RequestSync(ctx context.Context, source, currency, correlationID, actor string) (*shared.JobRequest, error)
}

// ManualReconciler is the manual package's service as seen by the gateway
type ManualReconciler interface {
	Reconcile(ctx context.Context, cmd manual.Command) (*record.FinancialRecord, error)
	Unreconcile(ctx context.Context, recordID uuid.UUID, actor, correlationID string) (*record.FinancialRecord, error)
}

// RunExecutor is the run package's service as seen by the gateway
type RunExecutor interface {
	AutoReconcile(ctx context.Context, req run.Request) (*audit.Run, error)
	DisbursementChain(ctx context.Context, req run.Request) (*audit.Run, error)
}

// ChainResolver resolves reconciliation chains
type ChainResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*chain.Chain, error)
}
