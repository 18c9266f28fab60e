package run

import (
	"context"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/reconciliation/grouping"
	"github.com/backoffice-reconciliation/internal/reconciliation/matching"
	"github.com/backoffice-reconciliation/internal/reconciliation/syncer"
)

// SourceSyncer merges one upstream source into the record store
type SourceSyncer interface {
	Sync(ctx context.Context, source string) (syncer.Result, error)
}

// BatchMatcher matches settlement batches against bank rows and commits the matches
type BatchMatcher interface {
	Reconcile(ctx context.Context, batches []*grouping.SettlementBatch, bankRows []*record.FinancialRecord, tol matching.Tolerance, opts matching.RunOptions) (matching.Outcome, error)
}
