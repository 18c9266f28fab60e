package record

import (
	"context"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/google/uuid"
)

// Filter narrows a Select. Zero values mean "any".
type Filter struct {
	Kind       shared.SourceKind
	Currency   string
	Reconciled *bool
	DateFrom   *time.Time
	DateTo     *time.Time
}

// Page bounds a Select. A zero Limit returns every matching row.
type Page struct {
	Limit  int
	Offset int
}

// SourceInfo describes one source present in the store
type SourceInfo struct {
	Source  string            `json:"source"`
	Kind    shared.SourceKind `json:"kind"`
	Records int64             `json:"records"`
}

// PriorState is what a re-sync carries over from an existing row with the same sourceId
type PriorState struct {
	ID        uuid.UUID
	CreatedAt time.Time
	State     ReconciliationState
}

// Repository manages financial record persistence
type Repository interface {
	// Select returns records ordered by (date, source, source_id); an empty source means every source.
	Select(ctx context.Context, source string, filter Filter, page Page) ([]*FinancialRecord, error)
	ListSources(ctx context.Context) ([]SourceInfo, error)
	GetByID(ctx context.Context, id uuid.UUID) (*FinancialRecord, error)
	// GetForUpdate reads a record and locks it until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*FinancialRecord, error)
	GetBySourceID(ctx context.Context, source, sourceID string) (*FinancialRecord, error)
	FindByBatchID(ctx context.Context, batchID string) ([]*FinancialRecord, error)
	FindByCounterparty(ctx context.Context, reference string) ([]*FinancialRecord, error)
	ReconciliationIndex(ctx context.Context, source string) (map[string]PriorState, error)
	DeleteBySource(ctx context.Context, source string) (int64, error)
	InsertBatch(ctx context.Context, records []*FinancialRecord) error
	// UpsertBatch inserts or updates by (source, source_id) and never touches reconciliation fields of existing rows.
	UpsertBatch(ctx context.Context, records []*FinancialRecord) error
	// DeleteMissing removes rows of source whose source_id is not in keep. A nil or empty keep removes every row of source.
	DeleteMissing(ctx context.Context, source string, keep []string) (int64, error)
	UpdateReconciliation(ctx context.Context, id uuid.UUID, state ReconciliationState) error
	// ClaimReconciliation applies state only if the record is still unreconciled.
	ClaimReconciliation(ctx context.Context, id uuid.UUID, state ReconciliationState) error
}
