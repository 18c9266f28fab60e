// Package audit holds the reconciliation audit trail and the run log.
package audit

import (
	"time"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/google/uuid"
)

// Entry is one reconciliation state change of one record
type Entry struct {
	EventID       uuid.UUID                  `json:"event_id" bson:"event_id"`
	Action        shared.AuditAction         `json:"action" bson:"action"`
	RecordID      uuid.UUID                  `json:"record_id" bson:"record_id"`
	Source        string                     `json:"source" bson:"source"`
	SourceID      string                     `json:"source_id" bson:"source_id"`
	Previous      record.ReconciliationState `json:"previous" bson:"previous"`
	Current       record.ReconciliationState `json:"current" bson:"current"`
	Actor         string                     `json:"actor,omitempty" bson:"actor,omitempty"`
	RunID         string                     `json:"run_id,omitempty" bson:"run_id,omitempty"`
	Strategy      shared.MatchStrategy       `json:"strategy,omitempty" bson:"strategy,omitempty"`
	CorrelationID string                     `json:"correlation_id,omitempty" bson:"correlation_id,omitempty"`
	OccurredAt    time.Time                  `json:"occurred_at" bson:"occurred_at"`
	RecordedAt    *time.Time                 `json:"recorded_at,omitempty" bson:"recorded_at,omitempty"`
}

// NewEntry describes the transition of rec from previous to its current state
func NewEntry(rec *record.FinancialRecord, previous record.ReconciliationState, actor string) *Entry {
	action := shared.AuditActionApplied
	if !rec.Reconciliation.Reconciled {
		action = shared.AuditActionCleared
	}
	return &Entry{
		EventID:    uuid.New(),
		Action:     action,
		RecordID:   rec.ID,
		Source:     rec.Source,
		SourceID:   rec.SourceID,
		Previous:   previous,
		Current:    rec.Reconciliation,
		Actor:      actor,
		OccurredAt: time.Now().UTC(),
	}
}
