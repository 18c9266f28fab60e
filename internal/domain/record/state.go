package record

import (
	"errors"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/shared"
)

// ReconciliationState is embedded in every FinancialRecord.
// Unreconciled records carry the zero value.
type ReconciliationState struct {
	Reconciled       bool                      `json:"reconciled" bson:"reconciled"`
	ReconciledAt     *time.Time                `json:"reconciled_at,omitempty" bson:"reconciled_at,omitempty"`
	ReconciledWith   string                    `json:"reconciled_with,omitempty" bson:"reconciled_with,omitempty"`
	Type             shared.ReconciliationType `json:"reconciliation_type,omitempty" bson:"reconciliation_type,omitempty"`
	ReconciledBy     string                    `json:"reconciled_by,omitempty" bson:"reconciled_by,omitempty"`
	PaymentReference string                    `json:"payment_reference,omitempty" bson:"payment_reference,omitempty"`
}

var (
	errUnreconciledWithFields = errors.New("unreconciled state must not carry reconciliation fields")
	errMissingReconciledAt    = errors.New("reconciled state requires reconciled_at")
	errInvalidType            = errors.New("reconciled state requires a valid reconciliation type")
	errManualWithoutActor     = errors.New("manual reconciliation requires reconciled_by")
)

// Validate enforces the state invariants
func (s ReconciliationState) Validate() error {
	if !s.Reconciled {
		if s.ReconciledAt != nil || s.ReconciledWith != "" || s.Type != "" || s.ReconciledBy != "" || s.PaymentReference != "" {
			return errUnreconciledWithFields
		}
		return nil
	}
	if s.ReconciledAt == nil || s.ReconciledAt.IsZero() {
		return errMissingReconciledAt
	}
	if !s.Type.Valid() {
		return errInvalidType
	}
	if s.Type == shared.ReconciliationTypeManual && s.ReconciledBy == "" {
		return errManualWithoutActor
	}
	return nil
}

// SameCounterparty reports whether both states point at the same evidence
func (s ReconciliationState) SameCounterparty(other ReconciliationState) bool {
	return s.ReconciledWith == other.ReconciledWith
}

// Equal compares every field, including the timestamp instant
func (s ReconciliationState) Equal(other ReconciliationState) bool {
	if s.Reconciled != other.Reconciled || s.ReconciledWith != other.ReconciledWith ||
		s.Type != other.Type || s.ReconciledBy != other.ReconciledBy ||
		s.PaymentReference != other.PaymentReference {
		return false
	}
	switch {
	case s.ReconciledAt == nil && other.ReconciledAt == nil:
		return true
	case s.ReconciledAt == nil || other.ReconciledAt == nil:
		return false
	}
	return s.ReconciledAt.Equal(*other.ReconciledAt)
}

// Automatic builds an evidence-backed state pointing at the given reference
func Automatic(at time.Time, reconciledWith, paymentReference string) ReconciliationState {
	t := at.UTC()
	return ReconciliationState{
		Reconciled:       true,
		ReconciledAt:     &t,
		ReconciledWith:   reconciledWith,
		Type:             shared.ReconciliationTypeAutomatic,
		PaymentReference: paymentReference,
	}
}

// Assumed builds a policy-based state with no bank counterparty
func Assumed(at time.Time, batchID string) ReconciliationState {
	t := at.UTC()
	return ReconciliationState{
		Reconciled:       true,
		ReconciledAt:     &t,
		Type:             shared.ReconciliationTypeAssumed,
		PaymentReference: batchID,
	}
}

// Manual builds a user-entered state
func Manual(at time.Time, actor, reconciledWith, paymentReference string) ReconciliationState {
	t := at.UTC()
	return ReconciliationState{
		Reconciled:       true,
		ReconciledAt:     &t,
		ReconciledWith:   reconciledWith,
		Type:             shared.ReconciliationTypeManual,
		ReconciledBy:     actor,
		PaymentReference: paymentReference,
	}
}

func (s ReconciliationState) clone() ReconciliationState {
	if s.ReconciledAt != nil {
		t := *s.ReconciledAt
		s.ReconciledAt = &t
	}
	return s
}
