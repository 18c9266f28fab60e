// Package state applies and clears reconciliation state on records. Every effective
// change writes an audit event to the outbox in the same transaction.
package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/outbox"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/google/uuid"
)

// Options describe who asked for a change and in which run
type Options struct {
	Override      bool
	Actor         string
	RunID         string
	Strategy      shared.MatchStrategy
	CorrelationID string
}

// Change is the outcome of one Apply, Clear or Claim
type Change struct {
	Record  *record.FinancialRecord
	Changed bool
}

type Service struct {
	store  store.Store
	logger *slog.Logger
}

func NewService(logger *slog.Logger, st store.Store) *Service {
	return &Service{store: st, logger: logger}
}

// Apply sets state on the record in its own transaction
func (s *Service) Apply(ctx context.Context, id uuid.UUID, next record.ReconciliationState, opts Options) (Change, error) {
	var change Change
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		var err error
		change, err = ApplyTx(ctx, tx, id, next, opts)
		return err
	})
	if err != nil {
		return Change{}, err
	}
	if change.Changed {
		s.logger.Info("Reconciliation applied",
			"record_id", id,
			"type", next.Type,
			"reconciled_with", next.ReconciledWith,
			"actor", opts.Actor,
		)
	}
	return change, nil
}

// Clear resets the record to unreconciled in its own transaction
func (s *Service) Clear(ctx context.Context, id uuid.UUID, opts Options) (Change, error) {
	var change Change
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		var err error
		change, err = ClearTx(ctx, tx, id, opts)
		return err
	})
	if err != nil {
		return Change{}, err
	}
	if change.Changed {
		s.logger.Info("Reconciliation cleared", "record_id", id, "actor", opts.Actor)
	}
	return change, nil
}

// ApplyTx sets state inside tx. Re-applying the same link is a no-op; a different link
// is a ConflictError unless opts.Override is set.
func ApplyTx(ctx context.Context, tx store.Store, id uuid.UUID, next record.ReconciliationState, opts Options) (Change, error) {
	if !next.Reconciled {
		return Change{}, fmt.Errorf("failed to apply reconciliation to %s: use clear to unreconcile", id)
	}
	if err := next.Validate(); err != nil {
		return Change{}, fmt.Errorf("failed to apply reconciliation to %s: %w", id, err)
	}

	rec, err := tx.Records().GetForUpdate(ctx, id)
	if err != nil {
		return Change{}, err
	}

	current := rec.Reconciliation
	if current.Reconciled {
		sameLink := current.SameCounterparty(next) && current.PaymentReference == next.PaymentReference
		switch {
		case sameLink && !(opts.Override && current.Type != next.Type):
			return Change{Record: rec}, nil
		case !sameLink && !opts.Override:
			return Change{}, record.ConflictError{RecordID: id, Current: linkOf(current), Requested: linkOf(next)}
		}
	}

	return write(ctx, tx, rec, next, opts, tx.Records().UpdateReconciliation)
}

// ClearTx resets every reconciliation field inside tx. Clearing an unreconciled record is a no-op.
func ClearTx(ctx context.Context, tx store.Store, id uuid.UUID, opts Options) (Change, error) {
	rec, err := tx.Records().GetForUpdate(ctx, id)
	if err != nil {
		return Change{}, err
	}
	if !rec.Reconciliation.Reconciled {
		return Change{Record: rec}, nil
	}
	return write(ctx, tx, rec, record.ReconciliationState{}, opts, tx.Records().UpdateReconciliation)
}

// ClaimTx marks an unreconciled record with a single compare-and-set.
// It fails with ErrAlreadyClaimed when someone else got there first.
func ClaimTx(ctx context.Context, tx store.Store, rec *record.FinancialRecord, next record.ReconciliationState, opts Options) (Change, error) {
	if err := next.Validate(); err != nil {
		return Change{}, fmt.Errorf("failed to claim %s: %w", rec.ID, err)
	}
	claimed := rec.Clone()
	claimed.Reconciliation = record.ReconciliationState{}
	return write(ctx, tx, claimed, next, opts, tx.Records().ClaimReconciliation)
}

type updateFunc func(ctx context.Context, id uuid.UUID, state record.ReconciliationState) error

func write(ctx context.Context, tx store.Store, rec *record.FinancialRecord, next record.ReconciliationState, opts Options, update updateFunc) (Change, error) {
	previous := rec.Reconciliation
	if err := update(ctx, rec.ID, next); err != nil {
		return Change{}, err
	}

	updated := rec.Clone()
	updated.Reconciliation = next

	entry := audit.NewEntry(updated, previous, opts.Actor)
	entry.RunID = opts.RunID
	entry.Strategy = opts.Strategy
	entry.CorrelationID = opts.CorrelationID

	msg, err := outbox.NewMessage(entry)
	if err != nil {
		return Change{}, fmt.Errorf("failed to create outbox message: %w", err)
	}
	if err := tx.Outbox().Create(ctx, msg); err != nil {
		return Change{}, fmt.Errorf("failed to write outbox message: %w", err)
	}
	return Change{Record: updated, Changed: true}, nil
}

func linkOf(s record.ReconciliationState) string {
	if s.ReconciledWith != "" {
		return s.ReconciledWith
	}
	return s.PaymentReference
}
