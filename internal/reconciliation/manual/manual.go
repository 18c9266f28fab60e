// Package manual records human reconciliation decisions.
package manual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/backoffice-reconciliation/internal/reconciliation/state"
	"github.com/google/uuid"
)

// ErrInvalidCommand wraps every validation failure of a manual command
var ErrInvalidCommand = errors.New("invalid manual reconciliation")

const syntheticPrefix = "MR-"

// referenceNamespace seeds synthetic references
var referenceNamespace = uuid.MustParse("6f1c1e52-8d7e-4b5a-9a55-1d3c7c0f2a10")

// Command asks to link a record to an external payment
type Command struct {
	RecordID      uuid.UUID
	PaymentSource string
	Reference     string // optional, generated when empty
	Actor         string
	Override      bool
	CorrelationID string
}

func (c Command) validate() error {
	switch {
	case c.RecordID == uuid.Nil:
		return fmt.Errorf("%w: record id is required", ErrInvalidCommand)
	case strings.TrimSpace(c.Actor) == "":
		return fmt.Errorf("%w: actor is required", ErrInvalidCommand)
	case strings.TrimSpace(c.PaymentSource) == "":
		return fmt.Errorf("%w: payment source is required", ErrInvalidCommand)
	case strings.ContainsAny(c.PaymentSource, "/,"):
		return fmt.Errorf("%w: payment source must not contain '/' or ','", ErrInvalidCommand)
	case strings.Contains(c.Reference, ","):
		return fmt.Errorf("%w: reference must not contain ','", ErrInvalidCommand)
	}
	return nil
}

type Service struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

func NewService(logger *slog.Logger, st store.Store) *Service {
	return &Service{store: st, now: time.Now, logger: logger}
}

// SyntheticReference derives a stable reference from the record id and the decision time
func SyntheticReference(recordID uuid.UUID, at time.Time) string {
	name := recordID.String() + "|" + at.UTC().Format(time.RFC3339Nano)
	return syntheticPrefix + uuid.NewSHA1(referenceNamespace, []byte(name)).String()
}

// Reconcile marks the record manually reconciled. An already reconciled record is a
// ConflictError unless Override is set.
func (s *Service) Reconcile(ctx context.Context, cmd Command) (*record.FinancialRecord, error) {
	if err := cmd.validate(); err != nil {
		return nil, err
	}

	logger := s.logger
	if cmd.CorrelationID != "" {
		logger = s.logger.With("correlation_id", cmd.CorrelationID)
	}

	now := s.now()
	reference := strings.TrimSpace(cmd.Reference)
	if reference == "" {
		reference = SyntheticReference(cmd.RecordID, now)
	}
	next := record.Manual(now, cmd.Actor, record.RecordReference(cmd.PaymentSource, reference), reference)
	opts := state.Options{Override: cmd.Override, Actor: cmd.Actor, CorrelationID: cmd.CorrelationID}

	var updated *record.FinancialRecord
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		current, err := tx.Records().GetForUpdate(ctx, cmd.RecordID)
		if err != nil {
			return err
		}
		if current.Reconciliation.Reconciled && !cmd.Override {
			return record.ConflictError{
				RecordID:  cmd.RecordID,
				Current:   current.Reconciliation.ReconciledWith,
				Requested: next.ReconciledWith,
			}
		}
		change, err := state.ApplyTx(ctx, tx, cmd.RecordID, next, opts)
		if err != nil {
			return err
		}
		updated = change.Record
		return nil
	})
	if err != nil {
		logger.Warn("Manual reconciliation rejected", "record_id", cmd.RecordID, "actor", cmd.Actor, "error", err)
		return nil, err
	}

	logger.Info("Manual reconciliation recorded",
		"record_id", cmd.RecordID,
		"actor", cmd.Actor,
		"reconciled_with", next.ReconciledWith,
		"override", cmd.Override,
	)
	return updated, nil
}

// Unreconcile clears any reconciliation on the record, including automatic and assumed ones
func (s *Service) Unreconcile(ctx context.Context, recordID uuid.UUID, actor, correlationID string) (*record.FinancialRecord, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrInvalidCommand)
	}

	var updated *record.FinancialRecord
	err := s.store.RunInTx(ctx, func(tx store.Store) error {
		change, err := state.ClearTx(ctx, tx, recordID, state.Options{Actor: actor, CorrelationID: correlationID})
		if err != nil {
			return err
		}
		updated = change.Record
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Reconciliation cleared by user", "record_id", recordID, "actor", actor, "correlation_id", correlationID)
	return updated, nil
}
