package state

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/backoffice-reconciliation/internal/data/memory"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func seedBankRow(t *testing.T, st *memory.Store) *record.FinancialRecord {
	t.Helper()
	rec := &record.FinancialRecord{
		ID:       uuid.New(),
		Source:   "bank_bankinter_eur",
		SourceID: "42",
		Kind:     shared.SourceKindBank,
		Date:     time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC),
		Amount:   decimal.RequireFromString("200.00"),
		Currency: "EUR",
		Bank:     &record.BankPayload{AccountLabel: "Bankinter EUR"},
	}
	require.NoError(t, st.Records().InsertBatch(context.Background(), []*record.FinancialRecord{rec}))
	return rec
}

func pendingEvents(t *testing.T, st *memory.Store) int {
	t.Helper()
	msgs, err := st.Outbox().GetPending(context.Background(), 0)
	require.NoError(t, err)
	return len(msgs)
}

func TestService_Apply(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	rec := seedBankRow(t, st)
	svc := NewService(newTestLogger(), st)
	at := time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC)

	first := record.Manual(at, "alice", "sepa/R1", "R1")
	change, err := svc.Apply(ctx, rec.ID, first, Options{Actor: "alice"})
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.True(t, first.Equal(change.Record.Reconciliation))
	assert.Equal(t, 1, pendingEvents(t, st))

	t.Run("same link is a no-op", func(t *testing.T) {
		again, err := svc.Apply(ctx, rec.ID, record.Manual(at.Add(time.Hour), "bob", "sepa/R1", "R1"), Options{Actor: "bob"})
		require.NoError(t, err)
		assert.False(t, again.Changed)
		assert.Equal(t, "alice", again.Record.Reconciliation.ReconciledBy)
		assert.Equal(t, 1, pendingEvents(t, st))
	})

	t.Run("different link conflicts", func(t *testing.T) {
		_, err := svc.Apply(ctx, rec.ID, record.Manual(at, "bob", "sepa/R2", "R2"), Options{Actor: "bob"})
		var conflict record.ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "sepa/R1", conflict.Current)
		assert.Equal(t, "sepa/R2", conflict.Requested)
	})

	t.Run("override replaces and is audited", func(t *testing.T) {
		change, err := svc.Apply(ctx, rec.ID, record.Manual(at, "bob", "sepa/R2", "R2"), Options{Actor: "bob", Override: true})
		require.NoError(t, err)
		assert.True(t, change.Changed)
		assert.Equal(t, "sepa/R2", change.Record.Reconciliation.ReconciledWith)

		msgs, err := st.Outbox().GetPending(ctx, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 2)
		entry, err := msgs[1].AuditEntry()
		require.NoError(t, err)
		assert.Equal(t, shared.AuditActionApplied, entry.Action)
		assert.Equal(t, "sepa/R1", entry.Previous.ReconciledWith)
		assert.Equal(t, "sepa/R2", entry.Current.ReconciledWith)
		assert.Equal(t, "bob", entry.Actor)
	})
}

func TestService_Apply_OverrideChangingTypeOnly(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	rec := seedBankRow(t, st)
	svc := NewService(newTestLogger(), st)

	_, err := svc.Apply(ctx, rec.ID, record.Automatic(time.Now(), "batch/B1", "B1"), Options{})
	require.NoError(t, err)

	change, err := svc.Apply(ctx, rec.ID, record.Manual(time.Now(), "alice", "batch/B1", "B1"), Options{Actor: "alice", Override: true})
	require.NoError(t, err)
	assert.True(t, change.Changed)
	assert.Equal(t, shared.ReconciliationTypeManual, change.Record.Reconciliation.Type)
}

func TestService_Apply_Validation(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	rec := seedBankRow(t, st)
	svc := NewService(newTestLogger(), st)

	_, err := svc.Apply(ctx, rec.ID, record.ReconciliationState{}, Options{})
	assert.Error(t, err)

	_, err = svc.Apply(ctx, rec.ID, record.Manual(time.Now(), "", "sepa/R1", "R1"), Options{})
	assert.Error(t, err)

	_, err = svc.Apply(ctx, uuid.New(), record.Automatic(time.Now(), "batch/B1", ""), Options{})
	assert.ErrorIs(t, err, record.ErrRecordNotFound{})
	assert.Equal(t, 0, pendingEvents(t, st))
}

func TestService_Clear(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	rec := seedBankRow(t, st)
	svc := NewService(newTestLogger(), st)

	noop, err := svc.Clear(ctx, rec.ID, Options{Actor: "alice"})
	require.NoError(t, err)
	assert.False(t, noop.Changed)
	assert.Equal(t, 0, pendingEvents(t, st))

	_, err = svc.Apply(ctx, rec.ID, record.Assumed(time.Now(), "B1"), Options{})
	require.NoError(t, err)

	cleared, err := svc.Clear(ctx, rec.ID, Options{Actor: "alice"})
	require.NoError(t, err)
	assert.True(t, cleared.Changed)
	assert.Equal(t, record.ReconciliationState{}, cleared.Record.Reconciliation)

	stored, err := st.Records().GetByID(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, stored.Reconciliation.Reconciled)
	assert.NoError(t, stored.Reconciliation.Validate())

	msgs, err := st.Outbox().GetPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	entry, err := msgs[1].AuditEntry()
	require.NoError(t, err)
	assert.Equal(t, shared.AuditActionCleared, entry.Action)
	assert.Equal(t, shared.ReconciliationTypeAssumed, entry.Previous.Type)
}

func TestClaimTx(t *testing.T) {
	ctx := context.Background()
	st := memory.NewStore()
	rec := seedBankRow(t, st)
	claim := record.Automatic(time.Now(), "batch/B1", "B1")

	err := st.RunInTx(ctx, func(tx store.Store) error {
		change, err := ClaimTx(ctx, tx, rec, claim, Options{RunID: "run-1", Strategy: shared.MatchStrategyExactSingle})
		if err != nil {
			return err
		}
		assert.True(t, change.Changed)
		return nil
	})
	require.NoError(t, err)

	err = st.RunInTx(ctx, func(tx store.Store) error {
		_, err := ClaimTx(ctx, tx, rec, record.Automatic(time.Now(), "batch/B2", "B2"), Options{})
		return err
	})
	assert.ErrorIs(t, err, record.ErrAlreadyClaimed{ID: rec.ID})

	msgs, err := st.Outbox().GetPending(ctx, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	entry, err := msgs[0].AuditEntry()
	require.NoError(t, err)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, shared.MatchStrategyExactSingle, entry.Strategy)
}
