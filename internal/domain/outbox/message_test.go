package outbox

import (
	"testing"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry() *audit.Entry {
	at := time.Date(2025, 6, 11, 9, 0, 0, 0, time.UTC)
	return &audit.Entry{
		EventID:    uuid.New(),
		Action:     shared.AuditActionApplied,
		RecordID:   uuid.New(),
		Source:     "stripe_eur",
		SourceID:   "txn_1",
		Current:    record.Automatic(at, "bank_bankinter_eur/row-1", ""),
		Strategy:   shared.MatchStrategyExactSingle,
		OccurredAt: at,
	}
}

func TestNewMessage(t *testing.T) {
	entry := newEntry()

	before := time.Now()
	msg, err := NewMessage(entry)
	require.NoError(t, err)

	assert.Equal(t, entry.EventID, msg.EventID)
	assert.Equal(t, entry.RecordID, msg.RecordID)
	assert.Equal(t, shared.OutboxStatusPending, msg.Status)
	assert.Equal(t, 0, msg.Attempts)
	assert.Nil(t, msg.LastAttemptAt)
	assert.False(t, msg.CreatedAt.Before(before))

	decoded, err := msg.AuditEntry()
	require.NoError(t, err)
	assert.Equal(t, entry.EventID, decoded.EventID)
	assert.True(t, entry.Current.Equal(decoded.Current))
	assert.Equal(t, shared.MatchStrategyExactSingle, decoded.Strategy)
}

func TestMessage_StatusTransitions(t *testing.T) {
	t.Run("IncrementAttempts", func(t *testing.T) {
		msg := &Message{Attempts: 1}
		msg.IncrementAttempts()
		assert.Equal(t, 2, msg.Attempts)
		require.NotNil(t, msg.LastAttemptAt)
	})

	t.Run("SetStatus", func(t *testing.T) {
		msg := &Message{Status: shared.OutboxStatusPending}
		msg.SetStatus(shared.OutboxStatusProcessed)
		assert.Equal(t, shared.OutboxStatusProcessed, msg.Status)
		require.NotNil(t, msg.LastAttemptAt)

		msg.SetStatus(shared.OutboxStatusFailedToPublish)
		assert.Equal(t, shared.OutboxStatusFailedToPublish, msg.Status)
	})
}

func TestMessage_AuditEntry_InvalidPayload(t *testing.T) {
	msg := &Message{Payload: []byte("not json")}
	_, err := msg.AuditEntry()
	assert.Error(t, err)
}
