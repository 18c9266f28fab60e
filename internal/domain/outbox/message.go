package outbox

import (
	"encoding/json"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/google/uuid"
)

// Message stores a reconciliation state change for reliable publishing
type Message struct {
	ID            int64               `json:"id"`
	EventID       uuid.UUID           `json:"event_id"`
	RecordID      uuid.UUID           `json:"record_id"`
	Payload       json.RawMessage     `json:"payload"`
	Status        shared.OutboxStatus `json:"status"`
	Attempts      int                 `json:"attempts"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

func NewMessage(entry *audit.Entry) (*Message, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}

	return &Message{
		EventID:   entry.EventID,
		RecordID:  entry.RecordID,
		Payload:   payload,
		Status:    shared.OutboxStatusPending,
		Attempts:  0,
		CreatedAt: time.Now(),
	}, nil
}

// IncrementAttempts records one failed publish attempt
func (m *Message) IncrementAttempts() {
	m.Attempts++
	now := time.Now()
	m.LastAttemptAt = &now
}

// SetStatus moves the message to status and stamps the attempt time
func (m *Message) SetStatus(status shared.OutboxStatus) {
	m.Status = status
	now := time.Now()
	m.LastAttemptAt = &now
}

// AuditEntry decodes the audit entry carried in the payload
func (m *Message) AuditEntry() (*audit.Entry, error) {
	var entry audit.Entry
	if err := json.Unmarshal(m.Payload, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}
