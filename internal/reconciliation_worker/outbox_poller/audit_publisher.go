package outbox_poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/outbox"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/platform/messaging/producers"
)

// AuditPublisher relays one outbox message to the audit trail and the event topic
type AuditPublisher interface {
	Publish(ctx context.Context, message *outbox.Message) error
}

// AuditPublisherImpl writes the audit entry to MongoDB, then emits it on the event topic.
// Both steps are idempotent per event id, so a retried message never duplicates history.
type AuditPublisherImpl struct {
	outboxRepo outbox.Repository
	auditRepo  audit.Repository
	events     producers.Publisher // nil disables event emission
	logger     *slog.Logger
}

func NewAuditPublisher(
	outboxRepo outbox.Repository,
	auditRepo audit.Repository,
	events producers.Publisher,
	logger *slog.Logger,
) *AuditPublisherImpl {
	return &AuditPublisherImpl{
		outboxRepo: outboxRepo,
		auditRepo:  auditRepo,
		events:     events,
		logger:     logger,
	}
}

func (p *AuditPublisherImpl) Publish(ctx context.Context, message *outbox.Message) error {
	entry, err := message.AuditEntry()
	if err != nil {
		p.logger.Error("Failed to unmarshal audit entry from outbox payload",
			"outbox_id", message.ID, "record_id", message.RecordID, "error", err,
		)
		if updateErr := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusFailedToPublish); updateErr != nil {
			p.logger.Error("Also failed to update outbox status to FAILED_TO_PUBLISH after unmarshal error", "outbox_id", message.ID, "update_error", updateErr)
		}
		return fmt.Errorf("unmarshal payload for outbox %d failed: %w", message.ID, err)
	}

	logger := p.logger
	if entry.CorrelationID != "" {
		logger = p.logger.With("correlation_id", entry.CorrelationID)
	}
	logger = logger.With("outbox_id", message.ID, "event_id", entry.EventID.String(), "record_id", entry.RecordID.String())

	now := time.Now().UTC()
	entry.RecordedAt = &now
	if err := p.auditRepo.Create(ctx, entry); err != nil {
		if !errors.Is(err, audit.ErrDuplicateEntry{}) {
			logger.Error("Failed to write audit entry", "error", err)
			return fmt.Errorf("failed to write audit entry %s: %w", entry.EventID, err)
		}
		logger.Info("Audit entry already recorded")
	}

	if p.events != nil {
		if err := p.events.PublishWithCorrelation(ctx, entry.RecordID.String(), entry, entry.CorrelationID); err != nil {
			logger.Error("Failed to emit reconciliation event", "error", err)
			return fmt.Errorf("failed to emit event %s: %w", entry.EventID, err)
		}
	}

	if err := p.outboxRepo.UpdateStatus(ctx, message.ID, shared.OutboxStatusProcessed); err != nil {
		logger.Error("Failed to update outbox message status to PROCESSED", "error", err)
		return fmt.Errorf("audit write for %s OK, but failed to mark outbox %d as PROCESSED: %w", entry.EventID, message.ID, err)
	}

	logger.Info("Outbox message relayed", "action", entry.Action)
	return nil
}
