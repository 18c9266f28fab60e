package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/platform/messaging/producers"
	"github.com/backoffice-reconciliation/internal/reconciliation_worker/service"
)

// JobEventHandler handles job request messages from the job topic
type JobEventHandler struct {
	jobService service.JobHandler
	producer   producers.DeadLetterPublisher
	logger     *slog.Logger
}

func NewJobEventHandler(
	logger *slog.Logger,
	jobService service.JobHandler,
	producer producers.DeadLetterPublisher,
) *JobEventHandler {
	return &JobEventHandler{
		jobService: jobService,
		producer:   producer,
		logger:     logger,
	}
}

// HandleMessage decodes and runs one job. Returning nil commits the offset.
func (h *JobEventHandler) HandleMessage(ctx context.Context, key []byte, value []byte) error {
	var job shared.JobRequest
	if err := json.Unmarshal(value, &job); err != nil {
		return h.deadLetter(ctx, key, value, fmt.Sprintf("failed to unmarshal job request: %s", err), err)
	}
	if err := job.Validate(); err != nil {
		return h.deadLetter(ctx, key, value, fmt.Sprintf("invalid job request: %s", err), err)
	}

	logger := h.logger
	if job.CorrelationID != "" {
		logger = h.logger.With("correlation_id", job.CorrelationID)
	}
	logger.Info("Received job request",
		"job_id", job.JobID.String(),
		"job_type", job.Type,
		"source", job.Source,
		"currency", job.Currency,
	)

	run, err := h.jobService.HandleJob(ctx, &job)
	if err != nil {
		logger.Error("Failed to run job", "job_id", job.JobID.String(), "error", err)
		return fmt.Errorf("job %s failed: %w", job.JobID.String(), err)
	}

	if run != nil {
		logger.Info("Job completed", "job_id", job.JobID.String(), "run_id", run.RunID.String(), "status", run.Status)
	}
	return nil
}

// deadLetter parks a message that can never succeed. The offset is committed unless the DLQ write fails.
func (h *JobEventHandler) deadLetter(ctx context.Context, key, value []byte, reason string, cause error) error {
	h.logger.Error("Unprocessable job message", "message_key", string(key), "error", cause)

	if h.producer == nil {
		h.logger.Warn("No DLQ configured, dropping message", "message_key", string(key))
		return nil
	}
	if err := h.producer.PublishToDLQ(ctx, string(key), value, reason); err != nil {
		if errors.Is(err, producers.ErrDLQDisabled) {
			h.logger.Warn("DLQ disabled, dropping message", "message_key", string(key))
			return nil
		}
		h.logger.Error("Failed to publish message to DLQ", "dlq_error", err, "message_key", string(key))
		return fmt.Errorf("dead-letter job message %s: %w", string(key), cause)
	}
	h.logger.Info("Published unprocessable message to DLQ", "message_key", string(key), "reason", reason)
	return nil
}
