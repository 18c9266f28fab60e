package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/platform/messaging/producers"
	"github.com/google/uuid"
)

var ErrUnknownSource = errors.New("unknown source")

// SyncServiceImpl implements the SyncService interface
type SyncServiceImpl struct {
	sources  map[string]bool
	producer producers.Publisher
	now      func() time.Time
	logger   *slog.Logger
}

// NewSyncService accepts jobs only for the given source names
func NewSyncService(logger *slog.Logger, sources []string, producer producers.Publisher) SyncService {
	known := make(map[string]bool, len(sources))
	for _, s := range sources {
		known[s] = true
	}
	return &SyncServiceImpl{
		sources:  known,
		producer: producer,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *SyncServiceImpl) RequestSync(ctx context.Context, source, currency, correlationID, actor string) (*shared.JobRequest, error) {
	if !s.sources[source] {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}

	job := &shared.JobRequest{
		JobID:         uuid.New(),
		Type:          shared.JobTypeSync,
		Source:        source,
		Currency:      currency,
		CorrelationID: correlationID,
		RequestedBy:   actor,
		RequestedAt:   s.now().UTC(),
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	if err := s.producer.PublishWithCorrelation(ctx, job.Key(), job, correlationID); err != nil {
		s.logger.Error("Failed to publish sync job", "source", source, "job_id", job.JobID.String(), "error", err)
		return nil, err
	}

	s.logger.Info("Sync job published", "source", source, "job_id", job.JobID.String(), "requested_by", actor)
	return job, nil
}
