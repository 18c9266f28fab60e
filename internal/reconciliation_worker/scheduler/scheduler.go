// Package scheduler triggers periodic sync-then-reconcile jobs for every configured source.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/reconciliation_worker/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const requestedBy = "scheduler"

type Scheduler struct {
	jobs     service.JobHandler
	sources  []string
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewScheduler(logger *slog.Logger, jobs service.JobHandler, sources []string, interval time.Duration) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		sources:  sources,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Start runs one round immediately, then one per interval until ctx is canceled
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", "interval", s.interval.String(), "sources", s.sources)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.RunOnce(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopping due to context cancellation.")
			return
		case <-ticker.C:
		}
	}
}

// RunOnce syncs every source concurrently and waits for all of them
func (s *Scheduler) RunOnce(ctx context.Context) {
	if len(s.sources) == 0 {
		return
	}
	round := uuid.NewString()
	logger := s.logger.With("correlation_id", round)

	g, gctx := errgroup.WithContext(ctx)
	for _, source := range s.sources {
		job := &shared.JobRequest{
			JobID:         uuid.New(),
			Type:          shared.JobTypeSync,
			Source:        source,
			CorrelationID: round,
			RequestedBy:   requestedBy,
			RequestedAt:   s.now().UTC(),
		}
		g.Go(func() error {
			run, err := s.jobs.HandleJob(gctx, job)
			if err != nil {
				logger.Error("Scheduled job failed", "source", job.Source, "error", err)
				return nil
			}
			if run != nil {
				logger.Info("Scheduled job finished", "source", job.Source, "run_id", run.RunID.String(), "status", run.Status)
			}
			return nil
		})
	}
	_ = g.Wait()
}
