package run

import (
	"context"
	"fmt"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/shared"
)

// HandleJob executes one job request. A failed run is already in the run log, so only an
// invalid request is returned as an error.
func (s *Service) HandleJob(ctx context.Context, job *shared.JobRequest) (*audit.Run, error) {
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("invalid job %s: %w", job.JobID, err)
	}

	req := Request{
		Source:        job.Source,
		Currency:      job.Currency,
		CorrelationID: job.CorrelationID,
		RequestedBy:   job.RequestedBy,
	}
	logger := s.requestLogger(req).With("job_id", job.JobID, "job_type", job.Type)
	logger.Info("Running job", "source", job.Source, "currency", job.Currency)

	var (
		run *audit.Run
		err error
	)
	switch job.Type {
	case shared.JobTypeSync:
		// sync-then-reconcile: matching only runs on fresh data
		run, err = s.Sync(ctx, req)
		if err == nil && run.Status != shared.RunStatusSkipped {
			run, err = s.AutoReconcile(ctx, Request{Currency: job.Currency, CorrelationID: job.CorrelationID, RequestedBy: job.RequestedBy})
		}
	case shared.JobTypeAuto:
		run, err = s.AutoReconcile(ctx, req)
	case shared.JobTypeDisbursementChain:
		run, err = s.DisbursementChain(ctx, req)
	}
	if err != nil {
		logger.Error("Job finished with error", "error", err)
		return run, nil
	}
	logger.Info("Job finished", "run_id", run.RunID, "status", run.Status)
	return run, nil
}
