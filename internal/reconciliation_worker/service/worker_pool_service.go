package service

import (
	"context"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/panjf2000/ants/v2"
)

// WorkerPoolJobService bounds how many jobs run at once across the consumer and the scheduler
type WorkerPoolJobService struct {
	baseService JobHandler
	pool        *ants.Pool
	logger      *slog.Logger
}

type WorkerPoolConfig struct {
	Size int
}

type jobResult struct {
	run *audit.Run
	err error
}

func NewWorkerPoolJobService(
	baseService JobHandler,
	config WorkerPoolConfig,
	logger *slog.Logger,
) (*WorkerPoolJobService, error) {
	pool, err := ants.NewPool(config.Size)
	if err != nil {
		return nil, err
	}

	return &WorkerPoolJobService{
		baseService: baseService,
		pool:        pool,
		logger:      logger,
	}, nil
}

// HandleJob submits the job to the pool and waits for it to finish.
// It returns early with ctx.Err() when ctx ends first; the job itself sees the same ctx.
func (s *WorkerPoolJobService) HandleJob(ctx context.Context, job *shared.JobRequest) (*audit.Run, error) {
	logger := s.logger
	if job.CorrelationID != "" {
		logger = s.logger.With("correlation_id", job.CorrelationID)
	}
	logger.Info("Submitting job to worker pool", "job_id", job.JobID.String(), "job_type", job.Type, "source", job.Source)

	resultChan := make(chan jobResult, 1)
	jobCopy := *job

	err := s.pool.Submit(func() {
		run, err := s.baseService.HandleJob(ctx, &jobCopy)
		resultChan <- jobResult{run: run, err: err}
	})
	if err != nil {
		logger.Error("Failed to submit job to worker pool", "job_id", job.JobID.String(), "error", err)
		return nil, err
	}

	select {
	case res := <-resultChan:
		return res.run, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown waits for running jobs, then releases the pool
func (s *WorkerPoolJobService) Shutdown() {
	s.logger.Info("Shutting down worker pool", "running_workers", s.pool.Running())
	s.pool.Release()
}

// Running returns the number of running workers in the pool.
func (s *WorkerPoolJobService) Running() int {
	return s.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (s *WorkerPoolJobService) Capacity() int {
	return s.pool.Cap()
}
