package service

import (
	"context"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/shared"
)

// JobHandler runs one reconciliation job and returns its run summary
type JobHandler interface {
	HandleJob(ctx context.Context, job *shared.JobRequest) (*audit.Run, error)
}
