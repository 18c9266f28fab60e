package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/reconciliation/chain"
	"github.com/google/uuid"
)

// RecordServiceImpl implements the RecordService interface
type RecordServiceImpl struct {
	chains    ChainResolver
	auditRepo audit.Repository
	runRepo   audit.RunRepository
	logger    *slog.Logger
}

func NewRecordService(logger *slog.Logger, chains ChainResolver, auditRepo audit.Repository, runRepo audit.RunRepository) RecordService {
	return &RecordServiceImpl{
		chains:    chains,
		auditRepo: auditRepo,
		runRepo:   runRepo,
		logger:    logger,
	}
}

// GetChain returns record.ErrRecordNotFound for unknown ids
func (s *RecordServiceImpl) GetChain(ctx context.Context, id uuid.UUID) (*chain.Chain, error) {
	return s.chains.Resolve(ctx, id)
}

func (s *RecordServiceImpl) GetHistory(ctx context.Context, id uuid.UUID, page, perPage int) ([]*audit.Entry, int64, error) {
	offset := (page - 1) * perPage

	entries, err := s.auditRepo.ListByRecordID(ctx, id, perPage, offset)
	if err != nil {
		return nil, 0, err
	}

	total, err := s.auditRepo.CountByRecordID(ctx, id)
	if err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// GetRun returns nil when the run does not exist
func (s *RecordServiceImpl) GetRun(ctx context.Context, id uuid.UUID) (*audit.Run, error) {
	res, err := s.runRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, audit.ErrRunNotFound{}) {
			s.logger.Info("Run not found", "run_id", id.String())
			return nil, nil
		}
		s.logger.Error("Failed to get run by ID", "run_id", id.String(), "error", err)
		return nil, err
	}
	return res, nil
}
