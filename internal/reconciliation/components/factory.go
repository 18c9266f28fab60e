// Package components assembles the reconciliation core shared by the gateway and the worker.
package components

import (
	"fmt"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/config"
	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/backoffice-reconciliation/internal/reconciliation/chain"
	"github.com/backoffice-reconciliation/internal/reconciliation/manual"
	"github.com/backoffice-reconciliation/internal/reconciliation/matching"
	"github.com/backoffice-reconciliation/internal/reconciliation/run"
	"github.com/backoffice-reconciliation/internal/reconciliation/syncer"
	"github.com/backoffice-reconciliation/internal/reconciliation_worker/service"
	"github.com/backoffice-reconciliation/internal/upstream"
)

// Core holds the services built on one record store
type Core struct {
	Store    store.Store
	Registry *upstream.Registry
	Syncer   *syncer.Syncer
	Engine   *matching.Engine
	Runs     *run.Service
	Manual   *manual.Service
	Chains   *chain.Resolver
}

// Close releases the engine's commit pool
func (c *Core) Close() {
	c.Engine.Close()
}

// ToleranceFromConfig maps the reconciliation section onto matcher tolerances
func ToleranceFromConfig(cfg *config.ReconciliationConfig) matching.Tolerance {
	return matching.Tolerance{
		WindowDays:      cfg.WindowDays,
		Epsilon:         cfg.Epsilon,
		AssumedPaid:     cfg.AssumedPaid,
		SettledStatuses: cfg.SettledStatuses,
	}
}

// CreateCore wires the syncer, matching engine, run service, manual service and chain resolver.
func CreateCore(
	logger *slog.Logger,
	cfg *config.Config,
	st store.Store,
	registry *upstream.Registry,
	runRepo audit.RunRepository,
) (*Core, error) {
	classifier, err := record.NewClassifier(cfg.Sync.BankSourcePattern, cfg.Sync.InvoiceSourcePattern, registry.KindOverrides())
	if err != nil {
		return nil, fmt.Errorf("failed to create source classifier: %w", err)
	}

	engine, err := matching.NewEngine(logger.With("component", "matching"), st, cfg.Reconciliation.MatchConcurrency)
	if err != nil {
		return nil, err
	}

	sync := syncer.New(logger.With("component", "syncer"), st, registry, classifier, syncer.OptionsFromConfig(&cfg.Sync))
	runs := run.NewService(
		logger.With("component", "runs"),
		st,
		sync,
		engine,
		runRepo,
		ToleranceFromConfig(&cfg.Reconciliation),
		cfg.Sync.PageSize,
	)

	return &Core{
		Store:    st,
		Registry: registry,
		Syncer:   sync,
		Engine:   engine,
		Runs:     runs,
		Manual:   manual.NewService(logger.With("component", "manual"), st),
		Chains:   chain.NewResolver(st.Records()),
	}, nil
}

// CreateJobService bounds job execution with a worker pool, falling back to the
// unbounded handler when the pool cannot be created.
func CreateJobService(base service.JobHandler, cfg *config.Config, logger *slog.Logger) service.JobHandler {
	workerPoolService, err := service.NewWorkerPoolJobService(
		base,
		service.WorkerPoolConfig{
			Size: cfg.WorkerPool.Size,
		},
		logger.With("component", "worker_pool"),
	)
	if err != nil {
		logger.Error("Failed to create worker pool job service, falling back to base service", "error", err)
		return base
	}

	logger.Info("Created worker pool job service", "pool_size", cfg.WorkerPool.Size)
	return workerPoolService
}
