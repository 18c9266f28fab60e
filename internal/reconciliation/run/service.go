// Package run executes sync, automatic reconciliation and disbursement chain runs and
// keeps a summary of each one in the run log.
package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/audit"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/backoffice-reconciliation/internal/reconciliation/grouping"
	"github.com/backoffice-reconciliation/internal/reconciliation/matching"
	"github.com/backoffice-reconciliation/internal/reconciliation/state"
	"github.com/google/uuid"
)

// Request carries the caller context of a run
type Request struct {
	Source        string
	Currency      string
	CorrelationID string
	RequestedBy   string
}

type Service struct {
	store     store.Store
	syncer    SourceSyncer
	matcher   BatchMatcher
	runs      audit.RunRepository
	tolerance matching.Tolerance
	pageSize  int
	now       func() time.Time
	logger    *slog.Logger
}

func NewService(
	logger *slog.Logger,
	st store.Store,
	syncer SourceSyncer,
	matcher BatchMatcher,
	runs audit.RunRepository,
	tolerance matching.Tolerance,
	pageSize int,
) *Service {
	return &Service{
		store:     st,
		syncer:    syncer,
		matcher:   matcher,
		runs:      runs,
		tolerance: tolerance,
		pageSize:  pageSize,
		now:       time.Now,
		logger:    logger,
	}
}

func (s *Service) newRun(jobType shared.JobType, req Request) *audit.Run {
	return &audit.Run{
		RunID:    uuid.New(),
		Type:     jobType,
		Source:   req.Source,
		Currency: req.Currency,
		Tolerance: audit.Tolerance{
			WindowDays:  s.tolerance.WindowDays,
			Epsilon:     s.tolerance.Epsilon.String(),
			AssumedPaid: s.tolerance.AssumedPaid,
			PageSize:    s.pageSize,
		},
		CorrelationID: req.CorrelationID,
		StartedAt:     s.now().UTC(),
	}
}

// finish stamps and stores the run. A run log failure is logged, never returned.
func (s *Service) finish(ctx context.Context, logger *slog.Logger, run *audit.Run) {
	run.FinishedAt = s.now().UTC()
	if err := s.runs.Create(context.WithoutCancel(ctx), run); err != nil {
		logger.Error("Failed to store run summary", "run_id", run.RunID, "error", err)
	}
}

func (s *Service) requestLogger(req Request) *slog.Logger {
	logger := s.logger
	if req.CorrelationID != "" {
		logger = logger.With("correlation_id", req.CorrelationID)
	}
	if req.RequestedBy != "" {
		logger = logger.With("requested_by", req.RequestedBy)
	}
	return logger
}

// Sync runs the source sync merger for req.Source and logs the run
func (s *Service) Sync(ctx context.Context, req Request) (*audit.Run, error) {
	logger := s.requestLogger(req)
	run := s.newRun(shared.JobTypeSync, req)
	defer s.finish(ctx, logger, run)

	res, err := s.syncer.Sync(ctx, req.Source)
	run.Sync = &audit.SyncStats{Inserted: res.Inserted, Preserved: res.Preserved, Failed: res.Failed, Skipped: res.Skipped}
	switch {
	case err != nil:
		run.Status = shared.RunStatusFailed
		run.Error = err.Error()
		return run, err
	case res.Skipped:
		run.Status = shared.RunStatusSkipped
	case res.Failed > 0:
		run.Status = shared.RunStatusPartial
	default:
		run.Status = shared.RunStatusCompleted
	}
	return run, nil
}

// AutoReconcile groups processor transactions into batches and matches them against bank rows.
// It always returns a run summary; per-batch failures do not fail the run.
func (s *Service) AutoReconcile(ctx context.Context, req Request) (*audit.Run, error) {
	logger := s.requestLogger(req)
	run := s.newRun(shared.JobTypeAuto, req)
	defer s.finish(ctx, logger, run)

	outcome, err := s.match(ctx, run, req.Currency)
	if err != nil && outcome == nil {
		return run, err
	}
	s.summarize(run, outcome, err)

	logger.Info("Automatic reconciliation finished",
		"run_id", run.RunID,
		"status", run.Status,
		"updated", run.Updated,
		"failed", run.Failed,
	)
	return run, nil
}

// DisbursementChain reconciles batches of one currency, then links invoices to the matched
// transactions whose order reference equals the invoice number.
func (s *Service) DisbursementChain(ctx context.Context, req Request) (*audit.Run, error) {
	logger := s.requestLogger(req)
	if len(req.Currency) != 3 {
		return nil, shared.ErrJobCurrencyInvalid
	}
	run := s.newRun(shared.JobTypeDisbursementChain, req)
	defer s.finish(ctx, logger, run)

	outcome, err := s.match(ctx, run, req.Currency)
	if err != nil && outcome == nil {
		return run, err
	}
	s.summarize(run, outcome, err)
	if err != nil {
		return run, nil
	}

	linked, linkErr := s.linkInvoices(ctx, run, req.Currency)
	run.Updated += linked
	run.ChainsFound = linked
	if linkErr != nil {
		run.Status = shared.RunStatusPartial
		run.Error = linkErr.Error()
	}

	logger.Info("Disbursement chain run finished",
		"run_id", run.RunID,
		"currency", req.Currency,
		"bank_rows_reconciled", run.BankRowsReconciled,
		"records_updated", run.Updated,
		"chains_found", run.ChainsFound,
	)
	return run, nil
}

// match loads the current records and runs the engine. A nil outcome means loading failed.
func (s *Service) match(ctx context.Context, run *audit.Run, currency string) (*matching.Outcome, error) {
	txns, err := s.store.Records().Select(ctx, "", record.Filter{Kind: shared.SourceKindProcessor, Currency: currency}, record.Page{})
	if err != nil {
		run.Status = shared.RunStatusFailed
		run.Error = err.Error()
		return nil, fmt.Errorf("failed to load processor transactions: %w", err)
	}
	unreconciled := false
	bankRows, err := s.store.Records().Select(ctx, "", record.Filter{Kind: shared.SourceKindBank, Currency: currency, Reconciled: &unreconciled}, record.Page{})
	if err != nil {
		run.Status = shared.RunStatusFailed
		run.Error = err.Error()
		return nil, fmt.Errorf("failed to load bank rows: %w", err)
	}

	batches := grouping.GroupBySettlementBatch(txns).Ordered()
	outcome, err := s.matcher.Reconcile(ctx, batches, bankRows, s.tolerance, matching.RunOptions{
		RunID:         run.RunID.String(),
		CorrelationID: run.CorrelationID,
	})
	return &outcome, err
}

func (s *Service) summarize(run *audit.Run, outcome *matching.Outcome, err error) {
	run.Updated = outcome.Updated
	run.BySource = outcome.BySource
	if run.BySource == nil {
		run.BySource = make(map[string]int)
	}
	run.Failed = len(outcome.Failures)
	for _, m := range outcome.Matches {
		run.BankRowsReconciled += len(m.BankRowIDs)
		summary := audit.MatchSummary{
			BatchID:   m.BatchID,
			Strategy:  m.Strategy,
			NetAmount: m.NetAmount.String(),
			Currency:  m.Currency,
			Delta:     m.Delta.String(),
			Ambiguous: m.Ambiguous,
		}
		for _, row := range m.BankRows {
			summary.BankRowIDs = append(summary.BankRowIDs, row.Reference())
		}
		run.Matches = append(run.Matches, summary)
	}
	for _, u := range outcome.Unmatched {
		run.Unmatched = append(run.Unmatched, audit.BatchIssue{BatchID: u.BatchID, Reason: u.Reason})
	}
	for _, f := range outcome.Failures {
		run.Failures = append(run.Failures, audit.BatchIssue{BatchID: f.BatchID, Reason: f.Err.Error()})
	}

	switch {
	case err != nil:
		run.Status = shared.RunStatusPartial
		run.Error = err.Error()
	case run.Failed > 0:
		run.Status = shared.RunStatusPartial
	default:
		run.Status = shared.RunStatusCompleted
	}
}

// linkInvoices links unreconciled invoices to bank-backed transactions. Each invoice commits on its own.
func (s *Service) linkInvoices(ctx context.Context, run *audit.Run, currency string) (int, error) {
	reconciled, unreconciled := true, false
	txns, err := s.store.Records().Select(ctx, "", record.Filter{Kind: shared.SourceKindProcessor, Currency: currency, Reconciled: &reconciled}, record.Page{})
	if err != nil {
		return 0, fmt.Errorf("failed to load reconciled transactions: %w", err)
	}
	invoices, err := s.store.Records().Select(ctx, "", record.Filter{Kind: shared.SourceKindInvoice, Currency: currency, Reconciled: &unreconciled}, record.Page{})
	if err != nil {
		return 0, fmt.Errorf("failed to load invoices: %w", err)
	}

	byNumber := make(map[string][]*record.FinancialRecord, len(invoices))
	for _, inv := range invoices {
		byNumber[inv.Invoice.InvoiceNumber] = append(byNumber[inv.Invoice.InvoiceNumber], inv)
	}

	opts := state.Options{RunID: run.RunID.String(), CorrelationID: run.CorrelationID}
	var (
		linked int
		errs   []error
	)
	for _, txn := range txns {
		if txn.Processor == nil || txn.Processor.OrderReference == "" {
			continue
		}
		if txn.Reconciliation.Type != shared.ReconciliationTypeAutomatic || txn.Reconciliation.ReconciledWith == "" {
			continue
		}
		for _, inv := range byNumber[txn.Processor.OrderReference] {
			if err := ctx.Err(); err != nil {
				return linked, err
			}
			next := record.Automatic(s.now(), txn.Reference(), txn.Processor.OrderReference)
			err := s.store.RunInTx(ctx, func(tx store.Store) error {
				_, err := state.ApplyTx(ctx, tx, inv.ID, next, opts)
				return err
			})
			if err != nil {
				run.Failures = append(run.Failures, audit.BatchIssue{BatchID: inv.Reference(), Reason: err.Error()})
				run.Failed++
				errs = append(errs, err)
				continue
			}
			linked++
			run.BySource[inv.Source]++
		}
		delete(byNumber, txn.Processor.OrderReference)
	}
	return linked, errors.Join(errs...)
}
