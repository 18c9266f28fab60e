package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/backoffice-reconciliation/internal/reconciliation/grouping"
	"github.com/backoffice-reconciliation/internal/reconciliation/state"
	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/shopspring/decimal"
)

const (
	reasonMixedCurrency    = "mixed currency batch"
	reasonNoSettlementDate = "no settlement date"
	reasonNoCandidate      = "no bank row within window and epsilon"
)

// MatchResult is one committed batch match
type MatchResult struct {
	BatchID    string                    `json:"batch_id"`
	BankRowIDs []uuid.UUID               `json:"bank_row_ids"`
	Strategy   shared.MatchStrategy      `json:"strategy"`
	NetAmount  decimal.Decimal           `json:"net_amount"`
	Currency   string                    `json:"currency"`
	Delta      decimal.Decimal           `json:"delta"`
	Ambiguous  bool                      `json:"ambiguous,omitempty"`
	Members    []*record.FinancialRecord `json:"-"`
	BankRows   []*record.FinancialRecord `json:"-"`
}

// UnmatchedBatch is a batch that was left untouched
type UnmatchedBatch struct {
	BatchID string `json:"batch_id"`
	Reason  string `json:"reason"`
}

// BatchFailure is a batch whose commit failed; other batches are unaffected
type BatchFailure struct {
	BatchID string `json:"batch_id"`
	Err     error  `json:"-"`
}

// Outcome is the summary of one engine run. It is returned even when some batches fail.
type Outcome struct {
	Matches   []MatchResult
	Unmatched []UnmatchedBatch
	Failures  []BatchFailure
	Skipped   int
	Updated   int
	BySource  map[string]int
}

// RunOptions tag the audit events written by a run
type RunOptions struct {
	RunID         string
	CorrelationID string
}

type plan struct {
	batch *grouping.SettlementBatch
	match Match
}

// Engine plans matches sequentially and commits them concurrently
type Engine struct {
	store    store.Store
	matchers []Matcher
	pool     *ants.Pool
	now      func() time.Time
	logger   *slog.Logger
}

// NewEngine creates an engine committing up to concurrency batches at once.
// With no matchers given, DefaultMatchers is used.
func NewEngine(logger *slog.Logger, st store.Store, concurrency int, matchers ...Matcher) (*Engine, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	pool, err := ants.NewPool(concurrency)
	if err != nil {
		return nil, fmt.Errorf("failed to create commit pool: %w", err)
	}
	if len(matchers) == 0 {
		matchers = DefaultMatchers()
	}
	return &Engine{
		store:    st,
		matchers: matchers,
		pool:     pool,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Close releases the commit pool
func (e *Engine) Close() {
	e.logger.Info("Shutting down commit pool", "running_workers", e.pool.Running())
	e.pool.Release()
}

// Reconcile matches batches against bank rows. Planning walks batches by settlement date then
// batch id and reserves bank rows as it goes, so a row is proposed to at most one batch.
// Each planned batch commits in its own transaction; a failed commit fails only that batch.
// Cancelling ctx stops new commits from being scheduled and is returned with the partial outcome.
func (e *Engine) Reconcile(ctx context.Context, batches []*grouping.SettlementBatch, bankRows []*record.FinancialRecord, tol Tolerance, opts RunOptions) (Outcome, error) {
	logger := e.logger.With("run_id", opts.RunID)
	if opts.CorrelationID != "" {
		logger = logger.With("correlation_id", opts.CorrelationID)
	}

	outcome := Outcome{BySource: make(map[string]int)}
	plans := e.plan(logger, batches, bankRows, tol, &outcome)

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		stopErr error
	)
	for _, p := range plans {
		p := p
		if err := ctx.Err(); err != nil {
			stopErr = err
			break
		}

		wg.Add(1)
		err := e.pool.Submit(func() {
			defer wg.Done()
			result, updated, err := e.commit(ctx, p, opts)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Error("Batch commit failed", "batch_id", p.batch.ID, "strategy", p.match.Strategy, "error", err)
				outcome.Failures = append(outcome.Failures, BatchFailure{BatchID: p.batch.ID, Err: err})
				return
			}
			outcome.Matches = append(outcome.Matches, result)
			for _, rec := range updated {
				outcome.Updated++
				outcome.BySource[rec.Source]++
			}
		})
		if err != nil {
			wg.Done()
			mu.Lock()
			outcome.Failures = append(outcome.Failures, BatchFailure{BatchID: p.batch.ID, Err: fmt.Errorf("failed to schedule commit: %w", err)})
			mu.Unlock()
		}
	}
	wg.Wait()

	sort.Slice(outcome.Matches, func(i, j int) bool { return outcome.Matches[i].BatchID < outcome.Matches[j].BatchID })
	sort.Slice(outcome.Failures, func(i, j int) bool { return outcome.Failures[i].BatchID < outcome.Failures[j].BatchID })

	logger.Info("Matching run finished",
		"matched", len(outcome.Matches),
		"unmatched", len(outcome.Unmatched),
		"failed", len(outcome.Failures),
		"skipped", outcome.Skipped,
		"updated", outcome.Updated,
	)
	return outcome, stopErr
}

func (e *Engine) plan(logger *slog.Logger, batches []*grouping.SettlementBatch, bankRows []*record.FinancialRecord, tol Tolerance, outcome *Outcome) []plan {
	ordered := make([]*grouping.SettlementBatch, len(batches))
	copy(ordered, batches)
	grouping.SortBatches(ordered)

	pool := make([]*record.FinancialRecord, 0, len(bankRows))
	for _, row := range bankRows {
		if row.Kind == shared.SourceKindBank && !row.Reconciliation.Reconciled {
			pool = append(pool, row)
		}
	}
	sort.Slice(pool, func(i, j int) bool {
		if !pool[i].Date.Equal(pool[j].Date) {
			return pool[i].Date.Before(pool[j].Date)
		}
		return pool[i].Reference() < pool[j].Reference()
	})

	reserved := make(map[uuid.UUID]bool)
	var plans []plan
	for _, batch := range ordered {
		if len(batch.Members) == 0 || batch.AllReconciled() {
			outcome.Skipped++
			continue
		}
		if batch.MixedCurrency {
			outcome.Unmatched = append(outcome.Unmatched, UnmatchedBatch{BatchID: batch.ID, Reason: reasonMixedCurrency})
			continue
		}

		var candidates []*record.FinancialRecord
		for _, row := range pool {
			if !reserved[row.ID] && row.Currency == batch.Currency {
				candidates = append(candidates, row)
			}
		}

		match, ok := e.firstMatch(batch, candidates, tol)
		if !ok {
			reason := reasonNoCandidate
			if batch.SettlementDate == nil {
				reason = reasonNoSettlementDate
			}
			outcome.Unmatched = append(outcome.Unmatched, UnmatchedBatch{BatchID: batch.ID, Reason: reason})
			continue
		}
		if match.Ambiguous {
			logger.Warn("Ambiguous bank row match, using tie-break winner",
				"batch_id", batch.ID,
				"error", MatchAmbiguityError{BatchID: batch.ID, Candidates: match.Candidates},
			)
		}
		for _, row := range match.BankRows {
			reserved[row.ID] = true
		}
		plans = append(plans, plan{batch: batch, match: match})
	}
	return plans
}

func (e *Engine) firstMatch(batch *grouping.SettlementBatch, candidates []*record.FinancialRecord, tol Tolerance) (Match, bool) {
	for _, matcher := range e.matchers {
		if m, ok := matcher(batch, candidates, tol); ok {
			return m, true
		}
	}
	return Match{}, false
}

// commit claims the bank rows and applies the batch members in one transaction
func (e *Engine) commit(ctx context.Context, p plan, opts RunOptions) (MatchResult, []*record.FinancialRecord, error) {
	batch, match := p.batch, p.match
	result := MatchResult{
		BatchID:   batch.ID,
		Strategy:  match.Strategy,
		NetAmount: batch.NetAmount,
		Currency:  batch.Currency,
		Delta:     match.Delta,
		Ambiguous: match.Ambiguous,
	}
	stateOpts := state.Options{RunID: opts.RunID, Strategy: match.Strategy, CorrelationID: opts.CorrelationID}

	var updated []*record.FinancialRecord
	err := e.store.RunInTx(ctx, func(tx store.Store) error {
		updated = updated[:0]
		result.BankRowIDs, result.BankRows, result.Members = nil, nil, nil
		now := e.now()

		var refs []string
		for _, row := range match.BankRows {
			change, err := state.ClaimTx(ctx, tx, row, record.Automatic(now, record.BatchReference(batch.ID), batch.ID), stateOpts)
			if err != nil {
				return err
			}
			updated = append(updated, change.Record)
			refs = append(refs, row.Reference())
			result.BankRowIDs = append(result.BankRowIDs, row.ID)
			result.BankRows = append(result.BankRows, change.Record)
		}

		memberState := record.Automatic(now, record.JoinReferences(refs), batch.ID)
		if match.Strategy == shared.MatchStrategyAssumedPaid {
			memberState = record.Assumed(now, batch.ID)
		}
		for _, member := range batch.Members {
			change, err := state.ApplyTx(ctx, tx, member.ID, memberState, stateOpts)
			if errors.Is(err, record.ConflictError{}) {
				// reconciled elsewhere since it was loaded, keep that decision
				e.logger.Warn("Keeping existing reconciliation on batch member",
					"batch_id", batch.ID,
					"record_id", member.ID,
					"error", err,
				)
				result.Members = append(result.Members, member)
				continue
			}
			if err != nil {
				return err
			}
			if change.Changed {
				updated = append(updated, change.Record)
			}
			result.Members = append(result.Members, change.Record)
		}
		return nil
	})
	if err != nil {
		return MatchResult{}, nil, fmt.Errorf("failed to commit batch %s: %w", batch.ID, err)
	}
	return result, updated, nil
}
