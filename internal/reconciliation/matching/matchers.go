// Package matching pairs settlement batches with bank statement rows.
package matching

import (
	"fmt"
	"sort"
	"strings"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/reconciliation/grouping"
	"github.com/shopspring/decimal"
)

// Tolerance is how far a bank row may be from a batch and still count as the same payment.
// Both bounds are inclusive.
type Tolerance struct {
	WindowDays      int
	Epsilon         decimal.Decimal
	AssumedPaid     bool
	SettledStatuses []string
}

// Match is a matcher's proposal for one batch
type Match struct {
	Strategy   shared.MatchStrategy
	BankRows   []*record.FinancialRecord
	Delta      decimal.Decimal
	Ambiguous  bool
	Candidates []string // references of rows that tied with the winner
}

// Matcher proposes bank rows for a batch. Candidates are unreserved, unreconciled bank rows
// in the batch currency. Matchers must not mutate anything.
type Matcher func(batch *grouping.SettlementBatch, candidates []*record.FinancialRecord, tol Tolerance) (Match, bool)

// DefaultMatchers returns the strategies in priority order; the first match wins
func DefaultMatchers() []Matcher {
	return []Matcher{ExactSingle, AggregatedGroup, AssumedPaid}
}

// MatchAmbiguityError reports equally good single-row candidates. It is logged, never returned to callers.
type MatchAmbiguityError struct {
	BatchID    string
	Candidates []string
}

func (e MatchAmbiguityError) Error() string {
	return fmt.Sprintf("ambiguous match for batch %s between %s", e.BatchID, strings.Join(e.Candidates, ", "))
}

func inWindow(rec *record.FinancialRecord, batch *grouping.SettlementBatch, tol Tolerance) bool {
	return batch.SettlementDate != nil && shared.DaysBetween(rec.Date, *batch.SettlementDate) <= tol.WindowDays
}

type scored struct {
	row   *record.FinancialRecord
	delta decimal.Decimal
}

// ExactSingle picks one bank row within the window whose amount is within epsilon of the
// batch net amount. Ties go to the smaller delta, then the earlier date, then the reference.
func ExactSingle(batch *grouping.SettlementBatch, candidates []*record.FinancialRecord, tol Tolerance) (Match, bool) {
	var eligible []scored
	for _, c := range candidates {
		if c.Currency != batch.Currency || !inWindow(c, batch, tol) {
			continue
		}
		delta := c.Amount.Sub(batch.NetAmount).Abs()
		if delta.GreaterThan(tol.Epsilon) {
			continue
		}
		eligible = append(eligible, scored{row: c, delta: delta})
	}
	if len(eligible) == 0 {
		return Match{}, false
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if cmp := a.delta.Cmp(b.delta); cmp != 0 {
			return cmp < 0
		}
		if !a.row.Date.Equal(b.row.Date) {
			return a.row.Date.Before(b.row.Date)
		}
		return a.row.Reference() < b.row.Reference()
	})

	best := eligible[0]
	match := Match{
		Strategy: shared.MatchStrategyExactSingle,
		BankRows: []*record.FinancialRecord{best.row},
		Delta:    best.delta,
	}
	for _, other := range eligible[1:] {
		if !other.delta.Equal(best.delta) || !other.row.Date.Equal(best.row.Date) {
			break
		}
		match.Ambiguous = true
		match.Candidates = append(match.Candidates, other.row.Reference())
	}
	if match.Ambiguous {
		match.Candidates = append([]string{best.row.Reference()}, match.Candidates...)
	}
	return match, true
}

// AggregatedGroup sums window rows per bank account label and accepts a label whose total is
// within epsilon of the batch. Ties go to the smaller delta, then the label name.
func AggregatedGroup(batch *grouping.SettlementBatch, candidates []*record.FinancialRecord, tol Tolerance) (Match, bool) {
	byLabel := make(map[string][]*record.FinancialRecord)
	for _, c := range candidates {
		if c.Currency != batch.Currency || !inWindow(c, batch, tol) {
			continue
		}
		byLabel[c.AccountLabel()] = append(byLabel[c.AccountLabel()], c)
	}

	var (
		bestLabel string
		best      Match
		found     bool
	)
	for label, rows := range byLabel {
		sum := decimal.Zero
		for _, r := range rows {
			sum = sum.Add(r.Amount)
		}
		delta := sum.Sub(batch.NetAmount).Abs()
		if delta.GreaterThan(tol.Epsilon) {
			continue
		}
		if found {
			cmp := delta.Cmp(best.Delta)
			if cmp > 0 || (cmp == 0 && label > bestLabel) {
				continue
			}
		}
		bestLabel, found = label, true
		best = Match{Strategy: shared.MatchStrategyAggregatedGroup, BankRows: rows, Delta: delta}
	}
	return best, found
}

// AssumedPaid marks a batch settled without bank evidence. It only applies when enabled,
// when no candidate row exists in the window, and when every member reports a settled status.
func AssumedPaid(batch *grouping.SettlementBatch, candidates []*record.FinancialRecord, tol Tolerance) (Match, bool) {
	if !tol.AssumedPaid {
		return Match{}, false
	}
	for _, c := range candidates {
		if c.Currency == batch.Currency && inWindow(c, batch, tol) {
			return Match{}, false
		}
	}
	if !batch.AllStatusesIn(tol.SettledStatuses) {
		return Match{}, false
	}
	return Match{Strategy: shared.MatchStrategyAssumedPaid, Delta: decimal.Zero}, true
}
