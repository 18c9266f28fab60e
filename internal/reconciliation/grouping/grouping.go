// Package grouping derives settlement batches from processor transactions.
package grouping

import (
	"sort"
	"strings"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/shopspring/decimal"
)

// SettlementBatch is the set of processor transactions paid out as one bank deposit.
// It is recomputed from current records on every load and never stored.
type SettlementBatch struct {
	ID             string
	Members        []*record.FinancialRecord
	NetAmount      decimal.Decimal
	Currency       string
	MixedCurrency  bool
	SettlementDate *time.Time
}

// Groups is the result of GroupBySettlementBatch
type Groups struct {
	Batches map[string]*SettlementBatch
	// NoBatch holds transactions without a batch id; they can only be reconciled manually.
	NoBatch []*record.FinancialRecord
}

// GroupBySettlementBatch groups processor records by settlement batch id.
// NetAmount is the plain sum of member settlement amounts, which are already fee-net.
func GroupBySettlementBatch(records []*record.FinancialRecord) Groups {
	groups := Groups{Batches: make(map[string]*SettlementBatch)}

	for _, rec := range records {
		if rec.Kind != shared.SourceKindProcessor || rec.Processor == nil {
			continue
		}
		batchID := rec.SettlementBatchID()
		if batchID == "" {
			groups.NoBatch = append(groups.NoBatch, rec)
			continue
		}

		batch, ok := groups.Batches[batchID]
		if !ok {
			batch = &SettlementBatch{ID: batchID, Currency: rec.Currency}
			groups.Batches[batchID] = batch
		}
		batch.Members = append(batch.Members, rec)
		batch.NetAmount = batch.NetAmount.Add(rec.Processor.SettlementAmount)
		if rec.Currency != batch.Currency {
			batch.MixedCurrency = true
		}
		if d := rec.Processor.SettlementDate; d != nil {
			day := shared.Day(*d)
			if batch.SettlementDate == nil || day.Before(*batch.SettlementDate) {
				batch.SettlementDate = &day
			}
		}
	}

	for _, batch := range groups.Batches {
		sort.Slice(batch.Members, func(i, j int) bool {
			a, b := batch.Members[i], batch.Members[j]
			if a.SourceID != b.SourceID {
				return a.SourceID < b.SourceID
			}
			return a.Source < b.Source
		})
		if batch.SettlementDate == nil {
			batch.SettlementDate = DateFromBatchID(batch.ID)
		}
		if batch.MixedCurrency {
			batch.Currency = ""
		}
	}
	return groups
}

// DateFromBatchID parses the leading date of a YYYY-MM-DD_<merchant>_<token> batch id
func DateFromBatchID(batchID string) *time.Time {
	prefix, rest, ok := strings.Cut(batchID, "_")
	if !ok || rest == "" || len(prefix) != len(time.DateOnly) {
		return nil
	}
	t, err := time.Parse(time.DateOnly, prefix)
	if err != nil {
		return nil
	}
	return &t
}

// Ordered returns batches by settlement date, then batch id. Undated batches sort last.
func (g Groups) Ordered() []*SettlementBatch {
	batches := make([]*SettlementBatch, 0, len(g.Batches))
	for _, batch := range g.Batches {
		batches = append(batches, batch)
	}
	SortBatches(batches)
	return batches
}

// Less orders batches by settlement date, then batch id. Undated batches sort last.
func Less(a, b *SettlementBatch) bool {
	da, db := a.SettlementDate, b.SettlementDate
	switch {
	case da != nil && db != nil && !da.Equal(*db):
		return da.Before(*db)
	case da != nil && db == nil:
		return true
	case da == nil && db != nil:
		return false
	}
	return a.ID < b.ID
}

// SortBatches sorts batches in place using Less
func SortBatches(batches []*SettlementBatch) {
	sort.Slice(batches, func(i, j int) bool { return Less(batches[i], batches[j]) })
}

// AllReconciled reports whether every member already carries a reconciliation
func (b *SettlementBatch) AllReconciled() bool {
	for _, m := range b.Members {
		if !m.Reconciliation.Reconciled {
			return false
		}
	}
	return true
}

// AllStatusesIn reports whether every member status is one of statuses (case-insensitive)
func (b *SettlementBatch) AllStatusesIn(statuses []string) bool {
	if len(b.Members) == 0 || len(statuses) == 0 {
		return false
	}
	allowed := make(map[string]bool, len(statuses))
	for _, s := range statuses {
		allowed[strings.ToLower(s)] = true
	}
	for _, m := range b.Members {
		if !allowed[strings.ToLower(m.Status)] {
			return false
		}
	}
	return true
}
