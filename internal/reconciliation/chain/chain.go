// Package chain resolves the invoice, transaction, settlement batch and bank rows
// linked to a record. It only reads.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/reconciliation/grouping"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Batch is the read view of a settlement batch in a chain
type Batch struct {
	ID             string          `json:"batch_id"`
	NetAmount      decimal.Decimal `json:"net_amount"`
	Currency       string          `json:"currency,omitempty"`
	SettlementDate string          `json:"settlement_date,omitempty"`
	Members        []uuid.UUID     `json:"member_ids"`
}

// Chain is everything linked to Record, ordered invoice to bank row
type Chain struct {
	Record       *record.FinancialRecord   `json:"record"`
	Invoices     []*record.FinancialRecord `json:"invoices"`
	Transactions []*record.FinancialRecord `json:"transactions"`
	Batches      []Batch                   `json:"batches"`
	BankRows     []*record.FinancialRecord `json:"bank_rows"`
	Complete     bool                      `json:"complete"`
}

type Resolver struct {
	records record.Repository
}

func NewResolver(records record.Repository) *Resolver {
	return &Resolver{records: records}
}

type set map[uuid.UUID]*record.FinancialRecord

func (s set) add(recs ...*record.FinancialRecord) {
	for _, r := range recs {
		s[r.ID] = r
	}
}

func (s set) sorted() []*record.FinancialRecord {
	out := make([]*record.FinancialRecord, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		return out[i].Reference() < out[j].Reference()
	})
	return out
}

// Resolve walks the reconciliation links around the record with the given id
func (r *Resolver) Resolve(ctx context.Context, id uuid.UUID) (*Chain, error) {
	rec, err := r.records.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		invoices = set{}
		txns     = set{}
		bankRows = set{}
	)

	switch rec.Kind {
	case shared.SourceKindProcessor:
		txns.add(rec)
	case shared.SourceKindInvoice:
		invoices.add(rec)
		linked, err := r.byReferences(ctx, rec.Reconciliation.ReconciledWith, shared.SourceKindProcessor)
		if err != nil {
			return nil, err
		}
		txns.add(linked...)
	case shared.SourceKindBank:
		bankRows.add(rec)
		for _, ref := range record.ParseReferences(rec.Reconciliation.ReconciledWith) {
			if !ref.IsBatch() {
				continue
			}
			members, err := r.records.FindByBatchID(ctx, ref.BatchID)
			if err != nil {
				return nil, fmt.Errorf("failed to load batch %s: %w", ref.BatchID, err)
			}
			txns.add(members...)
		}
		linked, err := r.counterparties(ctx, rec.Reference(), shared.SourceKindProcessor)
		if err != nil {
			return nil, err
		}
		txns.add(linked...)
	}

	batchIDs := map[string]bool{}
	for _, txn := range txns.sorted() {
		if id := txn.SettlementBatchID(); id != "" {
			batchIDs[id] = true
		}
		linkedInvoices, err := r.counterparties(ctx, txn.Reference(), shared.SourceKindInvoice)
		if err != nil {
			return nil, err
		}
		invoices.add(linkedInvoices...)

		linkedRows, err := r.byReferences(ctx, txn.Reconciliation.ReconciledWith, shared.SourceKindBank)
		if err != nil {
			return nil, err
		}
		bankRows.add(linkedRows...)
	}

	var batchMembers []*record.FinancialRecord
	for id := range batchIDs {
		members, err := r.records.FindByBatchID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
		}
		batchMembers = append(batchMembers, members...)

		rows, err := r.counterparties(ctx, record.BatchReference(id), shared.SourceKindBank)
		if err != nil {
			return nil, err
		}
		bankRows.add(rows...)
	}

	chain := &Chain{
		Record:       rec,
		Invoices:     invoices.sorted(),
		Transactions: txns.sorted(),
		BankRows:     bankRows.sorted(),
	}
	for _, b := range grouping.GroupBySettlementBatch(batchMembers).Ordered() {
		view := Batch{ID: b.ID, NetAmount: b.NetAmount, Currency: b.Currency}
		if b.SettlementDate != nil {
			view.SettlementDate = b.SettlementDate.Format("2006-01-02")
		}
		for _, m := range b.Members {
			view.Members = append(view.Members, m.ID)
		}
		chain.Batches = append(chain.Batches, view)
	}
	chain.Complete = len(chain.Invoices) > 0 && len(chain.Transactions) > 0 && len(chain.BankRows) > 0
	return chain, nil
}

// byReferences loads the records named in a reconciledWith value, skipping rows that vanished upstream
func (r *Resolver) byReferences(ctx context.Context, reconciledWith string, kind shared.SourceKind) ([]*record.FinancialRecord, error) {
	var out []*record.FinancialRecord
	for _, ref := range record.ParseReferences(reconciledWith) {
		if ref.IsBatch() {
			continue
		}
		rec, err := r.records.GetBySourceID(ctx, ref.Source, ref.SourceID)
		if errors.Is(err, record.ErrRecordNotFound{}) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load %s/%s: %w", ref.Source, ref.SourceID, err)
		}
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}

// counterparties finds records of kind whose reconciledWith names reference
func (r *Resolver) counterparties(ctx context.Context, reference string, kind shared.SourceKind) ([]*record.FinancialRecord, error) {
	found, err := r.records.FindByCounterparty(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to find records linked to %s: %w", reference, err)
	}
	out := found[:0]
	for _, rec := range found {
		if rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}
