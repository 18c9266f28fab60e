// Package record defines the financial record aggregate: a common envelope shared by
// invoices, processor transactions and bank statement rows, plus one typed payload per kind.
package record

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FinancialRecord is a single row from an upstream source, keyed by (Source, SourceID).
// Exactly one of Processor, Invoice or Bank is set and it must match Kind.
type FinancialRecord struct {
	ID               uuid.UUID           `json:"id"`
	Source           string              `json:"source"`
	SourceID         string              `json:"source_id"`
	Kind             shared.SourceKind   `json:"kind"`
	Date             time.Time           `json:"date"`
	Amount           decimal.Decimal     `json:"amount"`
	Currency         string              `json:"currency"`
	Description      string              `json:"description,omitempty"`
	CounterpartyName string              `json:"counterparty_name,omitempty"`
	Status           string              `json:"status,omitempty"`
	Processor        *ProcessorPayload   `json:"processor,omitempty"`
	Invoice          *InvoicePayload     `json:"invoice,omitempty"`
	Bank             *BankPayload        `json:"bank,omitempty"`
	Reconciliation   ReconciliationState `json:"reconciliation"`
	CreatedAt        time.Time           `json:"created_at"`
}

// ProcessorPayload carries payment processor settlement details.
// SettlementAmount is already net of processor fees.
type ProcessorPayload struct {
	SettlementBatchID string              `json:"settlement_batch_id,omitempty"`
	SettlementDate    *time.Time          `json:"settlement_date,omitempty"`
	GrossAmount       decimal.NullDecimal `json:"gross_amount"`
	FeeAmount         decimal.NullDecimal `json:"fee_amount"`
	SettlementAmount  decimal.Decimal     `json:"settlement_amount"`
	OrderReference    string              `json:"order_reference,omitempty"`
}

// InvoicePayload carries accounting details of an invoice or order
type InvoicePayload struct {
	InvoiceNumber  string     `json:"invoice_number"`
	OrderReference string     `json:"order_reference,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

// BankPayload carries bank statement line details
type BankPayload struct {
	AccountLabel  string     `json:"account_label"`
	BankReference string     `json:"bank_reference,omitempty"`
	ValueDate     *time.Time `json:"value_date,omitempty"`
}

// Reference returns the opaque counterparty reference other records use to point at r
func (r *FinancialRecord) Reference() string {
	return RecordReference(r.Source, r.SourceID)
}

// SettlementBatchID returns the processor batch id, or "" for other kinds
func (r *FinancialRecord) SettlementBatchID() string {
	if r.Processor == nil {
		return ""
	}
	return r.Processor.SettlementBatchID
}

// AccountLabel returns the bank account label used to partition statement lines
func (r *FinancialRecord) AccountLabel() string {
	if r.Bank != nil && r.Bank.AccountLabel != "" {
		return r.Bank.AccountLabel
	}
	return r.Source
}

// Validate checks the envelope, the payload variant and the reconciliation invariants
func (r *FinancialRecord) Validate() error {
	switch {
	case r.Source == "" || strings.ContainsAny(r.Source, "/,"):
		return r.invalid("source must be non-empty and must not contain '/' or ','")
	case r.SourceID == "" || strings.Contains(r.SourceID, ","):
		return r.invalid("source id must be non-empty and must not contain ','")
	case !r.Kind.Valid():
		return r.invalid(fmt.Sprintf("unknown kind %q", r.Kind))
	case r.Date.IsZero():
		return r.invalid("date is required")
	case len(r.Currency) != 3 || strings.ToUpper(r.Currency) != r.Currency:
		return r.invalid(fmt.Sprintf("currency %q is not an upper-case ISO code", r.Currency))
	}

	set := 0
	for _, present := range []bool{r.Processor != nil, r.Invoice != nil, r.Bank != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return r.invalid("exactly one payload must be set")
	}

	switch r.Kind {
	case shared.SourceKindProcessor:
		if r.Processor == nil {
			return r.invalid("processor record without processor payload")
		}
		if strings.Contains(r.Processor.SettlementBatchID, referenceSeparator) {
			return r.invalid("settlement batch id must not contain ','")
		}
	case shared.SourceKindInvoice:
		if r.Invoice == nil {
			return r.invalid("invoice record without invoice payload")
		}
		if r.Invoice.InvoiceNumber == "" {
			return r.invalid("invoice number is required")
		}
	case shared.SourceKindBank:
		if r.Bank == nil {
			return r.invalid("bank record without bank payload")
		}
	}

	if err := r.Reconciliation.Validate(); err != nil {
		return r.invalid(err.Error())
	}
	return nil
}

func (r *FinancialRecord) invalid(reason string) error {
	return ErrInvalidRecord{Source: r.Source, SourceID: r.SourceID, Reason: reason}
}

// PayloadJSON encodes the kind-specific payload for storage
func (r *FinancialRecord) PayloadJSON() ([]byte, error) {
	switch r.Kind {
	case shared.SourceKindProcessor:
		return json.Marshal(r.Processor)
	case shared.SourceKindInvoice:
		return json.Marshal(r.Invoice)
	case shared.SourceKindBank:
		return json.Marshal(r.Bank)
	}
	return nil, r.invalid(fmt.Sprintf("unknown kind %q", r.Kind))
}

// SetPayloadJSON decodes a stored payload according to r.Kind
func (r *FinancialRecord) SetPayloadJSON(data []byte) error {
	r.Processor, r.Invoice, r.Bank = nil, nil, nil
	switch r.Kind {
	case shared.SourceKindProcessor:
		r.Processor = &ProcessorPayload{}
		return json.Unmarshal(data, r.Processor)
	case shared.SourceKindInvoice:
		r.Invoice = &InvoicePayload{}
		return json.Unmarshal(data, r.Invoice)
	case shared.SourceKindBank:
		r.Bank = &BankPayload{}
		return json.Unmarshal(data, r.Bank)
	}
	return r.invalid(fmt.Sprintf("unknown kind %q", r.Kind))
}

// Clone returns a deep copy so callers can mutate it freely
func (r *FinancialRecord) Clone() *FinancialRecord {
	c := *r
	if r.Processor != nil {
		p := *r.Processor
		c.Processor = &p
	}
	if r.Invoice != nil {
		i := *r.Invoice
		c.Invoice = &i
	}
	if r.Bank != nil {
		b := *r.Bank
		c.Bank = &b
	}
	c.Reconciliation = r.Reconciliation.clone()
	return &c
}
