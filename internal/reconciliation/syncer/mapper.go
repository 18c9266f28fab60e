package syncer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/feed"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Metadata keys read from upstream rows
const (
	metaSettlementBatchID = "settlement_batch_id"
	metaSettlementDate    = "settlement_date"
	metaSettlementAmount  = "settlement_amount"
	metaFeeAmount         = "fee_amount"
	metaGrossAmount       = "gross_amount"
	metaOrderReference    = "order_reference"
	metaAccountLabel      = "account_label"
	metaBankReference     = "bank_reference"
	metaValueDate         = "value_date"
	metaInvoiceNumber     = "invoice_number"
	metaDueDate           = "due_date"
	metaLivemode          = "livemode"
)

var dateLayouts = []string{time.DateOnly, time.RFC3339, time.RFC3339Nano, "2006-01-02 15:04:05"}

// parseDate accepts a calendar date or a timestamp and returns midnight UTC of its date
func parseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return shared.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", value)
}

// toRecord validates one raw row and turns it into a record of the given kind.
// ID and CreatedAt are fresh; the merger replaces them for rows it has seen before.
func toRecord(source string, kind shared.SourceKind, raw feed.RawRecord, now time.Time) (*record.FinancialRecord, error) {
	invalid := func(reason string) error {
		return record.ErrInvalidRecord{Source: source, SourceID: raw.ID, Reason: reason}
	}

	id := strings.TrimSpace(raw.ID)
	if id == "" {
		return nil, invalid("missing id")
	}
	date, err := parseDate(raw.Date)
	if err != nil {
		return nil, invalid(err.Error())
	}
	if !raw.Amount.Valid {
		return nil, invalid("missing amount")
	}

	rec := &record.FinancialRecord{
		ID:               uuid.New(),
		Source:           source,
		SourceID:         id,
		Kind:             kind,
		Date:             date,
		Amount:           raw.Amount.Decimal,
		Currency:         strings.ToUpper(strings.TrimSpace(raw.Currency)),
		Description:      raw.Description,
		CounterpartyName: raw.CounterpartyName,
		Status:           strings.ToLower(strings.TrimSpace(raw.Status)),
		CreatedAt:        now.UTC(),
	}

	meta := raw.Metadata
	switch kind {
	case shared.SourceKindProcessor:
		payload := &record.ProcessorPayload{
			SettlementBatchID: metaString(meta, metaSettlementBatchID),
			SettlementAmount:  raw.Amount.Decimal,
			OrderReference:    metaString(meta, metaOrderReference),
		}
		if settlement, ok, err := metaDate(meta, metaSettlementDate); err != nil {
			return nil, invalid(err.Error())
		} else if ok {
			payload.SettlementDate = &settlement
		}
		if amount, err := metaDecimal(meta, metaSettlementAmount); err != nil {
			return nil, invalid(err.Error())
		} else if amount.Valid {
			payload.SettlementAmount = amount.Decimal
		}
		if payload.GrossAmount, err = metaDecimal(meta, metaGrossAmount); err != nil {
			return nil, invalid(err.Error())
		}
		if payload.FeeAmount, err = metaDecimal(meta, metaFeeAmount); err != nil {
			return nil, invalid(err.Error())
		}
		rec.Processor = payload

	case shared.SourceKindInvoice:
		payload := &record.InvoicePayload{
			InvoiceNumber:  metaString(meta, metaInvoiceNumber),
			OrderReference: metaString(meta, metaOrderReference),
		}
		if payload.InvoiceNumber == "" {
			payload.InvoiceNumber = id
		}
		if due, ok, err := metaDate(meta, metaDueDate); err != nil {
			return nil, invalid(err.Error())
		} else if ok {
			payload.DueDate = &due
		}
		rec.Invoice = payload

	case shared.SourceKindBank:
		payload := &record.BankPayload{
			AccountLabel:  metaString(meta, metaAccountLabel),
			BankReference: metaString(meta, metaBankReference),
		}
		if payload.AccountLabel == "" {
			payload.AccountLabel = source
		}
		if value, ok, err := metaDate(meta, metaValueDate); err != nil {
			return nil, invalid(err.Error())
		} else if ok {
			payload.ValueDate = &value
		}
		rec.Bank = payload
	}

	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

func metaString(meta map[string]any, key string) string {
	switch v := meta[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func metaDate(meta map[string]any, key string) (time.Time, bool, error) {
	value := metaString(meta, key)
	if value == "" {
		return time.Time{}, false, nil
	}
	t, err := parseDate(value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%s: %w", key, err)
	}
	return t, true, nil
}

func metaDecimal(meta map[string]any, key string) (decimal.NullDecimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch v := meta[key].(type) {
	case nil:
		return decimal.NullDecimal{}, nil
	case float64:
		d = decimal.NewFromFloat(v)
	case int:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	default:
		value := metaString(meta, key)
		if value == "" {
			return decimal.NullDecimal{}, nil
		}
		d, err = decimal.NewFromString(value)
	}
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("%s: invalid amount: %w", key, err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}, nil
}

// isTestMode reports rows flagged livemode=false
func isTestMode(meta map[string]any) bool {
	switch v := meta[metaLivemode].(type) {
	case bool:
		return !v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "false")
	}
	return false
}
