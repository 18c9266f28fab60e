// Package pgfeed exposes the internal invoices table as an upstream feed.
package pgfeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/feed"
	"github.com/backoffice-reconciliation/internal/platform/persistence"
	"github.com/shopspring/decimal"
)

// InvoiceFeed pages through the invoices table of one source
type InvoiceFeed struct {
	querier persistence.Querier
	logger  *slog.Logger
}

func NewInvoiceFeed(logger *slog.Logger, db *persistence.PostgresDB) *InvoiceFeed {
	return &InvoiceFeed{
		querier: db.Pool(),
		logger:  logger,
	}
}

// FetchPage implements feed.Feed
func (f *InvoiceFeed) FetchPage(ctx context.Context, source string, offset, limit int) ([]feed.RawRecord, error) {
	query := `
		SELECT invoice_number, issued_on, total_amount::text, currency, status,
			customer_name, order_reference, description, due_on
		FROM invoices
		WHERE source = $1
		ORDER BY issued_on ASC, invoice_number ASC
		LIMIT $2 OFFSET $3
	`

	rows, err := f.querier.Query(ctx, query, source, limit, offset)
	if err != nil {
		f.logger.Error("Failed to read invoices", "source", source, "offset", offset, "error", err)
		return nil, &feed.UpstreamFetchError{Source: source, Offset: offset, Retryable: ctx.Err() == nil, Err: err}
	}
	defer rows.Close()

	var records []feed.RawRecord
	for rows.Next() {
		var (
			number, amount, currency, status string
			customer, orderRef, description  string
			issued                           time.Time
			due                              *time.Time
		)
		if err := rows.Scan(&number, &issued, &amount, &currency, &status, &customer, &orderRef, &description, &due); err != nil {
			return nil, &feed.UpstreamFetchError{Source: source, Offset: offset, Err: fmt.Errorf("failed to scan invoice: %w", err)}
		}

		value, err := decimal.NewFromString(amount)
		raw := feed.RawRecord{
			ID:               number,
			Date:             issued.Format(time.DateOnly),
			Amount:           decimal.NullDecimal{Decimal: value, Valid: err == nil},
			Currency:         currency,
			Status:           status,
			Description:      description,
			CounterpartyName: customer,
			Metadata: map[string]any{
				"invoice_number":  number,
				"order_reference": orderRef,
			},
		}
		if due != nil {
			raw.Metadata["due_date"] = due.Format(time.DateOnly)
		}
		records = append(records, raw)
	}
	if err := rows.Err(); err != nil {
		return nil, &feed.UpstreamFetchError{Source: source, Offset: offset, Retryable: true, Err: err}
	}

	return records, nil
}

var _ feed.Feed = (*InvoiceFeed)(nil)
