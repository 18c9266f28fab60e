package pgfeed

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/feed"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoiceFeed_FetchPage(t *testing.T) {
	ctx := context.Background()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	f := &InvoiceFeed{querier: mock, logger: slog.New(slog.NewTextHandler(os.Stdout, nil))}
	issued := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	due := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	query := `FROM invoices WHERE source = \$1 ORDER BY issued_on ASC, invoice_number ASC LIMIT \$2 OFFSET \$3`

	t.Run("maps rows", func(t *testing.T) {
		rows := pgxmock.NewRows([]string{"invoice_number", "issued_on", "total_amount", "currency", "status",
			"customer_name", "order_reference", "description", "due_on"}).
			AddRow("INV-1", issued, "120.000000", "EUR", "paid", "ACME", "ORD-1", "June order", &due).
			AddRow("INV-2", issued, "80.000000", "EUR", "open", "", "", "", (*time.Time)(nil))
		mock.ExpectQuery(query).WithArgs("invoices", 100, 0).WillReturnRows(rows)

		records, err := f.FetchPage(ctx, "invoices", 0, 100)
		require.NoError(t, err)
		require.Len(t, records, 2)

		assert.Equal(t, "INV-1", records[0].ID)
		assert.Equal(t, "2025-06-01", records[0].Date)
		assert.Equal(t, "120", records[0].Amount.Decimal.String())
		assert.Equal(t, "ACME", records[0].CounterpartyName)
		assert.Equal(t, "ORD-1", records[0].Metadata["order_reference"])
		assert.Equal(t, "2025-06-15", records[0].Metadata["due_date"])
		_, hasDue := records[1].Metadata["due_date"]
		assert.False(t, hasDue)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("query failure is retryable", func(t *testing.T) {
		mock.ExpectQuery(query).WithArgs("invoices", 100, 100).WillReturnError(errors.New("connection refused"))

		_, err := f.FetchPage(ctx, "invoices", 100, 100)
		var fetchErr *feed.UpstreamFetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.True(t, fetchErr.Retryable)
		assert.Equal(t, 100, fetchErr.Offset)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
