// Package feed describes upstream sources of raw financial records.
package feed

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// RawRecord is one upstream row before validation. Only ID, Date, Amount and Currency are required.
type RawRecord struct {
	ID               string              `json:"id"`
	Date             string              `json:"date"`
	Amount           decimal.NullDecimal `json:"amount"`
	Currency         string              `json:"currency"`
	Status           string              `json:"status,omitempty"`
	Description      string              `json:"description,omitempty"`
	CounterpartyName string              `json:"counterparty_name,omitempty"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
}

// Feed reads one page of raw records for a source
type Feed interface {
	FetchPage(ctx context.Context, source string, offset, limit int) ([]RawRecord, error)
}

// UpstreamFetchError wraps a failed page fetch
type UpstreamFetchError struct {
	Source    string
	Offset    int
	Retryable bool
	Err       error
}

func (e *UpstreamFetchError) Error() string {
	return fmt.Sprintf("upstream fetch failed for source %s at offset %d (retryable=%t): %v", e.Source, e.Offset, e.Retryable, e.Err)
}

func (e *UpstreamFetchError) Unwrap() error {
	return e.Err
}
