// Package upstream wires configured sources to their feeds.
package upstream

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/backoffice-reconciliation/internal/config"
	"github.com/backoffice-reconciliation/internal/domain/feed"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/platform/persistence"
	"github.com/backoffice-reconciliation/internal/upstream/httpfeed"
	"github.com/backoffice-reconciliation/internal/upstream/pgfeed"
)

// PostgresEndpoint selects the internal invoices table instead of an HTTP feed
const PostgresEndpoint = "postgres"

// ErrUnknownSource is returned for sources without a configured feed
type ErrUnknownSource struct {
	Source string
}

func (e ErrUnknownSource) Error() string {
	return "no upstream feed configured for source: " + e.Source
}

// Registry dispatches FetchPage to the feed configured for each source
type Registry struct {
	feeds map[string]feed.Feed
	kinds map[string]shared.SourceKind
}

func NewRegistry() *Registry {
	return &Registry{
		feeds: make(map[string]feed.Feed),
		kinds: make(map[string]shared.SourceKind),
	}
}

// NewRegistryFromConfig builds HTTP and invoice-table feeds for every configured source
func NewRegistryFromConfig(logger *slog.Logger, cfg *config.SyncConfig, db *persistence.PostgresDB) (*Registry, error) {
	r := NewRegistry()
	var invoices *pgfeed.InvoiceFeed

	for _, src := range cfg.Sources {
		var f feed.Feed
		switch {
		case src.Endpoint == PostgresEndpoint:
			if db == nil {
				return nil, fmt.Errorf("source %s reads from postgres but no database is available", src.Name)
			}
			if invoices == nil {
				invoices = pgfeed.NewInvoiceFeed(logger, db)
			}
			f = invoices
		case strings.HasPrefix(src.Endpoint, "http://") || strings.HasPrefix(src.Endpoint, "https://"):
			f = httpfeed.NewClient(logger, src.Endpoint, cfg.FetchTimeout)
		default:
			return nil, fmt.Errorf("source %s has unsupported endpoint %q", src.Name, src.Endpoint)
		}

		kind := shared.SourceKind(src.Kind)
		if src.Kind != "" && !kind.Valid() {
			return nil, fmt.Errorf("source %s has unknown kind %q", src.Name, src.Kind)
		}
		r.Register(src.Name, kind, f)
	}
	return r, nil
}

// Register adds or replaces the feed of a source. An empty kind means derive it from the name.
func (r *Registry) Register(source string, kind shared.SourceKind, f feed.Feed) {
	r.feeds[source] = f
	if kind != "" {
		r.kinds[source] = kind
	}
}

// Sources lists the registered source names in order
func (r *Registry) Sources() []string {
	names := make([]string, 0, len(r.feeds))
	for name := range r.feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// KindOverrides returns the explicitly configured kinds
func (r *Registry) KindOverrides() map[string]shared.SourceKind {
	out := make(map[string]shared.SourceKind, len(r.kinds))
	for k, v := range r.kinds {
		out[k] = v
	}
	return out
}

// FetchPage implements feed.Feed
func (r *Registry) FetchPage(ctx context.Context, source string, offset, limit int) ([]feed.RawRecord, error) {
	f, ok := r.feeds[source]
	if !ok {
		return nil, &feed.UpstreamFetchError{Source: source, Offset: offset, Err: ErrUnknownSource{Source: source}}
	}
	return f.FetchPage(ctx, source, offset, limit)
}

var _ feed.Feed = (*Registry)(nil)
