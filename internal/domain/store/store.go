// Package store defines the transactional boundary every reconciliation component is given.
package store

import (
	"context"

	"github.com/backoffice-reconciliation/internal/domain/outbox"
	"github.com/backoffice-reconciliation/internal/domain/record"
)

// Store groups the record and outbox repositories behind one unit of work.
// Components receive it explicitly; there is no package-level store.
type Store interface {
	Records() record.Repository
	Outbox() outbox.Repository
	// Transactional reports whether RunInTx gives all-or-nothing semantics.
	Transactional() bool
	// RunInTx runs fn against a Store bound to one transaction, committing when fn returns nil.
	RunInTx(ctx context.Context, fn func(tx Store) error) error
}
