package postgres

import (
	"context"
	"log/slog"

	"github.com/backoffice-reconciliation/internal/domain/outbox"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/backoffice-reconciliation/internal/platform/persistence"
	"github.com/jackc/pgx/v5"
)

// Store implements store.Store on PostgreSQL. A Store returned inside RunInTx
// is bound to that transaction and runs nested calls in it.
type Store struct {
	beginner persistence.TxBeginner
	records  *RecordRepository
	outbox   *OutboxRepository
	tx       pgx.Tx
}

// NewStore creates a Store backed by the connection pool
func NewStore(logger *slog.Logger, db *persistence.PostgresDB) *Store {
	return newStore(logger, db.Pool())
}

func newStore(logger *slog.Logger, beginner persistence.TxBeginner) *Store {
	return &Store{
		beginner: beginner,
		records:  &RecordRepository{querier: beginner, logger: logger},
		outbox:   &OutboxRepository{querier: beginner, logger: logger},
	}
}

func (s *Store) Records() record.Repository { return s.records }

func (s *Store) Outbox() outbox.Repository { return s.outbox }

func (s *Store) Transactional() bool { return true }

// RunInTx runs fn in one database transaction
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return persistence.ExecuteTx(ctx, s.beginner, func(tx pgx.Tx) error {
		return fn(&Store{
			beginner: s.beginner,
			records:  s.records.WithTx(tx),
			outbox:   s.outbox.WithTx(tx),
			tx:       tx,
		})
	})
}

var _ store.Store = (*Store)(nil)
