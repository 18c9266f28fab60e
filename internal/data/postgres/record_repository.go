// Package postgres provides PostgreSQL implementations of the domain repositories.
// Every repository can be rebound to a transaction with WithTx so that record,
// reconciliation and outbox writes commit together.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/platform/persistence"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const (
	recordColumns = `id, source, source_id, kind, record_date, amount::text, currency, description,
		counterparty_name, status, payload, reconciled, reconciled_at, reconciled_with,
		reconciliation_type, reconciled_by, payment_reference, created_at`

	insertColumns = `id, source, source_id, kind, record_date, amount, currency, description,
		counterparty_name, status, payload, reconciled, reconciled_at, reconciled_with,
		reconciliation_type, reconciled_by, payment_reference, created_at`

	insertColumnCount = 18
)

// RecordRepository implements the record.Repository interface for PostgreSQL
type RecordRepository struct {
	querier persistence.Querier // Can be *pgxpool.Pool or pgx.Tx
	logger  *slog.Logger
}

// NewRecordRepository creates a new PostgreSQL record repository
func NewRecordRepository(logger *slog.Logger, db *persistence.PostgresDB) *RecordRepository {
	return &RecordRepository{
		querier: db.Pool(),
		logger:  logger,
	}
}

// WithTx returns a repository bound to the given transaction
func (r *RecordRepository) WithTx(tx pgx.Tx) *RecordRepository {
	return &RecordRepository{
		querier: tx,
		logger:  r.logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.FinancialRecord, error) {
	var (
		rec                  record.FinancialRecord
		kind, amount, recTyp string
		payload              []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Source,
		&rec.SourceID,
		&kind,
		&rec.Date,
		&amount,
		&rec.Currency,
		&rec.Description,
		&rec.CounterpartyName,
		&rec.Status,
		&payload,
		&rec.Reconciliation.Reconciled,
		&rec.Reconciliation.ReconciledAt,
		&rec.Reconciliation.ReconciledWith,
		&recTyp,
		&rec.Reconciliation.ReconciledBy,
		&rec.Reconciliation.PaymentReference,
		&rec.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Kind = shared.SourceKind(kind)
	rec.Reconciliation.Type = shared.ReconciliationType(recTyp)
	if rec.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("invalid stored amount %q: %w", amount, err)
	}
	if err := rec.SetPayloadJSON(payload); err != nil {
		return nil, fmt.Errorf("invalid stored payload: %w", err)
	}
	return &rec, nil
}

func (r *RecordRepository) queryRecords(ctx context.Context, op, query string, args ...any) ([]*record.FinancialRecord, error) {
	rows, err := r.querier.Query(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to "+op, "error", err)
		return nil, fmt.Errorf("failed to %s: %w", op, err)
	}
	defer rows.Close()

	var records []*record.FinancialRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			r.logger.Error("Failed to scan financial record", "error", err)
			return nil, fmt.Errorf("failed to scan financial record: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("Error iterating over financial records", "error", err)
		return nil, fmt.Errorf("error iterating over financial records: %w", err)
	}

	return records, nil
}

// Select returns records ordered by date, source and source id
func (r *RecordRepository) Select(ctx context.Context, source string, filter record.Filter, page record.Page) ([]*record.FinancialRecord, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if source != "" {
		add("source = $%d", source)
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.Currency != "" {
		add("currency = $%d", filter.Currency)
	}
	if filter.Reconciled != nil {
		add("reconciled = $%d", *filter.Reconciled)
	}
	if filter.DateFrom != nil {
		add("record_date >= $%d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		add("record_date <= $%d", *filter.DateTo)
	}

	query := "SELECT " + recordColumns + " FROM financial_records"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY record_date ASC, source ASC, source_id ASC"
	if page.Limit > 0 {
		args = append(args, page.Limit, page.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	return r.queryRecords(ctx, "select financial records", query, args...)
}

// ListSources reports every source with its kind and row count
func (r *RecordRepository) ListSources(ctx context.Context) ([]record.SourceInfo, error) {
	query := `
		SELECT source, kind, COUNT(*)
		FROM financial_records
		GROUP BY source, kind
		ORDER BY source ASC
	`

	rows, err := r.querier.Query(ctx, query)
	if err != nil {
		r.logger.Error("Failed to list sources", "error", err)
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []record.SourceInfo
	for rows.Next() {
		var (
			info record.SourceInfo
			kind string
		)
		if err := rows.Scan(&info.Source, &kind, &info.Records); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		info.Kind = shared.SourceKind(kind)
		sources = append(sources, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over sources: %w", err)
	}

	return sources, nil
}

// GetByID retrieves a record by its internal id
func (r *RecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*record.FinancialRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM financial_records
		WHERE id = $1`

	return r.getOne(ctx, id, query, id)
}

// GetForUpdate retrieves a record with a row lock
func (r *RecordRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*record.FinancialRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM financial_records
		WHERE id = $1
		FOR UPDATE`

	return r.getOne(ctx, id, query, id)
}

func (r *RecordRepository) getOne(ctx context.Context, id uuid.UUID, query string, args ...any) (*record.FinancialRecord, error) {
	rec, err := scanRecord(r.querier.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, record.ErrRecordNotFound{ID: id}
		}
		r.logger.Error("Failed to get financial record", "id", id.String(), "error", err)
		return nil, fmt.Errorf("failed to get financial record: %w", err)
	}
	return rec, nil
}

// GetBySourceID retrieves a record by its natural key. Returns ErrRecordNotFound with a nil id when absent.
func (r *RecordRepository) GetBySourceID(ctx context.Context, source, sourceID string) (*record.FinancialRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM financial_records
		WHERE source = $1 AND source_id = $2`

	rec, err := scanRecord(r.querier.QueryRow(ctx, query, source, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, record.ErrRecordNotFound{}
		}
		r.logger.Error("Failed to get financial record by source id",
			"source", source,
			"source_id", sourceID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to get financial record by source id: %w", err)
	}
	return rec, nil
}

// FindByBatchID returns the processor records of one settlement batch
func (r *RecordRepository) FindByBatchID(ctx context.Context, batchID string) ([]*record.FinancialRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM financial_records
		WHERE kind = 'processor' AND payload ->> 'settlement_batch_id' = $1
		ORDER BY source_id ASC`

	return r.queryRecords(ctx, "find records by batch id", query, batchID)
}

// FindByCounterparty returns reconciled records whose reconciled_with lists reference
func (r *RecordRepository) FindByCounterparty(ctx context.Context, reference string) ([]*record.FinancialRecord, error) {
	query := `SELECT ` + recordColumns + `
		FROM financial_records
		WHERE reconciled AND $1 = ANY(string_to_array(reconciled_with, ','))
		ORDER BY record_date ASC, source ASC, source_id ASC`

	return r.queryRecords(ctx, "find records by counterparty", query, reference)
}

// ReconciliationIndex returns the id, creation time and reconciliation state of every row of a source, keyed by source id
func (r *RecordRepository) ReconciliationIndex(ctx context.Context, source string) (map[string]record.PriorState, error) {
	query := `
		SELECT source_id, id, created_at, reconciled, reconciled_at, reconciled_with,
			reconciliation_type, reconciled_by, payment_reference
		FROM financial_records
		WHERE source = $1
	`

	rows, err := r.querier.Query(ctx, query, source)
	if err != nil {
		r.logger.Error("Failed to read reconciliation index", "source", source, "error", err)
		return nil, fmt.Errorf("failed to read reconciliation index: %w", err)
	}
	defer rows.Close()

	index := make(map[string]record.PriorState)
	for rows.Next() {
		var (
			sourceID, recTyp string
			prior            record.PriorState
		)
		err := rows.Scan(
			&sourceID,
			&prior.ID,
			&prior.CreatedAt,
			&prior.State.Reconciled,
			&prior.State.ReconciledAt,
			&prior.State.ReconciledWith,
			&recTyp,
			&prior.State.ReconciledBy,
			&prior.State.PaymentReference,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation index: %w", err)
		}
		prior.State.Type = shared.ReconciliationType(recTyp)
		index[sourceID] = prior
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over reconciliation index: %w", err)
	}

	return index, nil
}

// DeleteBySource removes every row of a source
func (r *RecordRepository) DeleteBySource(ctx context.Context, source string) (int64, error) {
	query := `
		DELETE FROM financial_records
		WHERE source = $1
	`

	result, err := r.querier.Exec(ctx, query, source)
	if err != nil {
		r.logger.Error("Failed to delete source records", "source", source, "error", err)
		return 0, fmt.Errorf("failed to delete source records: %w", err)
	}
	return result.RowsAffected(), nil
}

// InsertBatch writes records with one multi-row INSERT
func (r *RecordRepository) InsertBatch(ctx context.Context, records []*record.FinancialRecord) error {
	if len(records) == 0 {
		return nil
	}

	query, args, err := buildInsert(records)
	if err != nil {
		return err
	}

	if _, err := r.querier.Exec(ctx, query, args...); err != nil {
		r.logger.Error("Failed to insert financial records", "count", len(records), "error", err)
		return fmt.Errorf("failed to insert financial records: %w", err)
	}
	return nil
}

// UpsertBatch inserts new rows and refreshes source data of existing ones.
// Reconciliation columns of existing rows are left untouched.
func (r *RecordRepository) UpsertBatch(ctx context.Context, records []*record.FinancialRecord) error {
	if len(records) == 0 {
		return nil
	}

	query, args, err := buildInsert(records)
	if err != nil {
		return err
	}
	query += `
		ON CONFLICT (source, source_id) DO UPDATE SET
			kind = EXCLUDED.kind,
			record_date = EXCLUDED.record_date,
			amount = EXCLUDED.amount,
			currency = EXCLUDED.currency,
			description = EXCLUDED.description,
			counterparty_name = EXCLUDED.counterparty_name,
			status = EXCLUDED.status,
			payload = EXCLUDED.payload,
			updated_at = NOW()`

	if _, err := r.querier.Exec(ctx, query, args...); err != nil {
		r.logger.Error("Failed to upsert financial records", "count", len(records), "error", err)
		return fmt.Errorf("failed to upsert financial records: %w", err)
	}
	return nil
}

func buildInsert(records []*record.FinancialRecord) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO financial_records (" + insertColumns + ") VALUES ")

	args := make([]any, 0, len(records)*insertColumnCount)
	for i, rec := range records {
		payload, err := rec.PayloadJSON()
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * insertColumnCount
		sb.WriteString("(")
		for c := 1; c <= insertColumnCount; c++ {
			if c > 1 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", base+c)
			if c == 6 {
				sb.WriteString("::text::numeric")
			}
		}
		sb.WriteString(")")

		state := rec.Reconciliation
		args = append(args,
			rec.ID,
			rec.Source,
			rec.SourceID,
			string(rec.Kind),
			rec.Date,
			rec.Amount.String(),
			rec.Currency,
			rec.Description,
			rec.CounterpartyName,
			rec.Status,
			payload,
			state.Reconciled,
			state.ReconciledAt,
			state.ReconciledWith,
			string(state.Type),
			state.ReconciledBy,
			state.PaymentReference,
			rec.CreatedAt,
		)
	}
	return sb.String(), args, nil
}

// DeleteMissing removes rows of source whose source id is not in keep
func (r *RecordRepository) DeleteMissing(ctx context.Context, source string, keep []string) (int64, error) {
	// a nil slice is sent as NULL, which would make the predicate NULL and delete nothing
	if keep == nil {
		keep = []string{}
	}
	query := `
		DELETE FROM financial_records
		WHERE source = $1 AND NOT (source_id = ANY($2))
	`

	result, err := r.querier.Exec(ctx, query, source, keep)
	if err != nil {
		r.logger.Error("Failed to delete missing records", "source", source, "error", err)
		return 0, fmt.Errorf("failed to delete missing records: %w", err)
	}
	return result.RowsAffected(), nil
}

const updateReconciliationQuery = `
		UPDATE financial_records
		SET reconciled = $1, reconciled_at = $2, reconciled_with = $3, reconciliation_type = $4,
			reconciled_by = $5, payment_reference = $6, updated_at = $7
		WHERE id = $8`

// UpdateReconciliation overwrites the reconciliation fields of a record
func (r *RecordRepository) UpdateReconciliation(ctx context.Context, id uuid.UUID, state record.ReconciliationState) error {
	result, err := r.querier.Exec(ctx, updateReconciliationQuery, stateArgs(id, state)...)
	if err != nil {
		r.logger.Error("Failed to update reconciliation", "id", id.String(), "error", err)
		return fmt.Errorf("failed to update reconciliation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return record.ErrRecordNotFound{ID: id}
	}
	return nil
}

// ClaimReconciliation sets the state only while the record is unreconciled.
// Zero affected rows means another writer got there first (or the record is gone).
func (r *RecordRepository) ClaimReconciliation(ctx context.Context, id uuid.UUID, state record.ReconciliationState) error {
	query := updateReconciliationQuery + ` AND NOT reconciled`

	result, err := r.querier.Exec(ctx, query, stateArgs(id, state)...)
	if err != nil {
		r.logger.Error("Failed to claim record", "id", id.String(), "error", err)
		return fmt.Errorf("failed to claim record: %w", err)
	}

	if result.RowsAffected() == 0 {
		return record.ErrAlreadyClaimed{ID: id}
	}
	return nil
}

func stateArgs(id uuid.UUID, state record.ReconciliationState) []any {
	return []any{
		state.Reconciled,
		state.ReconciledAt,
		state.ReconciledWith,
		string(state.Type),
		state.ReconciledBy,
		state.PaymentReference,
		time.Now().UTC(),
		id,
	}
}

var _ record.Repository = (*RecordRepository)(nil)
