// Package memory provides an in-memory store.Store (for testing/dev).
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/outbox"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/google/uuid"
)

// Store keeps records and outbox messages in maps guarded by one mutex.
// RunInTx works on a copy and swaps it in on success, so transactions are serializable.
type Store struct {
	mu            sync.Mutex
	data          *dataset
	transactional bool
	records       *recordRepository
	outbox        *outboxRepository
}

type Option func(*Store)

// WithoutTransactions makes RunInTx run its function directly, without rollback
func WithoutTransactions() Option {
	return func(s *Store) { s.transactional = false }
}

func NewStore(opts ...Option) *Store {
	s := &Store{data: newDataset(), transactional: true}
	for _, opt := range opts {
		opt(s)
	}
	s.records = &recordRepository{mu: &s.mu, data: s.data}
	s.outbox = &outboxRepository{mu: &s.mu, data: s.data}
	return s
}

func (s *Store) Records() record.Repository { return s.records }

func (s *Store) Outbox() outbox.Repository { return s.outbox }

func (s *Store) Transactional() bool { return s.transactional }

func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if !s.transactional {
		return fn(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	working := s.data.clone()
	tx := &txStore{
		records: &recordRepository{mu: noLock{}, data: working},
		outbox:  &outboxRepository{mu: noLock{}, data: working},
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	*s.data = *working
	return nil
}

// FailNextInsert makes the next InsertBatch or UpsertBatch return err
func (s *Store) FailNextInsert(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.hook.insertErr = err
}

type txStore struct {
	records *recordRepository
	outbox  *outboxRepository
}

func (t *txStore) Records() record.Repository { return t.records }

func (t *txStore) Outbox() outbox.Repository { return t.outbox }

func (t *txStore) Transactional() bool { return true }

func (t *txStore) RunInTx(_ context.Context, fn func(tx store.Store) error) error {
	return fn(t)
}

type noLock struct{}

func (noLock) Lock()   {}
func (noLock) Unlock() {}

type naturalKey struct {
	source   string
	sourceID string
}

type dataset struct {
	records  map[uuid.UUID]*record.FinancialRecord
	keys     map[naturalKey]uuid.UUID
	messages []*outbox.Message
	nextID   int64
	hook     *failureHook // shared by every copy of a dataset
}

type failureHook struct {
	insertErr error
}

func newDataset() *dataset {
	return &dataset{
		records: make(map[uuid.UUID]*record.FinancialRecord),
		keys:    make(map[naturalKey]uuid.UUID),
		hook:    &failureHook{},
	}
}

func (d *dataset) clone() *dataset {
	c := &dataset{
		records:  make(map[uuid.UUID]*record.FinancialRecord, len(d.records)),
		keys:     make(map[naturalKey]uuid.UUID, len(d.keys)),
		messages: make([]*outbox.Message, len(d.messages)),
		nextID:   d.nextID,
		hook:     d.hook,
	}
	for id, rec := range d.records {
		c.records[id] = rec.Clone()
	}
	for k, id := range d.keys {
		c.keys[k] = id
	}
	for i, m := range d.messages {
		msg := *m
		c.messages[i] = &msg
	}
	return c
}

func (d *dataset) takeInsertErr() error {
	err := d.hook.insertErr
	d.hook.insertErr = nil
	return err
}

func (d *dataset) put(rec *record.FinancialRecord) {
	d.records[rec.ID] = rec.Clone()
	d.keys[naturalKey{rec.Source, rec.SourceID}] = rec.ID
}

func (d *dataset) remove(rec *record.FinancialRecord) {
	delete(d.records, rec.ID)
	delete(d.keys, naturalKey{rec.Source, rec.SourceID})
}

func sortRecords(records []*record.FinancialRecord) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.SourceID < b.SourceID
	})
}

func (d *dataset) matching(pred func(*record.FinancialRecord) bool) []*record.FinancialRecord {
	var out []*record.FinancialRecord
	for _, rec := range d.records {
		if pred(rec) {
			out = append(out, rec.Clone())
		}
	}
	sortRecords(out)
	return out
}

type recordRepository struct {
	mu   sync.Locker
	data *dataset
}

func (r *recordRepository) Select(_ context.Context, source string, filter record.Filter, page record.Page) ([]*record.FinancialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.data.matching(func(rec *record.FinancialRecord) bool {
		switch {
		case source != "" && rec.Source != source:
			return false
		case filter.Kind != "" && rec.Kind != filter.Kind:
			return false
		case filter.Currency != "" && rec.Currency != filter.Currency:
			return false
		case filter.Reconciled != nil && rec.Reconciliation.Reconciled != *filter.Reconciled:
			return false
		case filter.DateFrom != nil && rec.Date.Before(*filter.DateFrom):
			return false
		case filter.DateTo != nil && rec.Date.After(*filter.DateTo):
			return false
		}
		return true
	})

	if page.Limit <= 0 {
		if page.Offset >= len(out) {
			return nil, nil
		}
		return out[page.Offset:], nil
	}
	if page.Offset >= len(out) {
		return nil, nil
	}
	end := page.Offset + page.Limit
	if end > len(out) {
		end = len(out)
	}
	return out[page.Offset:end], nil
}

func (r *recordRepository) ListSources(_ context.Context) ([]record.SourceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	type sourceKind struct {
		source string
		kind   shared.SourceKind
	}
	counts := make(map[sourceKind]int64)
	for _, rec := range r.data.records {
		counts[sourceKind{rec.Source, rec.Kind}]++
	}
	out := make([]record.SourceInfo, 0, len(counts))
	for k, n := range counts {
		out = append(out, record.SourceInfo{Source: k.source, Kind: k.kind, Records: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		return out[i].Kind < out[j].Kind
	})
	return out, nil
}

func (r *recordRepository) GetByID(_ context.Context, id uuid.UUID) (*record.FinancialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.data.records[id]
	if !ok {
		return nil, record.ErrRecordNotFound{ID: id}
	}
	return rec.Clone(), nil
}

// GetForUpdate needs no extra locking here: transactions already run one at a time.
func (r *recordRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*record.FinancialRecord, error) {
	return r.GetByID(ctx, id)
}

func (r *recordRepository) GetBySourceID(_ context.Context, source, sourceID string) (*record.FinancialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.data.keys[naturalKey{source, sourceID}]
	if !ok {
		return nil, record.ErrRecordNotFound{}
	}
	return r.data.records[id].Clone(), nil
}

func (r *recordRepository) FindByBatchID(_ context.Context, batchID string) ([]*record.FinancialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.data.matching(func(rec *record.FinancialRecord) bool {
		return rec.Kind == shared.SourceKindProcessor && rec.SettlementBatchID() == batchID
	})
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (r *recordRepository) FindByCounterparty(_ context.Context, reference string) ([]*record.FinancialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.data.matching(func(rec *record.FinancialRecord) bool {
		if !rec.Reconciliation.Reconciled {
			return false
		}
		for _, part := range strings.Split(rec.Reconciliation.ReconciledWith, ",") {
			if part == reference {
				return true
			}
		}
		return false
	}), nil
}

func (r *recordRepository) ReconciliationIndex(_ context.Context, source string) (map[string]record.PriorState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	index := make(map[string]record.PriorState)
	for _, rec := range r.data.records {
		if rec.Source != source {
			continue
		}
		index[rec.SourceID] = record.PriorState{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			State:     rec.Clone().Reconciliation,
		}
	}
	return index, nil
}

func (r *recordRepository) DeleteBySource(_ context.Context, source string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var deleted int64
	for _, rec := range r.data.records {
		if rec.Source == source {
			r.data.remove(rec)
			deleted++
		}
	}
	return deleted, nil
}

func (r *recordRepository) InsertBatch(_ context.Context, records []*record.FinancialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.data.takeInsertErr(); err != nil {
		return err
	}

	seen := make(map[naturalKey]bool, len(records))
	var dup []string
	for _, rec := range records {
		k := naturalKey{rec.Source, rec.SourceID}
		if _, exists := r.data.keys[k]; exists || seen[k] {
			dup = append(dup, rec.SourceID)
		}
		seen[k] = true
	}
	if len(dup) > 0 {
		return record.IntegrityError{Source: records[0].Source, SourceIDs: dup, Reason: "duplicate (source, source_id)"}
	}

	for _, rec := range records {
		r.data.put(rec)
	}
	return nil
}

func (r *recordRepository) UpsertBatch(_ context.Context, records []*record.FinancialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.data.takeInsertErr(); err != nil {
		return err
	}

	for _, rec := range records {
		id, exists := r.data.keys[naturalKey{rec.Source, rec.SourceID}]
		if !exists {
			r.data.put(rec)
			continue
		}
		current := r.data.records[id]
		updated := rec.Clone()
		updated.ID = current.ID
		updated.CreatedAt = current.CreatedAt
		updated.Reconciliation = current.Reconciliation
		r.data.records[id] = updated
	}
	return nil
}

func (r *recordRepository) DeleteMissing(_ context.Context, source string, keep []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := make(map[string]bool, len(keep))
	for _, id := range keep {
		kept[id] = true
	}
	var deleted int64
	for _, rec := range r.data.records {
		if rec.Source == source && !kept[rec.SourceID] {
			r.data.remove(rec)
			deleted++
		}
	}
	return deleted, nil
}

func (r *recordRepository) UpdateReconciliation(_ context.Context, id uuid.UUID, state record.ReconciliationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.data.records[id]
	if !ok {
		return record.ErrRecordNotFound{ID: id}
	}
	updated := rec.Clone()
	updated.Reconciliation = state
	r.data.records[id] = updated.Clone()
	return nil
}

func (r *recordRepository) ClaimReconciliation(_ context.Context, id uuid.UUID, state record.ReconciliationState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.data.records[id]
	if !ok || rec.Reconciliation.Reconciled {
		return record.ErrAlreadyClaimed{ID: id}
	}
	updated := rec.Clone()
	updated.Reconciliation = state
	r.data.records[id] = updated.Clone()
	return nil
}

type outboxRepository struct {
	mu   sync.Locker
	data *dataset
}

func (o *outboxRepository) Create(_ context.Context, message *outbox.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.data.nextID++
	message.ID = o.data.nextID
	msg := *message
	o.data.messages = append(o.data.messages, &msg)
	return nil
}

func (o *outboxRepository) GetPending(_ context.Context, limit int) ([]*outbox.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var out []*outbox.Message
	for _, m := range o.data.messages {
		if m.Status != shared.OutboxStatusPending {
			continue
		}
		msg := *m
		out = append(out, &msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (o *outboxRepository) find(id int64) (*outbox.Message, int) {
	for i, m := range o.data.messages {
		if m.ID == id {
			return m, i
		}
	}
	return nil, -1
}

func (o *outboxRepository) UpdateStatus(_ context.Context, id int64, status shared.OutboxStatus) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	m, _ := o.find(id)
	if m == nil {
		return outbox.ErrMessageNotFound{ID: id}
	}
	m.SetStatus(status)
	return nil
}

func (o *outboxRepository) IncrementAttempts(_ context.Context, id int64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	m, _ := o.find(id)
	if m == nil {
		return outbox.ErrMessageNotFound{ID: id}
	}
	m.IncrementAttempts()
	return nil
}

func (o *outboxRepository) PurgeProcessed(_ context.Context, before time.Time) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	kept := o.data.messages[:0]
	var purged int64
	for _, m := range o.data.messages {
		if m.Status == shared.OutboxStatusProcessed && m.CreatedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, m)
	}
	o.data.messages = kept
	return purged, nil
}

func (o *outboxRepository) GetByEventID(_ context.Context, eventID uuid.UUID) (*outbox.Message, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, m := range o.data.messages {
		if m.EventID == eventID {
			msg := *m
			return &msg, nil
		}
	}
	return nil, outbox.ErrMessageNotFound{}
}

var (
	_ store.Store       = (*Store)(nil)
	_ store.Store       = (*txStore)(nil)
	_ record.Repository = (*recordRepository)(nil)
	_ outbox.Repository = (*outboxRepository)(nil)
)
