// Package syncer pulls upstream pages for a source and replaces that source's records
// without losing reconciliation decisions made on earlier versions of the same rows.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/backoffice-reconciliation/internal/config"
	"github.com/backoffice-reconciliation/internal/domain/feed"
	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"golang.org/x/sync/singleflight"
)

// Options control paging, retries and filtering
type Options struct {
	PageSize         int
	InsertBatchSize  int
	FetchTimeout     time.Duration
	MaxAttempts      int
	Backoff          time.Duration
	MinEffectiveDate *time.Time
	ExcludeStatuses  []string
}

// OptionsFromConfig maps the sync configuration section
func OptionsFromConfig(cfg *config.SyncConfig) Options {
	return Options{
		PageSize:         cfg.PageSize,
		InsertBatchSize:  cfg.InsertBatchSize,
		FetchTimeout:     cfg.FetchTimeout,
		MaxAttempts:      cfg.FetchMaxAttempts,
		Backoff:          cfg.FetchBackoff,
		MinEffectiveDate: cfg.MinEffectiveDate,
		ExcludeStatuses:  cfg.ExcludeStatuses,
	}
}

func (o Options) withDefaults() Options {
	if o.PageSize <= 0 {
		o.PageSize = 1000
	}
	if o.InsertBatchSize <= 0 {
		o.InsertBatchSize = 100
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 25 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	return o
}

// Result summarizes one sync. Preserved counts reconciled states carried over to the new rows.
type Result struct {
	Source    string `json:"source"`
	Inserted  int    `json:"inserted"`
	Preserved int    `json:"preserved"`
	Failed    int    `json:"failed"`
	Skipped   bool   `json:"skipped"`
}

// Syncer merges upstream data into the record store
type Syncer struct {
	store      store.Store
	feed       feed.Feed
	classifier *record.Classifier
	opts       Options
	excluded   map[string]bool
	inflight   singleflight.Group
	now        func() time.Time
	logger     *slog.Logger
}

func New(logger *slog.Logger, st store.Store, f feed.Feed, classifier *record.Classifier, opts Options) *Syncer {
	opts = opts.withDefaults()
	excluded := make(map[string]bool, len(opts.ExcludeStatuses))
	for _, status := range opts.ExcludeStatuses {
		excluded[strings.ToLower(strings.TrimSpace(status))] = true
	}
	return &Syncer{
		store:      st,
		feed:       f,
		classifier: classifier,
		opts:       opts,
		excluded:   excluded,
		now:        time.Now,
		logger:     logger,
	}
}

// Sync fetches every page of source and merges it. Concurrent calls for the same
// source share one run and receive the same result. The shared run is detached from
// the caller that started it, so a caller leaving early never fails the others; it is
// bounded by the per-page timeout and attempt limit.
func (s *Syncer) Sync(ctx context.Context, source string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{Source: source}, err
	}

	workCtx := context.WithoutCancel(ctx)
	ch := s.inflight.DoChan(source, func() (interface{}, error) {
		return s.sync(workCtx, source)
	})

	select {
	case <-ctx.Done():
		s.logger.Warn("Caller left before sync finished, run continues", "source", source, "error", ctx.Err())
		return Result{Source: source}, ctx.Err()
	case out := <-ch:
		if out.Shared {
			s.logger.Debug("Joined in-flight sync", "source", source)
		}
		res, _ := out.Val.(Result)
		return res, out.Err
	}
}

func (s *Syncer) sync(ctx context.Context, source string) (Result, error) {
	result := Result{Source: source}
	logger := s.logger.With("source", source)

	raws, err := s.fetchAll(ctx, source)
	if err != nil {
		logger.Error("Sync aborted, store left untouched", "error", err)
		return result, err
	}
	if len(raws) == 0 {
		logger.Info("Upstream returned no rows, skipping sync")
		result.Skipped = true
		return result, nil
	}

	kind := s.classifier.KindOf(source)
	now := s.now()
	var records []*record.FinancialRecord
	for _, raw := range raws {
		if s.filtered(raw) {
			continue
		}
		rec, err := toRecord(source, kind, raw, now)
		if err != nil {
			logger.Warn("Dropping invalid upstream row", "source_id", raw.ID, "error", err)
			result.Failed++
			continue
		}
		if s.opts.MinEffectiveDate != nil && rec.Date.Before(*s.opts.MinEffectiveDate) {
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		logger.Info("No rows left after filtering, skipping sync", "fetched", len(raws), "failed", result.Failed)
		result.Skipped = true
		return result, nil
	}

	batches, rejected := s.partition(source, records)
	for _, ierr := range rejected {
		logger.Error("Skipping batch with duplicate source ids", "source_ids", ierr.SourceIDs, "error", ierr)
		result.Failed += len(ierr.members)
	}
	if len(batches) == 0 {
		logger.Warn("Every insert batch was rejected, skipping sync", "failed", result.Failed)
		result.Skipped = true
		return result, nil
	}
	protected := protectedIDs(batches, rejected)

	if s.store.Transactional() {
		err = s.store.RunInTx(ctx, func(tx store.Store) error {
			return s.replace(ctx, tx, source, batches, protected, &result)
		})
	} else {
		err = s.upsertInPlace(ctx, source, batches, protected, &result)
	}
	if err != nil {
		logger.Error("Sync failed", "error", err)
		return Result{Source: source, Failed: result.Failed}, fmt.Errorf("failed to sync source %s: %w", source, err)
	}

	logger.Info("Sync completed",
		"inserted", result.Inserted,
		"preserved", result.Preserved,
		"failed", result.Failed,
	)
	return result, nil
}

// replace runs inside one transaction: read prior states, delete the source, insert in batches.
// Stored rows whose ids only arrived in rejected batches are left as they are.
func (s *Syncer) replace(ctx context.Context, tx store.Store, source string, batches [][]*record.FinancialRecord, protected []string, result *Result) error {
	prior, err := tx.Records().ReconciliationIndex(ctx, source)
	if err != nil {
		return err
	}
	if len(protected) == 0 {
		_, err = tx.Records().DeleteBySource(ctx, source)
	} else {
		_, err = tx.Records().DeleteMissing(ctx, source, protected)
	}
	if err != nil {
		return err
	}

	inserted, preserved := 0, 0
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		preserved += reattach(batch, prior)
		if err := tx.Records().InsertBatch(ctx, batch); err != nil {
			return err
		}
		inserted += len(batch)
	}
	result.Inserted, result.Preserved = inserted, preserved
	return nil
}

// upsertInPlace is used when the store cannot run transactions: the source is never empty at any point.
func (s *Syncer) upsertInPlace(ctx context.Context, source string, batches [][]*record.FinancialRecord, protected []string, result *Result) error {
	prior, err := s.store.Records().ReconciliationIndex(ctx, source)
	if err != nil {
		return err
	}

	keep := append([]string(nil), protected...)
	for _, batch := range batches {
		if err := ctx.Err(); err != nil {
			return err
		}
		preserved := reattach(batch, prior)
		if err := s.store.Records().UpsertBatch(ctx, batch); err != nil {
			return err
		}
		result.Inserted += len(batch)
		result.Preserved += preserved
		for _, rec := range batch {
			keep = append(keep, rec.SourceID)
		}
	}

	if _, err := s.store.Records().DeleteMissing(ctx, source, keep); err != nil {
		return err
	}
	return nil
}

// reattach carries id, creation time and reconciliation state over from rows seen before
func reattach(batch []*record.FinancialRecord, prior map[string]record.PriorState) int {
	preserved := 0
	for _, rec := range batch {
		p, ok := prior[rec.SourceID]
		if !ok {
			continue
		}
		rec.ID = p.ID
		rec.CreatedAt = p.CreatedAt
		rec.Reconciliation = p.State
		if p.State.Reconciled {
			preserved++
		}
	}
	return preserved
}

type rejectedBatch struct {
	record.IntegrityError
	members []string
}

// protectedIDs returns source ids that appear only in rejected batches
func protectedIDs(accepted [][]*record.FinancialRecord, rejected []rejectedBatch) []string {
	inAccepted := make(map[string]bool)
	for _, batch := range accepted {
		for _, rec := range batch {
			inAccepted[rec.SourceID] = true
		}
	}
	var ids []string
	seen := make(map[string]bool)
	for _, rb := range rejected {
		for _, id := range rb.members {
			if !inAccepted[id] && !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// partition splits records into insert batches and rejects every batch that repeats a source id seen earlier in the payload
func (s *Syncer) partition(source string, records []*record.FinancialRecord) ([][]*record.FinancialRecord, []rejectedBatch) {
	var (
		batches  [][]*record.FinancialRecord
		rejected []rejectedBatch
	)
	seen := make(map[string]bool, len(records))
	for start := 0; start < len(records); start += s.opts.InsertBatchSize {
		end := start + s.opts.InsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[start:end]

		var dups []string
		ids := make([]string, 0, len(batch))
		for _, rec := range batch {
			if seen[rec.SourceID] {
				dups = append(dups, rec.SourceID)
			}
			seen[rec.SourceID] = true
			ids = append(ids, rec.SourceID)
		}
		if len(dups) > 0 {
			rejected = append(rejected, rejectedBatch{
				IntegrityError: record.IntegrityError{Source: source, SourceIDs: dups, Reason: "duplicate source id in payload"},
				members:        ids,
			})
			continue
		}
		batches = append(batches, batch)
	}
	return batches, rejected
}

func (s *Syncer) filtered(raw feed.RawRecord) bool {
	if raw.Status != "" && s.excluded[strings.ToLower(strings.TrimSpace(raw.Status))] {
		return true
	}
	return isTestMode(raw.Metadata)
}

// fetchAll reads pages until a short page. Nothing is written until every page is in.
func (s *Syncer) fetchAll(ctx context.Context, source string) ([]feed.RawRecord, error) {
	var all []feed.RawRecord
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.fetchPage(ctx, source, offset)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < s.opts.PageSize {
			return all, nil
		}
		offset += len(page)
	}
}

func (s *Syncer) fetchPage(ctx context.Context, source string, offset int) ([]feed.RawRecord, error) {
	backoff := s.opts.Backoff
	for attempt := 1; ; attempt++ {
		pageCtx, cancel := context.WithTimeout(ctx, s.opts.FetchTimeout)
		page, err := s.feed.FetchPage(pageCtx, source, offset, s.opts.PageSize)
		cancel()
		if err == nil {
			return page, nil
		}

		var fetchErr *feed.UpstreamFetchError
		if !errors.As(err, &fetchErr) {
			fetchErr = &feed.UpstreamFetchError{
				Source:    source,
				Offset:    offset,
				Retryable: errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil,
				Err:       err,
			}
		}
		if !fetchErr.Retryable || attempt >= s.opts.MaxAttempts || ctx.Err() != nil {
			return nil, fetchErr
		}

		s.logger.Warn("Upstream fetch failed, retrying",
			"source", source,
			"offset", offset,
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
