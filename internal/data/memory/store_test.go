package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/backoffice-reconciliation/internal/domain/record"
	"github.com/backoffice-reconciliation/internal/domain/shared"
	"github.com/backoffice-reconciliation/internal/domain/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bankRow(sourceID string, day int, amount string) *record.FinancialRecord {
	return &record.FinancialRecord{
		ID:        uuid.New(),
		Source:    "bank_bankinter_eur",
		SourceID:  sourceID,
		Kind:      shared.SourceKindBank,
		Date:      time.Date(2025, 6, day, 0, 0, 0, 0, time.UTC),
		Amount:    decimal.RequireFromString(amount),
		Currency:  "EUR",
		Bank:      &record.BankPayload{AccountLabel: "Bankinter EUR"},
		CreatedAt: time.Now().UTC(),
	}
}

func TestStore_SelectOrderingAndPaging(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Records().InsertBatch(ctx, []*record.FinancialRecord{
		bankRow("c", 12, "1"), bankRow("a", 11, "2"), bankRow("b", 11, "3"),
	}))

	all, err := s.Records().Select(ctx, "bank_bankinter_eur", record.Filter{}, record.Page{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].SourceID, all[1].SourceID, all[2].SourceID})

	page, err := s.Records().Select(ctx, "", record.Filter{Kind: shared.SourceKindBank}, record.Page{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].SourceID)

	// callers get copies
	all[0].Amount = decimal.NewFromInt(999)
	again, _ := s.Records().GetBySourceID(ctx, "bank_bankinter_eur", "a")
	assert.True(t, again.Amount.Equal(decimal.NewFromInt(2)))
}

func TestStore_RunInTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.Records().InsertBatch(ctx, []*record.FinancialRecord{bankRow("a", 11, "2")}))

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(tx store.Store) error {
		if _, err := tx.Records().DeleteBySource(ctx, "bank_bankinter_eur"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	rows, err := s.Records().Select(ctx, "bank_bankinter_eur", record.Filter{}, record.Page{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStore_FailNextInsert(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	injected := errors.New("disk full")
	s.FailNextInsert(injected)

	err := s.RunInTx(ctx, func(tx store.Store) error {
		return tx.Records().InsertBatch(ctx, []*record.FinancialRecord{bankRow("a", 11, "2")})
	})
	assert.ErrorIs(t, err, injected)

	// the hook fires once
	assert.NoError(t, s.Records().InsertBatch(ctx, []*record.FinancialRecord{bankRow("a", 11, "2")}))
}

func TestStore_InsertBatchRejectsDuplicates(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	err := s.Records().InsertBatch(ctx, []*record.FinancialRecord{bankRow("a", 11, "2"), bankRow("a", 12, "3")})
	var integrity record.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, []string{"a"}, integrity.SourceIDs)
}

func TestStore_UpsertKeepsReconciliation(t *testing.T) {
	ctx := context.Background()
	s := NewStore(WithoutTransactions())
	assert.False(t, s.Transactional())

	row := bankRow("a", 11, "200")
	require.NoError(t, s.Records().InsertBatch(ctx, []*record.FinancialRecord{row}))
	state := record.Automatic(time.Now(), "batch/B1", "")
	require.NoError(t, s.Records().UpdateReconciliation(ctx, row.ID, state))

	refreshed := bankRow("a", 11, "200")
	refreshed.Description = "SEPA CREDIT"
	require.NoError(t, s.Records().UpsertBatch(ctx, []*record.FinancialRecord{refreshed, bankRow("b", 12, "5")}))

	got, err := s.Records().GetBySourceID(ctx, "bank_bankinter_eur", "a")
	require.NoError(t, err)
	assert.Equal(t, row.ID, got.ID)
	assert.Equal(t, "SEPA CREDIT", got.Description)
	assert.True(t, state.Equal(got.Reconciliation))

	deleted, err := s.Records().DeleteMissing(ctx, "bank_bankinter_eur", []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = s.Records().DeleteMissing(ctx, "bank_bankinter_eur", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	_, err = s.Records().GetBySourceID(ctx, "bank_bankinter_eur", "a")
	assert.ErrorIs(t, err, record.ErrRecordNotFound{})
}

func TestStore_ClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	row := bankRow("a", 11, "200")
	require.NoError(t, s.Records().InsertBatch(ctx, []*record.FinancialRecord{row}))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.RunInTx(ctx, func(tx store.Store) error {
				return tx.Records().ClaimReconciliation(ctx, row.ID, record.Automatic(time.Now(), record.BatchReference("B"+string(rune('A'+i))), ""))
			})
			if err == nil {
				wins.Add(1)
			} else {
				assert.ErrorIs(t, err, record.ErrAlreadyClaimed{ID: row.ID})
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestStore_FindByCounterpartyAndBatch(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	row := bankRow("a", 11, "200")
	txn := &record.FinancialRecord{
		ID: uuid.New(), Source: "stripe_eur", SourceID: "txn_1", Kind: shared.SourceKindProcessor,
		Date: time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC), Amount: decimal.NewFromInt(200), Currency: "EUR",
		Processor: &record.ProcessorPayload{SettlementBatchID: "B1", SettlementAmount: decimal.NewFromInt(200)},
	}
	txn.Reconciliation = record.Automatic(time.Now(), "bank_bankinter_eur/x,"+row.Reference(), "")
	require.NoError(t, s.Records().InsertBatch(ctx, []*record.FinancialRecord{row, txn}))

	linked, err := s.Records().FindByCounterparty(ctx, row.Reference())
	require.NoError(t, err)
	require.Len(t, linked, 1)
	assert.Equal(t, txn.ID, linked[0].ID)

	members, err := s.Records().FindByBatchID(ctx, "B1")
	require.NoError(t, err)
	require.Len(t, members, 1)

	sources, err := s.Records().ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []record.SourceInfo{
		{Source: "bank_bankinter_eur", Kind: shared.SourceKindBank, Records: 1},
		{Source: "stripe_eur", Kind: shared.SourceKindProcessor, Records: 1},
	}, sources)
}
