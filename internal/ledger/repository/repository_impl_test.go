package repository

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rafaelgcostaa/adslibrary/internal/ledger/domain"
	"github.com/rafaelgcostaa/adslibrary/internal/ledger/ledgertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDeltaGuard(t *testing.T) {
	db := ledgertest.OpenDB(t)
	repo := Provide()
	ctx := context.Background()
	id := ledgertest.NewAccountID()
	ledgertest.SeedAccount(t, db, id, 1000)

	balance, ok, err := repo.ApplyDelta(ctx, db, id, -600, true, ledgertest.Epoch)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.Credits(400), balance)

	_, ok, err = repo.ApplyDelta(ctx, db, id, -600, true, ledgertest.Epoch)
	require.NoError(t, err)
	assert.False(t, ok)

	account, err := repo.FindAccount(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Credits(400), account.Balance)

	_, ok, err = repo.ApplyDelta(ctx, db, ledgertest.NewAccountID(), 100, false, ledgertest.Epoch)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInsertAccountIgnoresDuplicate(t *testing.T) {
	db := ledgertest.OpenDB(t)
	repo := Provide()
	ctx := context.Background()
	account := &domain.Account{
		ID:        ledgertest.NewAccountID(),
		Status:    domain.AccountStatusActive,
		CreatedAt: ledgertest.Epoch,
		UpdatedAt: ledgertest.Epoch,
	}

	inserted, err := repo.InsertAccount(ctx, db, account)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.InsertAccount(ctx, db, account)
	require.NoError(t, err)
	assert.False(t, inserted)

	missing, err := repo.FindAccount(ctx, db, ledgertest.NewAccountID())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestInsertTransactionIdempotencyConflict(t *testing.T) {
	db := ledgertest.OpenDB(t)
	repo := Provide()
	ctx := context.Background()
	node := ledgertest.MustNode(t)
	id := ledgertest.NewAccountID()
	ledgertest.SeedAccount(t, db, id, 0)

	key := "charge:req-1"
	record := &domain.Transaction{
		ID:           node.Generate(),
		AccountID:    id,
		Amount:       -250,
		BalanceAfter: 750,
		Kind:         domain.KindConsumption,
		ActionType:   domain.ActionSearch,
		CreatedAt:    ledgertest.Epoch,
	}
	record.IdempotencyKey = &key

	inserted, err := repo.InsertTransaction(ctx, db, record)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := *record
	dup.ID = node.Generate()
	inserted, err = repo.InsertTransaction(ctx, db, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	// Transactions without a key never collide.
	for i := 0; i < 2; i++ {
		inserted, err = repo.InsertTransaction(ctx, db, &domain.Transaction{
			ID:        node.Generate(),
			AccountID: id,
			Amount:    100,
			Kind:      domain.KindPurchase,
			CreatedAt: ledgertest.Epoch,
		})
		require.NoError(t, err)
		assert.True(t, inserted)
	}

	found, err := repo.FindByIdempotencyKey(ctx, db, id, key)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, record.ID, found.ID)

	other, err := repo.FindByIdempotencyKey(ctx, db, ledgertest.NewAccountID(), key)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSumAndSummarize(t *testing.T) {
	db := ledgertest.OpenDB(t)
	repo := Provide()
	ctx := context.Background()
	node := ledgertest.MustNode(t)
	id := ledgertest.NewAccountID()
	ledgertest.SeedAccount(t, db, id, 0)

	entries := []struct {
		amount domain.Credits
		kind   domain.Kind
		action domain.ActionType
	}{
		{5000, domain.KindPurchase, domain.ActionPurchase},
		{-250, domain.KindConsumption, domain.ActionSearch},
		{-250, domain.KindConsumption, domain.ActionSearch},
		{-1000, domain.KindConsumption, domain.ActionImageGeneration},
		{250, domain.KindRefund, domain.ActionRefund},
	}
	at := ledgertest.Epoch
	for _, e := range entries {
		at = at.Add(time.Second)
		_, err := repo.InsertTransaction(ctx, db, &domain.Transaction{
			ID: node.Generate(), AccountID: id, Amount: e.amount, Kind: e.kind, ActionType: e.action, CreatedAt: at,
		})
		require.NoError(t, err)
	}

	sum, count, err := repo.SumTransactions(ctx, db, id)
	require.NoError(t, err)
	assert.Equal(t, domain.Credits(3750), sum)
	assert.Equal(t, int64(5), count)

	totals, err := repo.Summarize(ctx, db, id)
	require.NoError(t, err)
	require.Len(t, totals, 2)
	assert.Equal(t, domain.ActionImageGeneration, totals[0].ActionType)
	assert.Equal(t, domain.Credits(1000), totals[0].Spent)
	assert.Equal(t, domain.ActionSearch, totals[1].ActionType)
	assert.Equal(t, int64(2), totals[1].Count)
	assert.Equal(t, domain.Credits(500), totals[1].Spent)

	last, err := repo.LastTransactionBefore(ctx, db, id, ledgertest.Epoch.Add(3*time.Second))
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, last.CreatedAt.Equal(ledgertest.Epoch.Add(2*time.Second)))

	none, err := repo.LastTransactionBefore(ctx, db, id, ledgertest.Epoch)
	require.NoError(t, err)
	assert.Nil(t, none)

	window, err := repo.ListTransactions(ctx, db, id, domain.TransactionFilter{
		From: ledgertest.Epoch.Add(2 * time.Second),
		To:   ledgertest.Epoch.Add(4 * time.Second),
	}, 0, nil)
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func TestListAccountIDsPages(t *testing.T) {
	db := ledgertest.OpenDB(t)
	repo := Provide()
	ctx := context.Background()

	var want []string
	for i := 0; i < 5; i++ {
		id := ledgertest.NewAccountID()
		ledgertest.SeedAccount(t, db, id, 0)
		want = append(want, id)
	}
	sort.Strings(want)

	var got []string
	after := ""
	for {
		ids, err := repo.ListAccountIDs(ctx, db, after, 2)
		require.NoError(t, err)
		if len(ids) == 0 {
			break
		}
		got = append(got, ids...)
		after = ids[len(ids)-1]
	}
	assert.Equal(t, want, got)
}
