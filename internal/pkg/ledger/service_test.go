package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

func TestMutateDebitThenInsufficient(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	ctx := context.Background()
	createFundedAccount(t, db, svc, "acct-1", 10)

	entry, err := svc.Mutate(ctx, MutateInput{
		AccountID:      "acct-1",
		Amount:         -6,
		Kind:           models.LedgerKindUsage,
		Description:    "Style Transfer processing",
		IdempotencyKey: "operation:a",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), entry.BalanceAfter)
	assert.True(t, entry.IsDebit())

	_, err = svc.Mutate(ctx, MutateInput{
		AccountID:      "acct-1",
		Amount:         -6,
		Kind:           models.LedgerKindUsage,
		Description:    "Style Transfer processing",
		IdempotencyKey: "operation:b",
	})
	assert.ErrorIs(t, err, ErrInsufficientCredits)

	balance, err := svc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(4), balance)

	entries, total, err := svc.Entries(ctx, "acct-1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Len(t, entries, 2)
	assert.NoError(t, svc.Verify(ctx, "acct-1"))
}

func TestMutateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	ctx := context.Background()
	createFundedAccount(t, db, svc, "acct-1", 0)

	in := MutateInput{
		AccountID:      "acct-1",
		Amount:         500,
		Kind:           models.LedgerKindSubscriptionBonus,
		Description:    "Subscription bonus",
		IdempotencyKey: "evt_1",
	}
	first, err := svc.Mutate(ctx, in)
	require.NoError(t, err)
	second, err := svc.Mutate(ctx, in)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.BalanceAfter, second.BalanceAfter)

	balance, err := svc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestMutateSameKeyDifferentAccounts(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	ctx := context.Background()
	createFundedAccount(t, db, svc, "acct-1", 0)
	createFundedAccount(t, db, svc, "acct-2", 0)

	for _, id := range []string{"acct-1", "acct-2"} {
		_, err := svc.Mutate(ctx, MutateInput{AccountID: id, Amount: 5, Kind: models.LedgerKindPurchase, IdempotencyKey: "shared"})
		require.NoError(t, err)
	}
	for _, id := range []string{"acct-1", "acct-2"} {
		balance, err := svc.Balance(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, int64(5), balance, id)
	}
}

func TestMutateUnknownAccount(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)

	_, err := svc.Mutate(context.Background(), MutateInput{AccountID: "ghost", Amount: 5, Kind: models.LedgerKindPurchase})
	assert.ErrorIs(t, err, ErrNotFound)

	var count int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMutateRejectsInvalidInput(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	createFundedAccount(t, db, svc, "acct-1", 0)

	tests := []struct {
		name string
		in   MutateInput
	}{
		{"zero amount", MutateInput{AccountID: "acct-1", Amount: 0, Kind: models.LedgerKindPurchase}},
		{"missing account", MutateInput{Amount: 1, Kind: models.LedgerKindPurchase}},
		{"unknown kind", MutateInput{AccountID: "acct-1", Amount: 1, Kind: "gift"}},
		{"too large", MutateInput{AccountID: "acct-1", Amount: MaxMutationAmount + 1, Kind: models.LedgerKindPurchase}},
		{"too small", MutateInput{AccountID: "acct-1", Amount: -MaxMutationAmount - 1, Kind: models.LedgerKindUsage}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Mutate(context.Background(), tt.in)
			assert.ErrorIs(t, err, ErrInvalidInput)
		})
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	ctx := context.Background()
	createFundedAccount(t, db, svc, "acct-1", 10)

	const workers = 8
	const cost = 3
	var succeeded, denied int32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Mutate(ctx, MutateInput{
				AccountID:      "acct-1",
				Amount:         -cost,
				Kind:           models.LedgerKindUsage,
				IdempotencyKey: fmt.Sprintf("operation:%d", i),
			})
			switch {
			case err == nil:
				atomic.AddInt32(&succeeded, 1)
			case errors.Is(err, ErrInsufficientCredits):
				atomic.AddInt32(&denied, 1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(10/cost), succeeded)
	assert.Equal(t, int32(workers-10/cost), denied)

	balance, err := svc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10%cost), balance)
	assert.NoError(t, svc.Verify(ctx, "acct-1"))
}

func TestConcurrentSameKeyAppliesOnce(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	ctx := context.Background()
	createFundedAccount(t, db, svc, "acct-1", 0)

	var wg sync.WaitGroup
	ids := make([]uint, 5)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entry, err := svc.Mutate(ctx, MutateInput{
				AccountID:      "acct-1",
				Amount:         500,
				Kind:           models.LedgerKindSubscriptionBonus,
				IdempotencyKey: "evt_1",
			})
			if assert.NoError(t, err) {
				ids[i] = entry.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		assert.Equal(t, ids[0], id)
	}
	balance, err := svc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(500), balance)
}

func TestBalanceEqualsEntrySumAfterMixedMutations(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	ctx := context.Background()
	createFundedAccount(t, db, svc, "acct-1", 20)

	steps := []MutateInput{
		{Amount: -3, Kind: models.LedgerKindUsage, IdempotencyKey: "operation:1"},
		{Amount: 100, Kind: models.LedgerKindSubscriptionBonus, IdempotencyKey: "evt_a"},
		{Amount: -50, Kind: models.LedgerKindAdminAdjustment},
		{Amount: -500, Kind: models.LedgerKindUsage, IdempotencyKey: "operation:2"},
		{Amount: 100, Kind: models.LedgerKindSubscriptionBonus, IdempotencyKey: "evt_a"},
		{Amount: -67, Kind: models.LedgerKindAdminAdjustment},
	}
	for _, step := range steps {
		step.AccountID = "acct-1"
		_, _ = svc.Mutate(ctx, step)

		balance, err := svc.Balance(ctx, "acct-1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, balance, int64(0))
		assert.NoError(t, svc.Verify(ctx, "acct-1"))
	}

	balance, err := svc.Balance(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestVerifyDetectsDrift(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	ctx := context.Background()
	createFundedAccount(t, db, svc, "acct-1", 10)

	require.NoError(t, db.Model(&models.Account{}).Where("id = ?", "acct-1").Update("credits", 11).Error)

	assert.ErrorIs(t, svc.Verify(ctx, "acct-1"), ErrBalanceMismatch)
}

func TestEntriesPaginatesNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(NewStore(db), nil)
	ctx := context.Background()
	createFundedAccount(t, db, svc, "acct-1", 10)
	for i := 0; i < 4; i++ {
		_, err := svc.Mutate(ctx, MutateInput{AccountID: "acct-1", Amount: -1, Kind: models.LedgerKindUsage})
		require.NoError(t, err)
	}

	page, total, err := svc.Entries(ctx, "acct-1", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	require.Len(t, page, 2)
	assert.Greater(t, page[0].ID, page[1].ID)
	assert.Equal(t, int64(6), page[0].BalanceAfter)
}

func TestStoreUnavailableWhenClosed(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = store.GetBalance(context.Background(), "acct-1")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
