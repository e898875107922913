package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/testutil"
)

func newTestResolver(t *testing.T) (*Resolver, *gorm.DB) {
	t.Helper()
	db := testutil.OpenDB(t)
	repos := repository.NewRepositories(db)
	return NewResolver(NewDBCatalog(repos.Catalog), repos.Account, nil), db
}

func TestResolveAllowed(t *testing.T) {
	r, db := newTestResolver(t)
	testutil.CreateAccount(t, db, "acct-1", 10)

	d, err := r.Resolve(context.Background(), "acct-1", models.OperationTextToImage)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(4), d.Cost)
	assert.Nil(t, d.Reason)
	assert.Equal(t, "Text to Image", d.Model.Name)
}

func TestResolveDenials(t *testing.T) {
	r, db := newTestResolver(t)
	testutil.CreateAccount(t, db, "poor", 1)
	banned := testutil.CreateAccount(t, db, "banned", 100)
	require.NoError(t, db.Model(banned).Update("suspended", true).Error)

	tests := []struct {
		name    string
		account string
		op      string
		reason  error
	}{
		{"unknown operation", "poor", "teleport", ledger.ErrUnknownOperation},
		{"unknown beats suspended", "banned", "teleport", ledger.ErrUnknownOperation},
		{"suspended", "banned", models.OperationEnhance, ledger.ErrAccountSuspended},
		{"insufficient", "poor", models.OperationStyleTransfer, ledger.ErrInsufficientCredits},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := r.Resolve(context.Background(), tt.account, tt.op)
			require.NoError(t, err)
			assert.False(t, d.Allowed)
			assert.ErrorIs(t, d.Reason, tt.reason)
		})
	}
}

func TestResolveDisabledOperationIsUnknown(t *testing.T) {
	r, db := newTestResolver(t)
	testutil.CreateAccount(t, db, "acct-1", 10)
	require.NoError(t, db.Model(&models.AIModel{}).Where("model_type = ?", models.OperationEnhance).Update("enabled", false).Error)

	d, err := r.Resolve(context.Background(), "acct-1", models.OperationEnhance)
	require.NoError(t, err)
	assert.ErrorIs(t, d.Reason, ledger.ErrUnknownOperation)
}

func TestResolveMissingAccountIsError(t *testing.T) {
	r, _ := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "ghost", models.OperationEnhance)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestResolveDoesNotMutate(t *testing.T) {
	r, db := newTestResolver(t)
	testutil.CreateAccount(t, db, "acct-1", 10)

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), "acct-1", models.OperationAvatarGeneration)
		require.NoError(t, err)
	}

	var acct models.Account
	require.NoError(t, db.Take(&acct, "id = ?", "acct-1").Error)
	assert.Equal(t, int64(10), acct.Credits)
	var entries int64
	require.NoError(t, db.Model(&models.LedgerEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)
}

type countingCatalog struct {
	calls int
	model *models.AIModel
	err   error
}

func (c *countingCatalog) GetEnabledOperation(ctx context.Context, operationType string) (*models.AIModel, error) {
	c.calls++
	return c.model, c.err
}

func TestCachedCatalogFallsBackWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	next := &countingCatalog{model: &models.AIModel{ModelType: models.OperationEnhance, CreditCost: 1}}
	c := NewCachedCatalog(next, client, time.Minute)

	m, err := c.GetEnabledOperation(context.Background(), models.OperationEnhance)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.CreditCost)
	assert.Equal(t, 1, next.calls)
}

func TestCachedCatalogServesFromRedis(t *testing.T) {
	client := testutil.Redis(t, 13)
	next := &countingCatalog{model: &models.AIModel{Name: "Image Enhancer", ModelType: models.OperationEnhance, CreditCost: 1}}
	c := NewCachedCatalog(next, client, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m, err := c.GetEnabledOperation(ctx, models.OperationEnhance)
		require.NoError(t, err)
		assert.Equal(t, "Image Enhancer", m.Name)
	}
	assert.Equal(t, 1, next.calls)

	require.NoError(t, c.Invalidate(ctx, models.OperationEnhance))
	_, err := c.GetEnabledOperation(ctx, models.OperationEnhance)
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestCachedCatalogDoesNotCacheUnknown(t *testing.T) {
	client := testutil.Redis(t, 13)
	next := &countingCatalog{err: ledger.ErrUnknownOperation}
	c := NewCachedCatalog(next, client, time.Minute)

	for i := 0; i < 2; i++ {
		_, err := c.GetEnabledOperation(context.Background(), "teleport")
		assert.True(t, errors.Is(err, ledger.ErrUnknownOperation))
	}
	assert.Equal(t, 2, next.calls)
}
