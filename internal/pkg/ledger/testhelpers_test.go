package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/testutil"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	return testutil.OpenDB(t)
}

// createFundedAccount creates an account and funds it through the ledger so
// the balance and the entry sum agree from the start.
func createFundedAccount(t *testing.T, db *gorm.DB, svc *Service, id string, credits int64) {
	t.Helper()
	acct, err := models.NewAccount(id, id+"@example.com")
	require.NoError(t, err)
	require.NoError(t, db.Create(acct).Error)
	if credits == 0 {
		return
	}
	_, err = svc.Mutate(context.Background(), MutateInput{
		AccountID:      id,
		Amount:         credits,
		Kind:           models.LedgerKindPurchase,
		Description:    "signup grant",
		IdempotencyKey: "signup",
	})
	require.NoError(t, err)
}
