package billing

import (
	"fmt"
	"testing"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/repository"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/testutil"
)

const (
	periodStart int64 = 1700000000
	periodEnd   int64 = 1702592000
	nextEnd     int64 = 1705270400
)

func subscriptionPayload(eventID, eventType, subID, customer, price, status, accountHint string) []byte {
	return subscriptionPayloadAt(eventID, eventType, subID, customer, price, status, accountHint, periodStart, periodEnd)
}

func subscriptionPayloadAt(eventID, eventType, subID, customer, price, status, accountHint string, start, end int64) []byte {
	metadata := "{}"
	if accountHint != "" {
		metadata = fmt.Sprintf(`{"account_id":%q}`, accountHint)
	}
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "object": "event",
  "type": %q,
  "data": {
    "object": {
      "id": %q,
      "object": "subscription",
      "customer": %q,
      "status": %q,
      "current_period_start": %d,
      "current_period_end": %d,
      "items": {"data": [{"price": {"id": %q}}]},
      "metadata": %s
    }
  }
}`, eventID, eventType, subID, customer, status, start, end, price, metadata))
}

func invoicePayload(eventID, subID, reason string) []byte {
	return []byte(fmt.Sprintf(`{
  "id": %q,
  "type": "invoice.payment_succeeded",
  "data": {
    "object": {
      "id": "in_1",
      "object": "invoice",
      "customer": "cus_1",
      "subscription": %q,
      "billing_reason": %q
    }
  }
}`, eventID, subID, reason))
}

type billingFixture struct {
	db     *gorm.DB
	ledger *ledger.Service
	svc    *Service
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()
	db := testutil.OpenDB(t)
	ledgerSvc := ledger.NewService(ledger.NewStore(db), nil)
	accounts := repository.NewAccountRepository(db)
	return &billingFixture{
		db:     db,
		ledger: ledgerSvc,
		svc:    NewServiceFromDB(db, accounts, ledgerSvc, nil),
	}
}
