package billing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

func TestNormalizeStatus(t *testing.T) {
	tests := map[string]string{
		"active":             models.BillingStatusActive,
		"trialing":           models.BillingStatusActive,
		" Canceled ":         models.BillingStatusCanceled,
		"incomplete_expired": models.BillingStatusCanceled,
		"unpaid":             models.BillingStatusUnpaid,
		"past_due":           models.BillingStatusPastDue,
		"incomplete":         models.BillingStatusPastDue,
		"paused":             models.BillingStatusPastDue,
		"":                   models.BillingStatusPastDue,
	}
	for in, want := range tests {
		assert.Equal(t, want, normalizeStatus(in), in)
	}
}

func TestNormalizeEventType(t *testing.T) {
	assert.Equal(t, EventSubscriptionUpdated, normalizeEventType("customer.subscription.updated"))
	assert.Equal(t, EventSubscriptionDeleted, normalizeEventType("subscription.deleted"))
	assert.Equal(t, EventInvoicePaid, normalizeEventType("invoice.payment_succeeded"))
	assert.Equal(t, "customer.created", normalizeEventType("customer.created"))
}
