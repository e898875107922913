package billing

import (
	"strings"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

// normalizeStatus folds provider subscription statuses into the four
// statuses tracked locally.
func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "active", "trialing":
		return models.BillingStatusActive
	case "canceled", "cancelled", "incomplete_expired":
		return models.BillingStatusCanceled
	case "unpaid":
		return models.BillingStatusUnpaid
	default:
		// past_due, incomplete, paused and anything new.
		return models.BillingStatusPastDue
	}
}

// normalizeEventType maps Stripe's customer.subscription.* names onto the
// provider-neutral subscription.* names.
func normalizeEventType(eventType string) string {
	t := strings.ToLower(strings.TrimSpace(eventType))
	if strings.HasPrefix(t, "customer.subscription.") {
		return strings.TrimPrefix(t, "customer.")
	}
	return t
}
