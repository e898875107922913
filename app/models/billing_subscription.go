package models

import "time"

const (
	BillingProviderStripe = "stripe"
)

// Subscription statuses tracked locally. Provider statuses outside this set
// are normalized by the billing reconciler.
const (
	BillingStatusActive   = "active"
	BillingStatusCanceled = "canceled"
	BillingStatusPastDue  = "past_due"
	BillingStatusUnpaid   = "unpaid"
)

// BillingSubscription mirrors a provider subscription. Rows are upserted by
// (provider, provider_subscription_id) from full provider snapshots.
type BillingSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	AccountID              string     `gorm:"type:varchar(64);not null;index" json:"account_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;index:ux_billing_subscriptions_provider_subid,unique,priority:2" json:"provider_subscription_id"`
	PlanID                 string     `gorm:"type:varchar(191);not null;index" json:"plan_id"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'active';index" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	RawPayloadJSON         string     `gorm:"type:text" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingSubscription) TableName() string { return "billing_subscriptions" }

// IsActive reports whether the subscription currently entitles bonuses
func (s *BillingSubscription) IsActive() bool {
	return s.Status == BillingStatusActive
}
