package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BillingPlanMapping maps a provider plan (price id) to the recurring credit
// bonus granted per billing cycle.
type BillingPlanMapping struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Provider    string    `gorm:"type:varchar(20);not null;index:ux_billing_plan_mappings_ref,unique,priority:1" json:"provider"`
	PlanID      string    `gorm:"type:varchar(191);not null;index:ux_billing_plan_mappings_ref,unique,priority:2" json:"plan_id"`
	CreditBonus int64     `gorm:"not null;default:0" json:"credit_bonus"`
	IsActive    bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (BillingPlanMapping) TableName() string { return "billing_plan_mappings" }

// DefaultBillingPlanMappings are the Stripe prices known at launch.
func DefaultBillingPlanMappings() []BillingPlanMapping {
	return []BillingPlanMapping{
		{Provider: BillingProviderStripe, PlanID: "price_starter", CreditBonus: 100, IsActive: true},
		{Provider: BillingProviderStripe, PlanID: "price_pro", CreditBonus: 500, IsActive: true},
		{Provider: BillingProviderStripe, PlanID: "price_enterprise", CreditBonus: 2500, IsActive: true},
	}
}

// SeedBillingPlanMappings inserts the default mappings, leaving existing rows untouched.
func SeedBillingPlanMappings(db *gorm.DB) error {
	mappings := DefaultBillingPlanMappings()
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider"}, {Name: "plan_id"}},
		DoNothing: true,
	}).Create(&mappings).Error
}
