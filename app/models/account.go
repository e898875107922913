package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ROLE_USER  = "user"
	ROLE_ADMIN = "admin"
)

// Account is the credit-holding identity of a user. Credits is a
// materialized cache of the sum of the account's ledger entries and is only
// ever changed through the ledger service.
type Account struct {
	ID                 string     `gorm:"type:varchar(64);primaryKey" json:"id" validate:"required,max=64"`
	Email              string     `gorm:"type:varchar(200);index" json:"email" validate:"omitempty,email,max=200"`
	Credits            int64      `gorm:"not null;default:0" json:"credits"`
	Role               string     `gorm:"type:varchar(20);not null;default:'user'" json:"role" validate:"oneof=user admin"`
	Suspended          bool       `gorm:"not null;default:false;index" json:"suspended"`
	BannedAt           *time.Time `gorm:"type:timestamp;default:null" json:"banned_at,omitempty"`
	BanReason          string     `gorm:"type:varchar(500);default:''" json:"ban_reason,omitempty"`
	BillingCustomerRef *string    `gorm:"type:varchar(191);uniqueIndex" json:"billing_customer_ref,omitempty"`
	CreatedAt          time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

func (a *Account) Validate() error {
	return validator.New().Struct(a)
}

// NewAccount returns a fresh user account with an empty balance.
func NewAccount(id, email string) (*Account, error) {
	a := &Account{
		ID:    id,
		Email: email,
		Role:  ROLE_USER,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// IsAdmin reports whether the account carries the admin role
func (a *Account) IsAdmin() bool {
	return a != nil && a.Role == ROLE_ADMIN
}

// IsSuspended reports whether the account is barred from spending credits.
func (a *Account) IsSuspended() bool {
	return a != nil && (a.Suspended || a.BannedAt != nil)
}

// HasBillingCustomer reports whether the account is linked to a billing provider customer.
func (a *Account) HasBillingCustomer() bool {
	return a != nil && a.BillingCustomerRef != nil && *a.BillingCustomerRef != ""
}
