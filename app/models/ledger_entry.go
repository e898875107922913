package models

import "time"

// LedgerEntryKind classifies why a balance changed.
type LedgerEntryKind string

const (
	LedgerKindUsage             LedgerEntryKind = "usage"
	LedgerKindAdminAdjustment   LedgerEntryKind = "admin_adjustment"
	LedgerKindSubscriptionBonus LedgerEntryKind = "subscription_bonus"
	LedgerKindPurchase          LedgerEntryKind = "purchase"
)

// Valid reports whether k is one of the known entry kinds.
func (k LedgerEntryKind) Valid() bool {
	switch k {
	case LedgerKindUsage, LedgerKindAdminAdjustment, LedgerKindSubscriptionBonus, LedgerKindPurchase:
		return true
	default:
		return false
	}
}

// LedgerEntry is one immutable line of an account's credit ledger.
// Negative amounts are debits, positive amounts are credits.
type LedgerEntry struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	AccountID      string          `gorm:"type:varchar(64);not null;index:idx_ledger_entries_account_created,priority:1;index:ux_ledger_entries_account_key,unique,priority:1" json:"account_id"`
	Amount         int64           `gorm:"not null" json:"amount"`
	Kind           LedgerEntryKind `gorm:"type:varchar(32);not null;index" json:"kind"`
	Description    string          `gorm:"type:varchar(500);default:''" json:"description"`
	IdempotencyKey *string         `gorm:"type:varchar(191);index:ux_ledger_entries_account_key,unique,priority:2" json:"idempotency_key,omitempty"`
	BalanceAfter   int64           `gorm:"not null" json:"balance_after"`
	CreatedAt      time.Time       `gorm:"autoCreateTime;index:idx_ledger_entries_account_created,priority:2" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// IsDebit reports whether the entry reduced the balance
func (e *LedgerEntry) IsDebit() bool {
	return e.Amount < 0
}
