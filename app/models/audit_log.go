package models

import (
	"time"

	"gorm.io/datatypes"
)

// Admin actions recorded in the audit log.
const (
	AuditActionBan           = "ban"
	AuditActionUnban         = "unban"
	AuditActionAdjustCredits = "adjust_credits"
	AuditActionUpdateRole    = "update_role"
)

// AuditLog is an append-only record of a privileged action. It is kept
// apart from the ledger and never updated.
type AuditLog struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	AdminID         string         `gorm:"type:varchar(64);not null;index" json:"admin_id"`
	Action          string         `gorm:"type:varchar(50);not null;index" json:"action"`
	TargetAccountID string         `gorm:"type:varchar(64);not null;index" json:"target_account_id"`
	Details         datatypes.JSON `json:"details"`
	CreatedAt       time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_log" }
