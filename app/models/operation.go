package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Operation types offered by the AI catalog.
const (
	OperationEnhance          = "enhance"
	OperationRemoveObject     = "remove_object"
	OperationStyleTransfer    = "style_transfer"
	OperationTextToImage      = "text_to_image"
	OperationAvatarGeneration = "avatar_generation"
)

// OperationStatus tracks the lifecycle of a billable operation.
type OperationStatus string

const (
	OperationStatusPending   OperationStatus = "pending"
	OperationStatusCompleted OperationStatus = "completed"
	OperationStatusFailed    OperationStatus = "failed"
)

// Operation is one billable unit of work. It is created pending and ends
// either completed with a ledger entry attached or failed without one.
type Operation struct {
	ID            string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	AccountID     string          `gorm:"type:varchar(64);not null;index:idx_operations_account_created,priority:1" json:"account_id"`
	OperationType string          `gorm:"type:varchar(50);not null;index" json:"operation_type"`
	CreditCost    int64           `gorm:"not null" json:"credit_cost"`
	Status        OperationStatus `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	InputRef      string          `gorm:"type:text" json:"input_ref"`
	ResultRef     string          `gorm:"type:text" json:"result_ref"`
	LedgerEntryID *uint           `gorm:"index" json:"ledger_entry_id,omitempty"`
	FailureReason string          `gorm:"type:varchar(500);default:''" json:"failure_reason,omitempty"`
	Options       datatypes.JSON  `json:"options,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime;index:idx_operations_account_created,priority:2" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Operation) TableName() string { return "operations" }

// BeforeCreate assigns a UUID if none is set
func (o *Operation) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.New().String()
	}
	if o.Status == "" {
		o.Status = OperationStatusPending
	}
	return nil
}

// IsFinal reports whether the operation reached a terminal status.
func (o *Operation) IsFinal() bool {
	return o.Status == OperationStatusCompleted || o.Status == OperationStatusFailed
}

// IdempotencyKey is the ledger key used when settling the operation.
func (o *Operation) IdempotencyKey() string {
	return "operation:" + o.ID
}
