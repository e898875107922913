package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
)

// AccountRepository defines the interface for account-related database operations.
// Credits are never written here; balance changes go through the ledger.
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetOrCreate(ctx context.Context, id, email string) (*models.Account, bool, error)
	GetByBillingCustomerRef(ctx context.Context, ref string) (*models.Account, error)
	LinkBillingCustomer(ctx context.Context, id, ref string) error
	SetBan(ctx context.Context, id string, banned bool, reason string) error
	UpdateRole(ctx context.Context, id, role string) error
	List(ctx context.Context, offset, limit int) ([]models.Account, error)
	Count(ctx context.Context) (int64, error)
	WithTx(tx *gorm.DB) AccountRepository
}

// OperationRepository defines the interface for billable operation records
type OperationRepository interface {
	Create(ctx context.Context, op *models.Operation) error
	GetByID(ctx context.Context, id string) (*models.Operation, error)
	GetForAccount(ctx context.Context, id, accountID string) (*models.Operation, error)
	// MarkCompleted and MarkFailed only move pending operations and report
	// whether a row changed.
	MarkCompleted(ctx context.Context, id string, ledgerEntryID uint, resultRef string) (bool, error)
	MarkFailed(ctx context.Context, id, reason string) (bool, error)
	ListRecentByAccount(ctx context.Context, accountID string, limit int) ([]models.Operation, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Operation, error)
	GetStats(ctx context.Context, accountID string, since time.Time) (*OperationStats, error)
	// WithTx returns a repository bound to an open transaction.
	WithTx(tx *gorm.DB) OperationRepository
}

// CatalogRepository reads the AI operation catalog
type CatalogRepository interface {
	GetEnabledByType(ctx context.Context, operationType string) (*models.AIModel, error)
	ListEnabled(ctx context.Context) ([]models.AIModel, error)
}

// AuditRepository appends and reads administrative audit records
type AuditRepository interface {
	Create(ctx context.Context, entry *models.AuditLog) error
	ListByTarget(ctx context.Context, targetAccountID string, limit int) ([]models.AuditLog, error)
	WithTx(tx *gorm.DB) AuditRepository
}

// OperationStats aggregates an account's usage for the dashboard.
type OperationStats struct {
	TotalOperations       int64  `json:"total_operations"`
	OperationsSince       int64  `json:"operations_this_month"`
	CreditsUsedSince      int64  `json:"credits_used_this_month"`
	MostUsedOperationType string `json:"most_used_operation"`
}

// Repositories struct holds all repository instances
type Repositories struct {
	Account   AccountRepository
	Operation OperationRepository
	Catalog   CatalogRepository
	Audit     AuditRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account:   NewAccountRepository(db),
		Operation: NewOperationRepository(db),
		Catalog:   NewCatalogRepository(db),
		Audit:     NewAuditRepository(db),
	}
}

// notFound maps a missing row to ledger.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.ErrNotFound
	}
	return err
}
