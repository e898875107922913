package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// GetByID retrieves an account by its identity-provider subject
func (r *accountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	var acct models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&acct).Error; err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}

// GetOrCreate returns the account for id, inserting an empty one on first
// sight. The bool reports whether this call created it.
func (r *accountRepository) GetOrCreate(ctx context.Context, id, email string) (*models.Account, bool, error) {
	acct, err := models.NewAccount(id, email)
	if err != nil {
		return nil, false, err
	}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(acct)
	if tx.Error != nil {
		return nil, false, tx.Error
	}
	created := tx.RowsAffected > 0

	stored, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// GetByBillingCustomerRef resolves a payment-provider customer to an account
func (r *accountRepository) GetByBillingCustomerRef(ctx context.Context, ref string) (*models.Account, error) {
	if ref == "" {
		return nil, ledger.ErrNotFound
	}
	var acct models.Account
	if err := r.db.WithContext(ctx).Where("billing_customer_ref = ?", ref).Take(&acct).Error; err != nil {
		return nil, notFound(err)
	}
	return &acct, nil
}

// LinkBillingCustomer stores the provider customer reference on the account
func (r *accountRepository) LinkBillingCustomer(ctx context.Context, id, ref string) error {
	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update("billing_customer_ref", ref)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.exists(ctx, id)
	}
	return nil
}

func (r *accountRepository) WithTx(tx *gorm.DB) AccountRepository {
	return &accountRepository{db: tx}
}

// SetBan suspends or reinstates an account
func (r *accountRepository) SetBan(ctx context.Context, id string, banned bool, reason string) error {
	updates := map[string]interface{}{
		"suspended":  banned,
		"ban_reason": reason,
		"banned_at":  nil,
	}
	if banned {
		now := time.Now()
		updates["banned_at"] = &now
	} else {
		updates["ban_reason"] = ""
	}
	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.exists(ctx, id)
	}
	return nil
}

// UpdateRole changes the account's role
func (r *accountRepository) UpdateRole(ctx context.Context, id, role string) error {
	res := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Update("role", role)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.exists(ctx, id)
	}
	return nil
}

// exists tells a missing account apart from an update that changed nothing;
// MySQL reports unchanged rows as unaffected.
func (r *accountRepository) exists(ctx context.Context, id string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

// List retrieves accounts with pagination
func (r *accountRepository) List(ctx context.Context, offset, limit int) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).Order("created_at DESC").Offset(offset).Limit(limit).Find(&accounts).Error
	return accounts, err
}

// Count returns the total number of accounts
func (r *accountRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Account{}).Count(&count).Error
	return count, err
}
