package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates an append-only audit log repository
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) WithTx(tx *gorm.DB) AuditRepository {
	return &auditRepository{db: tx}
}

func (r *auditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *auditRepository) ListByTarget(ctx context.Context, targetAccountID string, limit int) ([]models.AuditLog, error) {
	var entries []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("target_account_id = ?", targetAccountID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
