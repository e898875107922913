package repository

import (
	"context"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

type operationRepository struct {
	db *gorm.DB
}

// NewOperationRepository creates a new operation repository instance
func NewOperationRepository(db *gorm.DB) OperationRepository {
	return &operationRepository{db: db}
}

func (r *operationRepository) WithTx(tx *gorm.DB) OperationRepository {
	return &operationRepository{db: tx}
}

func (r *operationRepository) Create(ctx context.Context, op *models.Operation) error {
	return r.db.WithContext(ctx).Create(op).Error
}

func (r *operationRepository) GetByID(ctx context.Context, id string) (*models.Operation, error) {
	var op models.Operation
	if err := r.db.WithContext(ctx).Where("id = ?", id).Take(&op).Error; err != nil {
		return nil, notFound(err)
	}
	return &op, nil
}

// GetForAccount returns the operation only if it belongs to accountID
func (r *operationRepository) GetForAccount(ctx context.Context, id, accountID string) (*models.Operation, error) {
	var op models.Operation
	if err := r.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).Take(&op).Error; err != nil {
		return nil, notFound(err)
	}
	return &op, nil
}

func (r *operationRepository) MarkCompleted(ctx context.Context, id string, ledgerEntryID uint, resultRef string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Operation{}).
		Where("id = ? AND status = ?", id, models.OperationStatusPending).
		Updates(map[string]interface{}{
			"status":          models.OperationStatusCompleted,
			"ledger_entry_id": ledgerEntryID,
			"result_ref":      resultRef,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *operationRepository) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	reason = truncateRunes(reason, maxFailureReasonLen)
	res := r.db.WithContext(ctx).Model(&models.Operation{}).
		Where("id = ? AND status = ?", id, models.OperationStatusPending).
		Updates(map[string]interface{}{
			"status":         models.OperationStatusFailed,
			"failure_reason": reason,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *operationRepository) ListRecentByAccount(ctx context.Context, accountID string, limit int) ([]models.Operation, error) {
	var ops []models.Operation
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Limit(limit).
		Find(&ops).Error
	return ops, err
}

// ListPendingBefore returns operations still pending that were created
// before the cutoff, oldest first.
func (r *operationRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]models.Operation, error) {
	var ops []models.Operation
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.OperationStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&ops).Error
	return ops, err
}

// GetStats counts completed operations overall and since the given time,
// sums usage debits since then and finds the most used operation type.
func (r *operationRepository) GetStats(ctx context.Context, accountID string, since time.Time) (*OperationStats, error) {
	db := r.db.WithContext(ctx)
	stats := &OperationStats{}

	completed := db.Model(&models.Operation{}).Where("account_id = ? AND status = ?", accountID, models.OperationStatusCompleted)
	if err := completed.Count(&stats.TotalOperations).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.Operation{}).
		Where("account_id = ? AND status = ? AND created_at >= ?", accountID, models.OperationStatusCompleted, since).
		Count(&stats.OperationsSince).Error; err != nil {
		return nil, err
	}

	var used int64
	if err := db.Model(&models.LedgerEntry{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("account_id = ? AND kind = ? AND created_at >= ?", accountID, models.LedgerKindUsage, since).
		Scan(&used).Error; err != nil {
		return nil, err
	}
	stats.CreditsUsedSince = -used

	var top struct {
		OperationType string
		Total         int64
	}
	err := db.Model(&models.Operation{}).
		Select("operation_type, COUNT(*) AS total").
		Where("account_id = ? AND status = ?", accountID, models.OperationStatusCompleted).
		Group("operation_type").
		Order("total DESC, operation_type ASC").
		Limit(1).
		Scan(&top).Error
	if err != nil {
		return nil, err
	}
	stats.MostUsedOperationType = top.OperationType
	return stats, nil
}

const maxFailureReasonLen = 500

// truncateRunes cuts s to at most n runes without splitting a character.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
