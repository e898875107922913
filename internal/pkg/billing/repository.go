package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/PixelStudio/app/models"
	"github.com/ManuelReschke/PixelStudio/internal/pkg/ledger"
)

// Repository provides DB operations used by the billing service.
type Repository interface {
	FindActivePlanMapping(ctx context.Context, provider, planID string) (*models.BillingPlanMapping, error)
	UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) (bool, error)
	GetSubscription(ctx context.Context, provider, providerSubscriptionID string) (*models.BillingSubscription, error)
	ListSubscriptionsByAccount(ctx context.Context, accountID string) ([]models.BillingSubscription, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) FindActivePlanMapping(ctx context.Context, provider, planID string) (*models.BillingPlanMapping, error) {
	var m models.BillingPlanMapping
	err := r.db.WithContext(ctx).
		Where("provider = ? AND plan_id = ? AND is_active = ?", provider, planID, true).
		Take(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

// UpsertSubscription stores a provider snapshot unless the stored row is
// newer. It reports whether the snapshot was applied and leaves the stored
// row in sub either way.
func (r *gormRepository) UpsertSubscription(ctx context.Context, sub *models.BillingSubscription) (bool, error) {
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stored, err := lockSubscription(tx, sub.Provider, sub.ProviderSubscriptionID)
		if errors.Is(err, ledger.ErrNotFound) {
			res := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "provider"},
					{Name: "provider_subscription_id"},
				},
				DoNothing: true,
			}).Create(sub)
			if res.Error != nil {
				return res.Error
			}
			applied = res.RowsAffected > 0
			stored, err = lockSubscription(tx, sub.Provider, sub.ProviderSubscriptionID)
		}
		if err != nil {
			return err
		}

		if !applied && supersedes(stored, sub) {
			if err := tx.Model(&models.BillingSubscription{}).
				Where("id = ?", stored.ID).
				Updates(snapshotUpdates(stored, sub)).Error; err != nil {
				return err
			}
			applied = true
			if stored, err = lockSubscription(tx, sub.Provider, sub.ProviderSubscriptionID); err != nil {
				return err
			}
		}
		*sub = *stored
		return nil
	})
	return applied, err
}

func lockSubscription(tx *gorm.DB, provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		Take(&sub).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

// supersedes reports whether snapshot in replaces stored. Snapshots are
// ordered by current period end; an older one never overwrites a newer one.
// A cancellation is final for its period: it applies over any live status,
// and only a later period replaces it.
func supersedes(stored, in *models.BillingSubscription) bool {
	cmp := comparePeriodEnd(in.CurrentPeriodEnd, stored.CurrentPeriodEnd)
	inCanceled := in.Status == models.BillingStatusCanceled
	storedCanceled := stored.Status == models.BillingStatusCanceled
	switch {
	case inCanceled && !storedCanceled:
		return true
	case storedCanceled && !inCanceled:
		return cmp > 0
	default:
		return cmp >= 0
	}
}

// comparePeriodEnd orders period ends; a missing end sorts first.
func comparePeriodEnd(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	default:
		return 0
	}
}

// snapshotUpdates lists the columns in writes over stored. A cancellation
// carrying an older period keeps the stored plan and period.
func snapshotUpdates(stored, in *models.BillingSubscription) map[string]interface{} {
	updates := map[string]interface{}{
		"status":           in.Status,
		"raw_payload_json": in.RawPayloadJSON,
		"updated_at":       time.Now(),
	}
	if comparePeriodEnd(in.CurrentPeriodEnd, stored.CurrentPeriodEnd) < 0 {
		return updates
	}
	updates["account_id"] = in.AccountID
	updates["current_period_start"] = in.CurrentPeriodStart
	updates["current_period_end"] = in.CurrentPeriodEnd
	if in.PlanID != "" {
		updates["plan_id"] = in.PlanID
	}
	return updates
}

func (r *gormRepository) GetSubscription(ctx context.Context, provider, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_subscription_id = ?", provider, providerSubscriptionID).
		Take(&sub).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &sub, nil
}

func (r *gormRepository) ListSubscriptionsByAccount(ctx context.Context, accountID string) ([]models.BillingSubscription, error) {
	var subs []models.BillingSubscription
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("updated_at DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		Take(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.ErrNotFound
	}
	return err
}
