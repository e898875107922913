package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PixelStudio/app/models"
)

type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a repository over the ai_models catalog
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetEnabledByType(ctx context.Context, operationType string) (*models.AIModel, error) {
	var m models.AIModel
	err := r.db.WithContext(ctx).Where("model_type = ? AND enabled = ?", operationType, true).Take(&m).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *catalogRepository) ListEnabled(ctx context.Context) ([]models.AIModel, error) {
	var list []models.AIModel
	err := r.db.WithContext(ctx).Where("enabled = ?", true).Order("credit_cost ASC").Find(&list).Error
	return list, err
}
