package models

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AIModel is a catalog entry describing the credit cost of an operation type.
type AIModel struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Name       string    `gorm:"type:varchar(100);not null" json:"name"`
	ModelType  string    `gorm:"type:varchar(50);not null;uniqueIndex" json:"model_type"`
	CreditCost int64     `gorm:"not null" json:"credit_cost"`
	Enabled    bool      `gorm:"not null;default:true;index" json:"enabled"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (AIModel) TableName() string { return "ai_models" }

// DefaultAIModels is the catalog seeded on first boot.
func DefaultAIModels() []AIModel {
	return []AIModel{
		{Name: "Image Enhancer", ModelType: OperationEnhance, CreditCost: 1, Enabled: true},
		{Name: "Object Remover", ModelType: OperationRemoveObject, CreditCost: 2, Enabled: true},
		{Name: "Style Transfer", ModelType: OperationStyleTransfer, CreditCost: 3, Enabled: true},
		{Name: "Text to Image", ModelType: OperationTextToImage, CreditCost: 4, Enabled: true},
		{Name: "Avatar Generator", ModelType: OperationAvatarGeneration, CreditCost: 5, Enabled: true},
	}
}

// SeedAIModels inserts the default catalog, leaving existing rows untouched.
func SeedAIModels(db *gorm.DB) error {
	catalog := DefaultAIModels()
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model_type"}},
		DoNothing: true,
	}).Create(&catalog).Error
}
