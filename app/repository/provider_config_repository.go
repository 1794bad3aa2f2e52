package repository

import (
	"context"

	"github.com/ManuelReschke/Almanac/app/models"
	"gorm.io/gorm"
)

type providerConfigRepository struct {
	db *gorm.DB
}

// NewProviderConfigRepository creates a new provider config repository instance
func NewProviderConfigRepository(db *gorm.DB) ProviderConfigRepository {
	return &providerConfigRepository{db: db}
}

// Create inserts a new provider config.
func (r *providerConfigRepository) Create(ctx context.Context, cfg *models.ProviderConfig) error {
	return r.db.WithContext(ctx).Create(cfg).Error
}

// Save writes every column of the config.
func (r *providerConfigRepository) Save(ctx context.Context, cfg *models.ProviderConfig) error {
	return r.db.WithContext(ctx).Save(cfg).Error
}

// GetByID finds a config by primary key.
func (r *providerConfigRepository) GetByID(ctx context.Context, id string) (*models.ProviderConfig, error) {
	var cfg models.ProviderConfig
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetByType finds the config linked for a provider type.
func (r *providerConfigRepository) GetByType(ctx context.Context, providerType string) (*models.ProviderConfig, error) {
	var cfg models.ProviderConfig
	if err := r.db.WithContext(ctx).Where("provider_type = ?", providerType).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// List returns all configs ordered by provider type.
func (r *providerConfigRepository) List(ctx context.Context) ([]models.ProviderConfig, error) {
	var cfgs []models.ProviderConfig
	err := r.db.WithContext(ctx).Order("provider_type ASC").Find(&cfgs).Error
	return cfgs, err
}

// Delete removes the config row.
func (r *providerConfigRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ProviderConfig{}).Error
}
