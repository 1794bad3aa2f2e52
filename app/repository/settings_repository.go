package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/Almanac/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// settingsRepository implements the SettingsRepository interface
type settingsRepository struct {
	db *gorm.DB
}

// NewSettingsRepository creates a new settings repository instance
func NewSettingsRepository(db *gorm.DB) SettingsRepository {
	return &settingsRepository{db: db}
}

// Get returns the settings row, creating it with defaults on first access.
func (r *settingsRepository) Get(ctx context.Context) (*models.SubscriptionSettings, error) {
	var settings models.SubscriptionSettings
	err := r.db.WithContext(ctx).Where("id = ?", models.SubscriptionSettingsID).First(&settings).Error
	if err == nil {
		return &settings, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	defaults := models.DefaultSubscriptionSettings()
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&defaults).Error; err != nil {
		return nil, fmt.Errorf("failed to create default settings: %w", err)
	}
	return &defaults, nil
}

// Save validates and persists the settings row
func (r *settingsRepository) Save(ctx context.Context, settings *models.SubscriptionSettings) error {
	if err := settings.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	settings.ID = models.SubscriptionSettingsID
	return r.db.WithContext(ctx).Save(settings).Error
}
