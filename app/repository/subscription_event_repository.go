package repository

import (
	"context"

	"github.com/ManuelReschke/Almanac/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type subscriptionEventRepository struct {
	db *gorm.DB
}

// NewSubscriptionEventRepository creates a new webhook ledger repository instance
func NewSubscriptionEventRepository(db *gorm.DB) SubscriptionEventRepository {
	return &subscriptionEventRepository{db: db}
}

// Exists reports whether a provider event id was already recorded.
func (r *subscriptionEventRepository) Exists(ctx context.Context, providerEventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.SubscriptionEvent{}).
		Where("provider_event_id = ?", providerEventID).
		Count(&count).Error
	return count > 0, err
}

// CreateIfNotExists inserts the event unless its provider event id is taken.
func (r *subscriptionEventRepository) CreateIfNotExists(ctx context.Context, event *models.SubscriptionEvent) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_event_id"}},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// ListBySubscription returns the ledger of one subscription, oldest first.
func (r *subscriptionEventRepository) ListBySubscription(ctx context.Context, subscriptionID string) ([]models.SubscriptionEvent, error) {
	var events []models.SubscriptionEvent
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
