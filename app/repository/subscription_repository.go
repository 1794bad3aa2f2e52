package repository

import (
	"context"

	"github.com/ManuelReschke/Almanac/app/models"
	"gorm.io/gorm"
)

// subscriptionRepository implements the SubscriptionRepository interface
type subscriptionRepository struct {
	db *gorm.DB
}

// NewSubscriptionRepository creates a new subscription repository instance
func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &subscriptionRepository{db: db}
}

// Create inserts a subscription row.
func (r *subscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

// GetByID finds a subscription by primary key.
func (r *subscriptionRepository) GetByID(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByProviderSubscriptionID finds the row mirroring a provider subscription.
func (r *subscriptionRepository) GetByProviderSubscriptionID(ctx context.Context, providerConfigID, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("provider_config_id = ? AND provider_subscription_id = ?", providerConfigID, providerSubscriptionID).
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetLatestByAccount returns the most recently created subscription of an account.
func (r *subscriptionRepository) GetLatestByAccount(ctx context.Context, accountID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// List returns one page of matching subscriptions and the total match count.
func (r *subscriptionRepository) List(ctx context.Context, filter SubscriptionFilter) ([]models.Subscription, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Subscription{})
	if filter.AccountID != "" {
		query = query.Where("account_id = ?", filter.AccountID)
	}
	if filter.ProviderConfigID != "" {
		query = query.Where("provider_config_id = ?", filter.ProviderConfigID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var subs []models.Subscription
	err := query.Order("created_at DESC").Offset(filter.Offset).Limit(limit).Find(&subs).Error
	return subs, total, err
}

// ListByStatus returns every subscription in the given status.
func (r *subscriptionRepository) ListByStatus(ctx context.Context, status string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Where("status = ?", status).Order("updated_at ASC").Find(&subs).Error
	return subs, err
}

// ListNonTerminalByProvider returns the open subscriptions of a provider config.
func (r *subscriptionRepository) ListNonTerminalByProvider(ctx context.Context, providerConfigID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("provider_config_id = ? AND status IN ?", providerConfigID, models.NonTerminalStatuses).
		Find(&subs).Error
	return subs, err
}

// CountNonTerminalByProvider counts open subscriptions of a provider config.
func (r *subscriptionRepository) CountNonTerminalByProvider(ctx context.Context, providerConfigID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("provider_config_id = ? AND status IN ?", providerConfigID, models.NonTerminalStatuses).
		Count(&count).Error
	return count, err
}

// CountNonTerminalByAccount counts open subscriptions of an account.
func (r *subscriptionRepository) CountNonTerminalByAccount(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("account_id = ? AND status IN ?", accountID, models.NonTerminalStatuses).
		Count(&count).Error
	return count, err
}

// UpdateIfUnchanged applies updates only while the row still has the given version and status.
func (r *subscriptionRepository) UpdateIfUnchanged(ctx context.Context, id string, version int64, status string, updates map[string]any) (bool, error) {
	values := make(map[string]any, len(updates)+1)
	for k, v := range updates {
		values[k] = v
	}
	values["version"] = gorm.Expr("version + 1")

	query := r.db.WithContext(ctx).Model(&models.Subscription{}).Where("id = ? AND version = ?", id, version)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	tx := query.Updates(values)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
