package repository

import (
	"context"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"gorm.io/gorm"
)

type oauthStateRepository struct {
	db *gorm.DB
}

// NewOAuthStateRepository creates a new OAuth state repository instance
func NewOAuthStateRepository(db *gorm.DB) OAuthStateRepository {
	return &oauthStateRepository{db: db}
}

// Create stores a hashed state token.
func (r *oauthStateRepository) Create(ctx context.Context, token *models.OAuthStateToken) error {
	return r.db.WithContext(ctx).Create(token).Error
}

// ConsumeUnexpired is a single conditional DELETE, so of two concurrent callers
// exactly one sees RowsAffected == 1.
func (r *oauthStateRepository) ConsumeUnexpired(ctx context.Context, tokenHash, providerType string, now time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).
		Where("token_hash = ? AND provider_type = ? AND expires_at > ?", tokenHash, providerType, now).
		Delete(&models.OAuthStateToken{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// Delete removes a matching token regardless of expiry.
func (r *oauthStateRepository) Delete(ctx context.Context, tokenHash, providerType string) (bool, error) {
	tx := r.db.WithContext(ctx).
		Where("token_hash = ? AND provider_type = ?", tokenHash, providerType).
		Delete(&models.OAuthStateToken{})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// DeleteExpired purges tokens at or past their expiry.
func (r *oauthStateRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&models.OAuthStateToken{})
	return tx.RowsAffected, tx.Error
}
