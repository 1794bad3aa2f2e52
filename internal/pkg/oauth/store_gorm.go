package oauth

import (
	"context"
	"time"

	"github.com/ManuelReschke/Almanac/app/models"
	"github.com/ManuelReschke/Almanac/app/repository"
)

// DBStore keeps state tokens in the oauth_state_tokens table.
type DBStore struct {
	repo repository.OAuthStateRepository
}

// NewDBStore creates a state store backed by the database.
func NewDBStore(repo repository.OAuthStateRepository) *DBStore {
	return &DBStore{repo: repo}
}

// Save persists a hashed token with its expiry.
func (s *DBStore) Save(ctx context.Context, tokenHash, providerType string, expiresAt time.Time) error {
	return s.repo.Create(ctx, &models.OAuthStateToken{
		TokenHash:    tokenHash,
		ProviderType: providerType,
		ExpiresAt:    expiresAt,
	})
}

// Consume deletes an unexpired match in one statement; otherwise any expired
// match is deleted and false returned.
func (s *DBStore) Consume(ctx context.Context, tokenHash, providerType string, now time.Time) (bool, error) {
	ok, err := s.repo.ConsumeUnexpired(ctx, tokenHash, providerType, now)
	if err != nil || ok {
		return ok, err
	}
	if _, err := s.repo.Delete(ctx, tokenHash, providerType); err != nil {
		return false, err
	}
	return false, nil
}

// DeleteExpired purges expired tokens.
func (s *DBStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.DeleteExpired(ctx, now)
}
