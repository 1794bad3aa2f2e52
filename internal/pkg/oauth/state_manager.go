// Package oauth issues and consumes the single-use CSRF state tokens of the
// provider linking flow.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/Almanac/internal/pkg/metrics"
	"github.com/ManuelReschke/Almanac/internal/pkg/security"
	"go.uber.org/zap"
)

const (
	// StateTTL is how long an issued state token stays valid.
	StateTTL = 15 * time.Minute
	// stateTokenBytes is 256 bits of entropy.
	stateTokenBytes = 32
)

// StateStore persists token hashes. Consume must be atomic: for one stored
// token at most one caller ever gets true, and any matching row is removed.
type StateStore interface {
	Save(ctx context.Context, tokenHash, providerType string, expiresAt time.Time) error
	Consume(ctx context.Context, tokenHash, providerType string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type StateManager struct {
	store   StateStore
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewStateManager creates a state manager over the given store.
func NewStateManager(store StateStore, log *zap.Logger, m *metrics.Metrics) *StateManager {
	if log == nil {
		log = zap.NewNop()
	}
	return &StateManager{
		store:   store,
		log:     log,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// GenerateToken issues a fresh token for providerType. Only its hash is stored.
func (m *StateManager) GenerateToken(ctx context.Context, providerType string) (string, error) {
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	if providerType == "" {
		return "", errors.New("provider type is required")
	}
	token, err := security.RandomToken(stateTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate state token: %w", err)
	}
	if err := m.store.Save(ctx, security.HashToken(token), providerType, m.now().Add(StateTTL)); err != nil {
		return "", fmt.Errorf("persist state token: %w", err)
	}
	return token, nil
}

// ValidateToken consumes the token. It returns true at most once per token;
// unknown, mismatched and expired tokens return false.
func (m *StateManager) ValidateToken(ctx context.Context, token, providerType string) (bool, error) {
	token = strings.TrimSpace(token)
	providerType = strings.ToLower(strings.TrimSpace(providerType))
	if token == "" || providerType == "" {
		m.metrics.OAuthStateValidation(false)
		return false, nil
	}

	ok, err := m.store.Consume(ctx, security.HashToken(token), providerType, m.now())
	if err != nil {
		return false, fmt.Errorf("consume state token: %w", err)
	}
	m.metrics.OAuthStateValidation(ok)
	if !ok {
		m.log.Warn("rejected oauth state token", zap.String("provider", providerType))
	}
	return ok, nil
}

// CleanupExpired reclaims storage for tokens that were never used.
func (m *StateManager) CleanupExpired(ctx context.Context) (int64, error) {
	removed, err := m.store.DeleteExpired(ctx, m.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup expired state tokens: %w", err)
	}
	if removed > 0 {
		m.log.Info("removed expired oauth state tokens", zap.Int64("count", removed))
	}
	return removed, nil
}
