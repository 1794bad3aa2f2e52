package oauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisStateKeyPrefix = "oauth_state:"

// RedisStore keeps state tokens as expiring keys. GETDEL makes consumption atomic
// across application instances.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a state store backed by Redis.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func redisStateKey(tokenHash, providerType string) string {
	return redisStateKeyPrefix + providerType + ":" + tokenHash
}

// Save stores the token hash with a TTL matching its expiry.
func (s *RedisStore) Save(ctx context.Context, tokenHash, providerType string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, redisStateKey(tokenHash, providerType), strconv.FormatInt(expiresAt.UnixMilli(), 10), ttl).Err()
}

// Consume deletes the key and reports whether it held an unexpired token.
func (s *RedisStore) Consume(ctx context.Context, tokenHash, providerType string, now time.Time) (bool, error) {
	raw, err := s.client.GetDel(ctx, redisStateKey(tokenHash, providerType)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	expiresAt, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false, nil
	}
	return now.UnixMilli() < expiresAt, nil
}

// DeleteExpired is a no-op; Redis expires the keys itself.
func (s *RedisStore) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}
