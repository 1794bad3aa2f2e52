package jobs

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/internal/pkg/security"
)

const lockKeyPrefix = "almanac:job_lock:"

// Locker provides a lease that at most one holder owns at a time.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// releaseScript deletes the lock only while it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redis.Cmdable
	log    *zap.Logger
}

// NewRedisLocker creates a locker on the given Redis client.
func NewRedisLocker(client redis.Cmdable, log *zap.Logger) *RedisLocker {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{client: client, log: log}
}

// TryLock acquires the named lock for ttl. ok is false when another holder owns it.
func (l *RedisLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (func(), bool, error) {
	token, err := security.RandomToken(16)
	if err != nil {
		return nil, false, err
	}
	key := lockKeyPrefix + name
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return nil, false, err
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("failed to release job lock", zap.String("job", name), zap.Error(err))
		}
	}
	return release, true, nil
}
