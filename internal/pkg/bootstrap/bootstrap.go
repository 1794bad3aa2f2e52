// Package bootstrap wires the billing services from the environment. It is
// shared by the HTTP server and the operator CLI.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ManuelReschke/Almanac/app/repository"
	"github.com/ManuelReschke/Almanac/internal/pkg/billing"
	"github.com/ManuelReschke/Almanac/internal/pkg/cache"
	"github.com/ManuelReschke/Almanac/internal/pkg/env"
	"github.com/ManuelReschke/Almanac/internal/pkg/jobs"
	"github.com/ManuelReschke/Almanac/internal/pkg/metrics"
	"github.com/ManuelReschke/Almanac/internal/pkg/oauth"
	"github.com/ManuelReschke/Almanac/internal/pkg/provider"
	"github.com/ManuelReschke/Almanac/internal/pkg/security"
)

const (
	StateStoreDB    = "db"
	StateStoreRedis = "redis"
)

var ErrCacheRequired = errors.New("OAUTH_STATE_STORE=redis needs a reachable cache")

// Container holds every long-lived service of one process.
type Container struct {
	Log      *zap.Logger
	DB       *gorm.DB
	Cache    *redis.Client // nil when the cache is unreachable
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Repos         *repository.Repositories
	Adapters      *provider.Registry
	Settings      *billing.SettingsService
	Subscriptions *billing.SubscriptionService
	States        *oauth.StateManager
	Connections   *billing.ConnectionService
	Jobs          *jobs.Manager
}

// New builds the container on top of an open database handle.
func New(ctx context.Context, db *gorm.DB, log *zap.Logger) (*Container, error) {
	c := &Container{
		Log:      log,
		DB:       db,
		Registry: prometheus.NewRegistry(),
	}
	c.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = metrics.New(c.Registry)

	client := cache.NewClient(cache.FromEnv())
	if err := cache.Ping(ctx, client, log); err != nil {
		_ = client.Close()
	} else {
		c.Cache = client
	}

	sealer, err := security.NewSealerFromBase64(env.GetEnv("CREDENTIALS_KEY", ""))
	if err != nil {
		return nil, fmt.Errorf("credentials key: %w", err)
	}

	timeout := env.GetEnvDuration("PROVIDER_TIMEOUT", 20*time.Second)
	c.Repos = repository.NewFactory(db).GetRepositories()
	c.Adapters = provider.NewRegistry(sealer, provider.PlatformFromEnv(), &http.Client{Timeout: timeout}, log)
	c.Settings = billing.NewSettingsService(c.Repos.Setting)

	c.Subscriptions = billing.NewSubscriptionService(c.Repos, c.Adapters, c.Settings, log, c.Metrics)
	c.Subscriptions.SetProviderTimeout(timeout)

	var store oauth.StateStore
	switch strings.ToLower(env.GetEnv("OAUTH_STATE_STORE", StateStoreDB)) {
	case StateStoreRedis:
		if c.Cache == nil {
			return nil, ErrCacheRequired
		}
		store = oauth.NewRedisStore(c.Cache)
	default:
		store = oauth.NewDBStore(c.Repos.OAuthState)
	}
	c.States = oauth.NewStateManager(store, log, c.Metrics)

	c.Connections = billing.NewConnectionService(c.Repos, c.Adapters, c.States,
		billing.NewWebhookManagerFromEnv(), sealer, c.Subscriptions, log)
	c.Connections.SetProviderTimeout(timeout)

	var locker jobs.Locker
	if c.Cache != nil {
		redisLocker := jobs.NewRedisLocker(c.Cache, log)
		c.Subscriptions.SetAccountLocker(redisLocker)
		locker = redisLocker
	}
	c.Jobs = jobs.NewManager(log, c.Metrics, locker)
	tasks := []jobs.Task{
		jobs.GraceSweepTask(c.Subscriptions, env.GetEnvDuration("GRACE_SWEEP_INTERVAL", time.Hour), log),
		jobs.StateCleanupTask(c.States, env.GetEnvDuration("STATE_CLEANUP_INTERVAL", 15*time.Minute)),
	}
	for _, t := range tasks {
		if err := c.Jobs.Register(t); err != nil {
			return nil, fmt.Errorf("register job: %w", err)
		}
	}

	return c, nil
}

// Close stops the scheduler and releases connections.
func (c *Container) Close() {
	if c.Jobs != nil && c.Jobs.IsRunning() {
		c.Jobs.Stop()
	}
	if c.Cache != nil {
		if err := c.Cache.Close(); err != nil {
			c.Log.Warn("close cache", zap.Error(err))
		}
	}
	if sqlDB, err := c.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
