// Package cache connects to the Redis-compatible cache shared by the OAuth
// state store, the job lock and the webhook rate limiter.
package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	fiberredis "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ManuelReschke/Almanac/internal/pkg/env"
)

// LimiterDatabase keeps rate limiter counters apart from application keys.
const LimiterDatabase = 1

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// FromEnv reads CACHE_HOST, CACHE_PORT, CACHE_PASSWORD and CACHE_DB.
func FromEnv() Config {
	return Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnv("CACHE_PORT", "6379"),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	}
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// NewClient creates the client. It does not dial; call Ping to check the connection.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Ping checks the connection with a short timeout.
func Ping(ctx context.Context, client redis.UniversalClient, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warn("could not connect to cache", zap.Error(err))
		return fmt.Errorf("ping cache: %w", err)
	}
	log.Info("connected to cache", zap.String("reply", pong))
	return nil
}

// NewFiberStorage opens a fiber storage on the same server as client, using database.
func NewFiberStorage(client *redis.Client, database int) *fiberredis.Storage {
	host := "localhost"
	port := 6379
	opts := client.Options()
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}
	return fiberredis.New(fiberredis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: database,
		Reset:    false,
	})
}
