package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohamedkhairy/momentum-screener/internal/config"
	"github.com/mohamedkhairy/momentum-screener/pkg/logger"
)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis",
		logger.String("host", cfg.Host),
		logger.Int("port", cfg.Port),
	)
	return rdb, nil
}

// NewFromConfig builds the configured cache. A redis client is created only for
// the redis backend.
func NewFromConfig(cfg config.CacheConfig, redisCfg config.RedisConfig) (*Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return New(NewMemoryBackend()), nil
	case "redis":
		client, err := NewRedisClient(redisCfg)
		if err != nil {
			return nil, err
		}
		return New(NewRedisBackend(client)), nil
	case "badger":
		backend, err := NewBadgerBackend(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		return New(backend), nil
	default:
		return nil, fmt.Errorf("unknown cache backend: %s", cfg.Backend)
	}
}
