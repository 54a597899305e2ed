package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds the configuration for the Redis client.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	CacheTTL time.Duration `yaml:"ttl"`
}

// LoadRedisConfigFromEnv reads REDIS_ADDR, REDIS_PASSWORD, REDIS_DB and
// REDIS_TTL_SECONDS. A zero TTL keeps keys until they are deleted.
func LoadRedisConfigFromEnv() *RedisConfig {
	cfg := &RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
	}
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.DB = db
	}
	if ttl, err := strconv.Atoi(os.Getenv("REDIS_TTL_SECONDS")); err == nil && ttl > 0 {
		cfg.CacheTTL = time.Duration(ttl) * time.Second
	}
	return cfg
}

// RedisPresenceCache is a PresenceCache shared between processes, storing each
// value as JSON under its key.
type RedisPresenceCache[K comparable, V any] struct {
	redisClient *redis.Client
	logger      zerolog.Logger
	ttl         time.Duration
}

// NewRedisPresenceCache connects and pings Redis before returning.
func NewRedisPresenceCache[K comparable, V any](
	ctx context.Context,
	cfg *RedisConfig,
	logger zerolog.Logger,
) (*RedisPresenceCache[K, V], error) {
	if cfg == nil || cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis for presence cache: %w", err)
	}
	logger.Info().Str("redis_address", cfg.Addr).Msg("Connected to Redis for presence cache.")

	return &RedisPresenceCache[K, V]{
		redisClient: rdb,
		logger:      logger.With().Str("component", "RedisPresenceCache").Logger(),
		ttl:         cfg.CacheTTL,
	}, nil
}

func (c *RedisPresenceCache[K, V]) Set(ctx context.Context, key K, value V) error {
	stringKey := fmt.Sprintf("%v", key)
	jsonData, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal presence data for key %s: %w", stringKey, err)
	}
	if err := c.redisClient.Set(ctx, stringKey, jsonData, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set presence in redis for key %s: %w", stringKey, err)
	}
	return nil
}

func (c *RedisPresenceCache[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	stringKey := fmt.Sprintf("%v", key)
	cachedData, err := c.redisClient.Get(ctx, stringKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, fmt.Errorf("%s: %w", stringKey, ErrNotFound)
		}
		return zero, fmt.Errorf("redis get failed for key %s: %w", stringKey, err)
	}
	var value V
	if err := json.Unmarshal(cachedData, &value); err != nil {
		return zero, fmt.Errorf("failed to unmarshal presence data for key %s: %w", stringKey, err)
	}
	return value, nil
}

func (c *RedisPresenceCache[K, V]) Delete(ctx context.Context, key K) error {
	stringKey := fmt.Sprintf("%v", key)
	if err := c.redisClient.Del(ctx, stringKey).Err(); err != nil {
		return fmt.Errorf("redis del failed for key %s: %w", stringKey, err)
	}
	return nil
}

// Close closes the Redis client connection.
func (c *RedisPresenceCache[K, V]) Close() error {
	if c.redisClient != nil {
		return c.redisClient.Close()
	}
	return nil
}
