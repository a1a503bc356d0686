package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// DefaultTTL bounds staleness of cached read models.
	DefaultTTL  = 60 * time.Second
	keyPrefix   = "quorum:"
	pingTimeout = 3 * time.Second
)

// Store is a Redis cache-aside layer for read-only ranking responses. A Store
// without a client is valid and turns every operation into a no-op.
type Store struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// Open connects to redisURL. An empty URL, an invalid URL or a failed ping yields
// a disabled Store rather than an error.
func Open(redisURL string, ttl time.Duration, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if redisURL == "" {
		logger.Info("redis cache disabled", zap.String("reason", "no url configured"))
		return NewStore(nil, ttl, logger)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis cache disabled", zap.String("reason", "invalid url"), zap.Error(err))
		return NewStore(nil, ttl, logger)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis cache disabled", zap.String("reason", "ping failed"), zap.Error(err))
		_ = rdb.Close()
		return NewStore(nil, ttl, logger)
	}
	logger.Info("redis cache enabled", zap.Duration("ttl", ttl))
	return NewStore(rdb, ttl, logger)
}

// NewStore wraps an existing client. client may be nil.
func NewStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{rdb: client, ttl: ttl, logger: logger}
}

// Enabled reports whether a Redis client is attached.
func (s *Store) Enabled() bool {
	return s != nil && s.rdb != nil
}

// Client returns the underlying client for health checks. May be nil.
func (s *Store) Client() *redis.Client {
	if s == nil {
		return nil
	}
	return s.rdb
}

// Get decodes the cached value into dest and reports whether it was present.
func (s *Store) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	if !s.Enabled() {
		return false, nil
	}
	data, err := s.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return true, nil
}

// Set stores value under key for the configured TTL.
func (s *Store) Set(ctx context.Context, key string, value interface{}) error {
	if !s.Enabled() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, keyPrefix+key, data, s.ttl).Err()
}

// Close shuts down the Redis connection.
func (s *Store) Close() error {
	if !s.Enabled() {
		return nil
	}
	return s.rdb.Close()
}

// Remember returns the cached value for key or loads, stores and returns a fresh one.
// Cache failures are logged and fall through to load.
func Remember[T any](ctx context.Context, store *Store, key string, load func(context.Context) (T, error)) (T, error) {
	if store.Enabled() {
		var cached T
		hit, err := store.Get(ctx, key, &cached)
		if err != nil {
			store.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		if hit {
			return cached, nil
		}
	}
	value, err := load(ctx)
	if err != nil {
		return value, err
	}
	if store.Enabled() {
		if err := store.Set(ctx, key, value); err != nil {
			store.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return value, nil
}
