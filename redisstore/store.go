// Package redisstore implements unireq.CacheStore on Redis so several
// processes can share one HTTP cache.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	unireq "github.com/oorabona/unireq-sub005"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("redisstore: store is closed")

// Config holds the connection settings.
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	// Prefix namespaces every key.
	Prefix string `yaml:"prefix" json:"prefix"`
	// Retention keeps entries this long past their expiry so conditional
	// requests can still revalidate them. Negative disables Redis expiry.
	Retention time.Duration `yaml:"retention" json:"retention"`
	PoolSize  int           `yaml:"pool_size" json:"pool_size"`
}

// DefaultConfig returns the default store configuration.
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		Prefix:    "unireq:cache:",
		Retention: 24 * time.Hour,
		PoolSize:  10,
	}
}

// Store is a CacheStore backed by Redis. Entries are stored as JSON.
type Store struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	logger    *zap.Logger

	mu     sync.RWMutex
	closed bool
}

var _ unireq.CacheStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s := NewWithClient(client, cfg, logger)
	s.logger.Info("redis cache store initialized", zap.String("addr", cfg.Addr), zap.String("prefix", s.prefix))
	return s, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.Retention == 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	return &Store{
		client:    client,
		prefix:    cfg.Prefix,
		retention: cfg.Retention,
		logger:    logger.With(zap.String("component", "redis-cache")),
	}
}

// Name identifies the store in inspection output.
func (s *Store) Name() string { return "redis" }

// Get implements unireq.CacheStore.
func (s *Store) Get(ctx context.Context, key string) (*unireq.CacheEntry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, false, ErrClosed
	}

	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		s.logger.Error("cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false, fmt.Errorf("cache get failed: %w", err)
	}

	var entry unireq.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}
	return &entry, true, nil
}

// Set implements unireq.CacheStore.
func (s *Store) Set(ctx context.Context, key string, entry *unireq.CacheEntry) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, s.expiration(entry)).Err(); err != nil {
		s.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// expiration is the Redis TTL: time to expiry plus retention. Zero means
// no expiry.
func (s *Store) expiration(entry *unireq.CacheEntry) time.Duration {
	if s.retention < 0 {
		return 0
	}
	ttl := time.Until(entry.ExpiresAt)
	if ttl < 0 {
		ttl = 0
	}
	ttl += s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

// Delete implements unireq.CacheStore.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		s.logger.Error("cache delete failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache delete failed: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}
