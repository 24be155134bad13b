package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/raaihank/phi-sentinel/internal/config"
	"go.uber.org/zap"
)

// RedisStore keeps the audit log in a Redis list, newest at the head
type RedisStore struct {
	client   *redis.Client
	key      string
	capacity int
	logger   *zap.Logger
}

// NewRedisStore connects to cfg.RedisURL and verifies the connection
func NewRedisStore(cfg config.StorageConfig, log *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if cfg.MaxConnections > 0 {
		opts.PoolSize = cfg.MaxConnections
	}
	opts.MinIdleConns = cfg.MinIdleConns

	store := newRedisStore(redis.NewClient(opts), cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := store.client.Ping(ctx).Err(); err != nil {
		store.client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Info("Redis audit store initialized",
		zap.String("redis_url", maskURL(cfg.RedisURL)),
		zap.String("key", store.key),
		zap.Int("capacity", store.capacity))

	return store, nil
}

func newRedisStore(client *redis.Client, cfg config.StorageConfig, log *zap.Logger) *RedisStore {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultStorageCapacity
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "phi-sentinel"
	}
	return &RedisStore{
		client:   client,
		key:      prefix + ":audit:events",
		capacity: capacity,
		logger:   log,
	}
}

// Persist pushes event to the head of the list and trims the tail
func (s *RedisStore) Persist(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, s.key, data)
	pipe.LTrim(ctx, s.key, 0, int64(s.capacity-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to persist audit event: %w", err)
	}
	return nil
}

// LoadAll reads the stored events newest first. Entries that fail to decode
// are skipped.
func (s *RedisStore) LoadAll(ctx context.Context) ([]Event, error) {
	raw, err := s.client.LRange(ctx, s.key, 0, int64(s.capacity-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load audit events: %w", err)
	}

	events := make([]Event, 0, len(raw))
	for _, item := range raw {
		var e Event
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			s.logger.Warn("Skipping corrupted audit entry", zap.Error(err))
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// maskURL hides the password of a connection URL for logging
func maskURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	colon := strings.LastIndex(userPart, ":")
	scheme := strings.Index(userPart, "://")
	if colon < 0 || colon <= scheme+2 {
		return url
	}
	return userPart[:colon+1] + "***" + url[at:]
}
