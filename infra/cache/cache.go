// Package cache mirrors the latest snapshot of every car into Redis so a
// restarted service, or any other reader, sees the last known state.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilianp07/cariot/core/model"
	"github.com/kilianp07/cariot/infra/logger"
)

// DefaultTTL is how long a snapshot survives without updates.
const DefaultTTL = 24 * time.Hour

const keyPrefix = "car:last:"

// Config holds the Redis connection settings.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Addr       string `json:"addr"`
	Password   string `json:"password"`
	DB         int    `json:"db"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// TTL returns the configured expiration.
func (c Config) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return DefaultTTL
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Validate checks mandatory fields when the cache is enabled.
func (c Config) Validate() error {
	if c.Enabled && c.Addr == "" {
		return errors.New("cache: addr is required")
	}
	return nil
}

// Key returns the Redis key for carID.
func Key(carID string) string { return keyPrefix + carID }

// Applier receives cached snapshots during warm-up.
type Applier interface {
	ApplyFullUpdate(id string, fields map[string]any) bool
}

// SnapshotCache stores the last snapshot per car.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
	log logger.Logger
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*SnapshotCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis unavailable: %w", err)
	}
	return &SnapshotCache{rdb: rdb, ttl: cfg.TTL(), log: logger.New("redis-cache")}, nil
}

// Close releases the connection pool.
func (c *SnapshotCache) Close() error { return c.rdb.Close() }

// Put overwrites the cached snapshot of carID.
func (c *SnapshotCache) Put(ctx context.Context, carID string, snap model.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := c.rdb.Set(ctx, Key(carID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", carID, err)
	}
	return nil
}

// Get returns the cached fields of carID. ok is false when nothing is cached.
func (c *SnapshotCache) Get(ctx context.Context, carID string) (map[string]any, bool, error) {
	raw, err := c.rdb.Get(ctx, Key(carID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false, err
	}
	return fields, true, nil
}

// Warm loads every cached snapshot into dst and returns the number of cars
// restored. Entries that fail to decode are skipped.
func (c *SnapshotCache) Warm(ctx context.Context, dst Applier) (int, error) {
	n := 0
	iter := c.rdb.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		carID := strings.TrimPrefix(key, keyPrefix)
		fields, ok, err := c.Get(ctx, carID)
		if err != nil {
			c.log.Warnf("skip cached snapshot %s: %v", key, err)
			continue
		}
		if !ok {
			continue
		}
		dst.ApplyFullUpdate(carID, fields)
		n++
	}
	if err := iter.Err(); err != nil {
		return n, err
	}
	c.log.Infof("restored %d cars from cache", n)
	return n, nil
}
