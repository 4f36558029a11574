// Package cache implements the current-period tier of the metric store: one
// mutable row per (tenant, platform, periodID) in Redis, overwritten whenever
// a fresher snapshot is collected, plus the cross-process in-flight guard
// that serializes collections for the same key.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/adpulse/internal/domain"
)

// Entry is one current-period cache row.
type Entry struct {
	Snapshot    domain.MetricSnapshot `json:"snapshot"`
	LastUpdated time.Time             `json:"last_updated"`
}

// CurrentStore persists current-period snapshots in Redis. Writes are whole
// JSON values set atomically, so a reader never observes a partial merge of
// two snapshots; concurrent writers degrade to last-writer-wins.
type CurrentStore struct {
	redis *redis.Client
}

// NewCurrentStore wraps an existing Redis client.
func NewCurrentStore(client *redis.Client) *CurrentStore {
	return &CurrentStore{redis: client}
}

// NewCurrentStoreFromURL connects to Redis and verifies the connection.
func NewCurrentStoreFromURL(redisURL string) (*CurrentStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	log.Printf("[Cache] Connected to Redis at %s", redisURL)

	return &CurrentStore{redis: client}, nil
}

// Client exposes the underlying Redis client so the in-flight guard can
// share the connection.
func (s *CurrentStore) Client() *redis.Client { return s.redis }

func currentKey(tenant, platform, periodID string) string {
	return fmt.Sprintf("adpulse:current:%s:%s:%s", tenant, platform, periodID)
}

// Get returns the cached entry for the key, or nil when no entry exists.
func (s *CurrentStore) Get(ctx context.Context, tenant, platform, periodID string) (*Entry, error) {
	data, err := s.redis.Get(ctx, currentKey(tenant, platform, periodID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get current entry: %w", err)
	}

	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode current entry: %w", err)
	}
	return &e, nil
}

// Put overwrites the entry for the snapshot's key.
func (s *CurrentStore) Put(ctx context.Context, e Entry) error {
	snap := e.Snapshot
	if snap.Period.ID == "" {
		return fmt.Errorf("put current entry: period %s/%s has no canonical id", snap.Period.Start.Format("2006-01-02"), snap.Period.End.Format("2006-01-02"))
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode current entry: %w", err)
	}

	key := currentKey(snap.Tenant, snap.Platform, snap.Period.ID)
	if err := s.redis.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("put current entry: %w", err)
	}
	return nil
}

// Delete removes the entry for the key. Used when migrating a closed period
// into the archive so current-tier lookups for it miss from then on.
func (s *CurrentStore) Delete(ctx context.Context, tenant, platform, periodID string) error {
	if err := s.redis.Del(ctx, currentKey(tenant, platform, periodID)).Err(); err != nil {
		return fmt.Errorf("delete current entry: %w", err)
	}
	return nil
}

// IsStale reports whether the entry's age exceeds the staleness threshold.
// Archive records never pass through here; staleness only applies to the
// mutable tier.
func IsStale(e *Entry, now time.Time, threshold time.Duration) bool {
	if e == nil {
		return true
	}
	return now.Sub(e.LastUpdated) > threshold
}

// Close closes the Redis connection.
func (s *CurrentStore) Close() error {
	return s.redis.Close()
}
