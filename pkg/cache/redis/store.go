// Package redis implements the Redis storage backend for the response
// cache. Entries are stored as JSON under namespaced keys with a
// server-side TTL, so expiry filtering happens in Redis itself.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/soundmirror/soundmirror/pkg/cache"
	"github.com/soundmirror/soundmirror/pkg/logging"
)

// Type identifies this backend kind for configuration purposes.
const Type = "redis"

// entry is the persisted form of a cached response.
type entry struct {
	Name      string    `json:"name,omitempty"`
	CachedAt  time.Time `json:"cached_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Data      string    `json:"data"`
}

// Store is a Redis-backed cache.Backend. All repositories opened against
// the same store share one client; keys are namespaced as
// <namespace>:<repository>:<method>:<id>[:<offset>:<size>].
type Store struct {
	client    *goredis.Client
	namespace string
	closed    atomic.Bool
	logger    zerolog.Logger
}

// Connect wraps an existing Redis client. The namespace isolates this
// cache's keys from other users of the same Redis database.
func Connect(ctx context.Context, client *goredis.Client, namespace string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if namespace == "" {
		return nil, fmt.Errorf("cache namespace is required")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{
		client:    client,
		namespace: namespace,
		logger:    logging.NewLogger("redis-cache").With().Str("namespace", namespace).Logger(),
	}, nil
}

// Type implements cache.Backend.
func (s *Store) Type() string { return Type }

// CreateRepository is a no-op beyond a connectivity check: Redis needs no
// schema for a new key prefix.
func (s *Store) CreateRepository(ctx context.Context, settings cache.RequestSettings) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	return nil
}

// Count scans the repository's key prefix. Redis drops expired entries
// server-side, so the count is identical with and without expired
// entries included.
func (s *Store) Count(ctx context.Context, settings cache.RequestSettings, includeExpired bool) (int, error) {
	if s.closed.Load() {
		return 0, cache.ErrClosed
	}

	count := 0
	iter := s.client.Scan(ctx, 0, s.prefix(settings)+"*", 0).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan %s keys: %w", settings.Name(), err)
	}
	return count, nil
}

// Contains reports whether a non-expired entry exists for the key.
func (s *Store) Contains(ctx context.Context, settings cache.RequestSettings, key cache.Key) (bool, error) {
	if s.closed.Load() {
		return false, cache.ErrClosed
	}

	exists, err := s.client.Exists(ctx, s.key(settings, key)).Result()
	if err != nil {
		return false, fmt.Errorf("check %s key: %w", settings.Name(), err)
	}
	return exists > 0, nil
}

// Get returns the stored value for the key. A missing key or an entry
// past its recorded expiry reads as not found.
func (s *Store) Get(ctx context.Context, settings cache.RequestSettings, key cache.Key) (string, bool, error) {
	if s.closed.Load() {
		return "", false, cache.ErrClosed
	}

	raw, err := s.client.Get(ctx, s.key(settings, key)).Bytes()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s key: %w", settings.Name(), err)
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return "", false, fmt.Errorf("decode %s entry: %w", settings.Name(), err)
	}
	if time.Now().After(e.ExpiresAt) {
		return "", false, nil
	}
	return e.Data, true, nil
}

// Set fully replaces the entry for the key, with a server-side TTL
// matching the recorded expiry.
func (s *Store) Set(ctx context.Context, settings cache.RequestSettings, key cache.Key, name, value string, expiresAt time.Time) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}

	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry{
		Name:      name,
		CachedAt:  time.Now(),
		ExpiresAt: expiresAt,
		Data:      value,
	})
	if err != nil {
		return fmt.Errorf("encode %s entry: %w", settings.Name(), err)
	}

	if err := s.client.Set(ctx, s.key(settings, key), raw, ttl).Err(); err != nil {
		return fmt.Errorf("write %s key: %w", settings.Name(), err)
	}
	return nil
}

// Delete removes the entry for the key, reporting whether one existed.
func (s *Store) Delete(ctx context.Context, settings cache.RequestSettings, key cache.Key) (bool, error) {
	if s.closed.Load() {
		return false, cache.ErrClosed
	}

	removed, err := s.client.Del(ctx, s.key(settings, key)).Result()
	if err != nil {
		return false, fmt.Errorf("delete %s key: %w", settings.Name(), err)
	}
	return removed > 0, nil
}

// Clear removes the repository's entries. With expiredOnly set it removes
// nothing: Redis has already dropped expired entries server-side.
func (s *Store) Clear(ctx context.Context, settings cache.RequestSettings, expiredOnly bool) (int, error) {
	if s.closed.Load() {
		return 0, cache.ErrClosed
	}
	if expiredOnly {
		return 0, nil
	}

	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix(settings)+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return removed, fmt.Errorf("delete %s key: %w", settings.Name(), err)
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("scan %s keys: %w", settings.Name(), err)
	}
	return removed, nil
}

// Commit is a no-op: writes are applied immediately.
func (s *Store) Commit(ctx context.Context) error {
	if s.closed.Load() {
		return cache.ErrClosed
	}
	return nil
}

// Close releases the Redis client. Repositories sharing it fail with
// ErrClosed on their next use.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close redis client: %w", err)
	}
	return nil
}

func (s *Store) prefix(settings cache.RequestSettings) string {
	return s.namespace + ":" + settings.Name() + ":"
}

// key renders a cache key deterministically, component order fixed by the
// settings' fields.
func (s *Store) key(settings cache.RequestSettings, key cache.Key) string {
	parts := make([]string, 0, len(settings.Fields()))
	for _, value := range key.Values(settings.Fields()) {
		switch v := value.(type) {
		case string:
			parts = append(parts, v)
		case int:
			parts = append(parts, strconv.Itoa(v))
		}
	}
	return s.prefix(settings) + strings.Join(parts, ":")
}
