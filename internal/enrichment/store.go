// Package enrichment fetches per-lawyer enrichment data from the external
// feature store through a read-through TTL cache with in-flight
// de-duplication, a retry policy and an upstream rate limit.
package enrichment

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/casematch/internal/feature"
)

// KeyPrefix namespaces enrichment cache keys.
const KeyPrefix = "casematch:enrich:"

// Entry is one cached enrichment result. A nil Profile records that the
// upstream had no data for the lawyer.
type Entry struct {
	Profile    *feature.Profile `cbor:"profile,omitempty"`
	Confidence float64          `cbor:"confidence"`
	FetchedAt  time.Time        `cbor:"fetched_at"`
}

// Store is a TTL key-value store for cache entries.
type Store interface {
	// Get returns the entry for key. ok is false on a miss or expiry.
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)
	// Set stores entry under key for ttl.
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

type memoryItem struct {
	entry     Entry
	expiresAt time.Time
}

// MemoryStore is an in-process Store. Expired items are dropped lazily on
// read and in bulk by Purge.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]memoryItem),
		now:   time.Now,
	}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	s.mu.RLock()
	item, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return Entry{}, false, nil
	}
	if !s.now().Before(item.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && !s.now().Before(cur.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return Entry{}, false, nil
	}
	return item.entry, true, nil
}

// Set implements Store.
func (s *MemoryStore) Set(_ context.Context, key string, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	s.items[key] = memoryItem{entry: entry, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Purge removes expired items and returns how many were removed.
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, item := range s.items {
		if !now.Before(item.expiresAt) {
			delete(s.items, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored items, including expired ones not yet
// purged.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// RedisStore is a Store backed by Redis. Entries are CBOR encoded.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a RedisStore on an existing client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Entry{}, false, nil
		}
		return Entry{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var entry Entry
	if err := cbor.Unmarshal(data, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return entry, true, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	data, err := cbor.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}
