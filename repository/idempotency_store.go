package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const pendingMarker = "__pending__"

// IdempotencyStore remembers which order an Idempotency-Key produced.
type IdempotencyStore interface {
	// Reserve claims key for a new request. When the key is already known it
	// returns reserved=false and the stored order id, which is empty while the
	// first request is still in flight.
	Reserve(ctx context.Context, key string, ttl time.Duration) (orderID string, reserved bool, err error)
	Complete(ctx context.Context, key, orderID string, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type redisKV interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type RedisIdempotencyStore struct {
	client redisKV
}

func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client}
}

func (s *RedisIdempotencyStore) idemKey(key string) string {
	return "idem:checkout:" + key
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	ok, err := s.client.SetNX(ctx, s.idemKey(key), pendingMarker, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return "", true, nil
	}

	val, err := s.client.Get(ctx, s.idemKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between the two calls; treat as in flight and let the client retry.
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingMarker {
		return "", false, nil
	}
	return val, false, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key, orderID string, ttl time.Duration) error {
	return s.client.Set(ctx, s.idemKey(key), orderID, ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.idemKey(key)).Err()
}

type memoryEntry struct {
	orderID   string
	expiresAt time.Time
}

// MemoryIdempotencyStore is used when no Redis URL is configured. It is
// per-process only.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return e.orderID, false, nil
	}
	s.entries[key] = memoryEntry{expiresAt: now.Add(ttl)}
	return "", true, nil
}

func (s *MemoryIdempotencyStore) Complete(_ context.Context, key, orderID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{orderID: orderID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
