package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Suppressor is a short-lived idempotency cache shared by every producer.
type Suppressor interface {
	// Claim returns true for the first caller of key within the window.
	Claim(ctx context.Context, key string) (bool, error)
}

// RedisSuppressor claims keys with SET NX PX so every API replica shares the
// same window.
type RedisSuppressor struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisSuppressor builds a suppressor on client.
func NewRedisSuppressor(client *redis.Client, ttl time.Duration) *RedisSuppressor {
	if ttl <= 0 {
		ttl = time.Second
	}
	return &RedisSuppressor{client: client, ttl: ttl, prefix: "fanout:suppress:"}
}

func (s *RedisSuppressor) Claim(ctx context.Context, key string) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, 1, s.ttl).Result()
}

// MemorySuppressor is a process-local suppressor.
type MemorySuppressor struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewMemorySuppressor builds a suppressor with the given window.
func NewMemorySuppressor(ttl time.Duration, now func() time.Time) *MemorySuppressor {
	if ttl <= 0 {
		ttl = time.Second
	}
	if now == nil {
		now = time.Now
	}
	return &MemorySuppressor{ttl: ttl, now: now, entries: make(map[string]time.Time)}
}

func (s *MemorySuppressor) Claim(_ context.Context, key string) (bool, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, exp := range s.entries {
		if !now.Before(exp) {
			delete(s.entries, k)
		}
	}
	if _, held := s.entries[key]; held {
		return false, nil
	}
	s.entries[key] = now.Add(s.ttl)
	return true, nil
}
