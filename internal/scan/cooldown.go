package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown decides whether an identity may be marked again. It only saves
// work: the ledger stays idempotent whatever the cooldown answers.
type Cooldown interface {
	// Allow reports whether key is outside its cooldown and, if so, starts a
	// new cooldown of ttl for it.
	Allow(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release ends key's cooldown early. The loop calls it when the mark
	// that started the cooldown did not go through.
	Release(ctx context.Context, key string) error
}

// MemoryCooldown keeps cooldowns in process memory.
type MemoryCooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryCooldown creates an empty in-memory cooldown.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{until: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryCooldown) Allow(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if until, ok := m.until[key]; ok && now.Before(until) {
		return false, nil
	}
	m.until[key] = now.Add(ttl)

	// Drop expired keys so long scans do not grow the map without bound.
	for k, until := range m.until {
		if !now.Before(until) {
			delete(m.until, k)
		}
	}
	return true, nil
}

func (m *MemoryCooldown) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.until, key)
	return nil
}

// RedisCooldown shares cooldowns between scanners through Redis SET NX PX.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldown creates a cooldown storing keys under prefix.
func NewRedisCooldown(client *redis.Client, prefix string) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: prefix}
}

func (r *RedisCooldown) Allow(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis cooldown: %w", err)
	}
	return ok, nil
}

func (r *RedisCooldown) Release(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis cooldown release: %w", err)
	}
	return nil
}

// DialRedis connects to url and pings it.
// Returns nil if the URL is empty (Redis not configured).
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}
