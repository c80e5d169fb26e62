package service

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cooldown gates repeated actions on the same key for a fixed window.
type Cooldown interface {
	// Acquire returns false while a previous acquisition of key is still inside its window.
	Acquire(ctx context.Context, key string, window time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisCooldown shares cooldown windows across API instances.
type RedisCooldown struct {
	client *redis.Client
	prefix string
}

// NewRedisCooldown builds a Redis backed cooldown. Keys are namespaced with prefix.
func NewRedisCooldown(client *redis.Client, prefix string) *RedisCooldown {
	return &RedisCooldown{client: client, prefix: prefix}
}

func (c *RedisCooldown) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	return c.client.SetNX(ctx, c.prefix+key, time.Now().Unix(), window).Result()
}

func (c *RedisCooldown) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// MemoryCooldown keeps windows in process memory. Used when Redis is not configured.
type MemoryCooldown struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryCooldown constructs an in-process cooldown.
func NewMemoryCooldown() *MemoryCooldown {
	return &MemoryCooldown{until: make(map[string]time.Time), now: time.Now}
}

func (c *MemoryCooldown) Acquire(_ context.Context, key string, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if deadline, ok := c.until[key]; ok && now.Before(deadline) {
		return false, nil
	}
	c.until[key] = now.Add(window)

	for k, deadline := range c.until {
		if !now.Before(deadline) {
			delete(c.until, k)
		}
	}
	return true, nil
}

func (c *MemoryCooldown) Release(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.until, key)
	c.mu.Unlock()
	return nil
}
