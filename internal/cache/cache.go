// Package cache stores configuration-resolution results so repeated
// prompts skip the round trip to the master backend's /configure endpoint.
// It supports both in-memory (single instance) and Redis (distributed)
// backends.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/surlabs/ilenia-rag-gateway/internal/domain"
)

// Cache defines the interface for resolution cache backends.
type Cache interface {
	Get(ctx context.Context, key string) (domain.Mode, bool)
	Set(ctx context.Context, key string, mode domain.Mode, ttl time.Duration) error
}

// GenerateKey builds a cache key from the resolution inputs: the prompt,
// the caller hints, and the candidate mode list. The candidate list is
// sorted before hashing so the key does not depend on iteration order.
func GenerateKey(prompt, languageHint, domainHint string, available []domain.Mode) string {
	sorted := make([]domain.Mode, len(available))
	copy(sorted, available)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Language != sorted[j].Language {
			return sorted[i].Language < sorted[j].Language
		}
		return sorted[i].Domain < sorted[j].Domain
	})

	data, _ := json.Marshal(struct {
		Prompt    string        `json:"prompt"`
		Language  string        `json:"language"`
		Domain    string        `json:"domain"`
		Available []domain.Mode `json:"available"`
	}{
		Prompt:    prompt,
		Language:  languageHint,
		Domain:    domainHint,
		Available: sorted,
	})

	hash := sha256.Sum256(data)
	return "resolve:" + hex.EncodeToString(hash[:])
}

type InMemoryCache struct {
	mu    sync.RWMutex
	items map[string]*cacheItem
}

type cacheItem struct {
	mode      domain.Mode
	expiresAt time.Time
}

func NewInMemoryCache() *InMemoryCache {
	c := &InMemoryCache{
		items: make(map[string]*cacheItem),
	}
	go c.cleanup()
	return c
}

func (c *InMemoryCache) Get(ctx context.Context, key string) (domain.Mode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.items[key]
	if !ok {
		return domain.Mode{}, false
	}

	if time.Now().After(item.expiresAt) {
		return domain.Mode{}, false
	}

	return item.mode, true
}

func (c *InMemoryCache) Set(ctx context.Context, key string, mode domain.Mode, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = &cacheItem{
		mode:      mode,
		expiresAt: time.Now().Add(ttl),
	}

	return nil
}

func (c *InMemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, item := range c.items {
			if now.After(item.expiresAt) {
				delete(c.items, key)
			}
		}
		c.mu.Unlock()
	}
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCache{client: client}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (domain.Mode, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Mode{}, false
	}

	var mode domain.Mode
	if err := json.Unmarshal(data, &mode); err != nil {
		return domain.Mode{}, false
	}

	return mode, true
}

func (c *RedisCache) Set(ctx context.Context, key string, mode domain.Mode, ttl time.Duration) error {
	data, err := json.Marshal(mode)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, key, data, ttl).Err()
}
