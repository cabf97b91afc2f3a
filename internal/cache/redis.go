// Package cache stores rendered update pages in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

const defaultTTL = 5 * time.Minute

// Page is the cached rendering of a single update.
type Page struct {
	HTML       string    `json:"html"`
	RenderedAt time.Time `json:"rendered_at"`
}

// Pages is the read-through contract the site uses. A nil Pages disables caching.
type Pages interface {
	GetPage(ctx context.Context, id int64, updatedAt string) (Page, error)
	PutPage(ctx context.Context, id int64, updatedAt string, page Page) error
}

// RedisCache implements Pages using Redis
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisCache{client: client, prefix: "page:", ttl: ttl}
}

// key changes whenever the update is edited, so stale renderings are never served.
func (c *RedisCache) key(id int64, updatedAt string) string {
	return c.prefix + strconv.FormatInt(id, 10) + ":" + updatedAt
}

func (c *RedisCache) GetPage(ctx context.Context, id int64, updatedAt string) (Page, error) {
	raw, err := c.client.Get(ctx, c.key(id, updatedAt)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Page{}, ErrMiss
	}
	if err != nil {
		return Page{}, fmt.Errorf("get page %d: %w", id, err)
	}

	var page Page
	if err := json.Unmarshal(raw, &page); err != nil {
		return Page{}, fmt.Errorf("unmarshal page %d: %w", id, err)
	}
	return page, nil
}

func (c *RedisCache) PutPage(ctx context.Context, id int64, updatedAt string, page Page) error {
	if page.RenderedAt.IsZero() {
		page.RenderedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("marshal page %d: %w", id, err)
	}
	if err := c.client.Set(ctx, c.key(id, updatedAt), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("save page %d: %w", id, err)
	}
	return nil
}

// Invalidate drops every cached rendering of the update.
func (c *RedisCache) Invalidate(ctx context.Context, id int64) error {
	pattern := c.prefix + strconv.FormatInt(id, 10) + ":*"
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan page %d: %w", id, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate page %d: %w", id, err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
