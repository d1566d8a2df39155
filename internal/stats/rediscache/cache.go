// Package rediscache keeps recomputed statistics snapshots in Redis.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"civicq/records-service/internal/models"
)

const defaultPrefix = "records:stats:"

type Cache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl, prefix: defaultPrefix}
}

// Dial parses a redis:// URL and verifies the server answers.
func Dial(ctx context.Context, url string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return New(client, ttl), nil
}

func (c *Cache) key(dimension string) string {
	return c.prefix + dimension
}

func (c *Cache) Get(ctx context.Context, dimension string) (models.StatisticsSnapshot, bool, error) {
	raw, err := c.client.Get(ctx, c.key(dimension)).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.StatisticsSnapshot{}, false, nil
	}
	if err != nil {
		return models.StatisticsSnapshot{}, false, fmt.Errorf("get snapshot %s: %w", dimension, err)
	}
	var snap models.StatisticsSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return models.StatisticsSnapshot{}, false, fmt.Errorf("decode snapshot %s: %w", dimension, err)
	}
	return snap, true, nil
}

func (c *Cache) Set(ctx context.Context, snapshot models.StatisticsSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", snapshot.Dimension, err)
	}
	return c.client.Set(ctx, c.key(snapshot.Dimension), raw, c.ttl).Err()
}

// Invalidate drops every cached dimension.
func (c *Cache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan snapshot keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *Cache) Close() error {
	return c.client.Close()
}
