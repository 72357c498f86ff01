package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client caches finished AggregatedRecords keyed by query hash so
// repeated lookups for the same entity skip the whole pipeline.
type Client struct {
	client *redis.Client
	logger *zap.Logger
}

func NewClient(host string, port int, password string, db int, log *zap.Logger) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, logger: log}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) SetRecord(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if err := c.client.Set(ctx, recordKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set record cache: %w", err)
	}

	c.logger.Debug("Record cached", zap.String("key", key), zap.Duration("ttl", ttl))
	return nil
}

func (c *Client) GetRecord(ctx context.Context, key string, out interface{}) (bool, error) {
	data, err := c.client.Get(ctx, recordKey(key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get record cache: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	c.logger.Debug("Record cache hit", zap.String("key", key))
	return true, nil
}

// InvalidateRecords drops every cached record, for use after the
// domain table or scoring weights change.
func (c *Client) InvalidateRecords(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "record:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			c.logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	c.logger.Info("Record cache invalidated")
	return nil
}

func recordKey(key string) string {
	return fmt.Sprintf("record:%s", key)
}
