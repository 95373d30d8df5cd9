package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/biokg/backend/pkg/logger"
	"github.com/biokg/backend/pkg/utils"
)

const normalizationNamespace = "pubtator"

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	if _, err := client.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetExternalIDs caches the identifiers found for an entity name.
func (c *Client) SetExternalIDs(ctx context.Context, name string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to marshal ids: %w", err)
	}

	key := utils.CacheKey(normalizationNamespace, name)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set normalization cache: %w", err)
	}

	logger.Debug("Normalization cached", zap.String("name", name), zap.Duration("ttl", c.ttl))
	return nil
}

// GetExternalIDs returns cached identifiers for name. ok is false on a miss;
// an empty slice is a cached negative result.
func (c *Client) GetExternalIDs(ctx context.Context, name string) (ids []string, ok bool, err error) {
	data, err := c.client.Get(ctx, utils.CacheKey(normalizationNamespace, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get normalization cache: %w", err)
	}

	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal ids: %w", err)
	}

	logger.Debug("Normalization cache hit", zap.String("name", name))
	return ids, true, nil
}

// InvalidateNormalization drops every cached lookup.
func (c *Client) InvalidateNormalization(ctx context.Context) (int, error) {
	deleted := 0
	iter := c.client.Scan(ctx, 0, normalizationNamespace+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
			continue
		}
		deleted++
	}

	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Normalization cache invalidated", zap.Int("deleted", deleted))
	return deleted, nil
}
