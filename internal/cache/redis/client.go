package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/research-agent/backend/internal/storage/models"
	"github.com/research-agent/backend/pkg/logger"
)

// Client backs the query cache with Redis. SetNX gives the
// first-writer-wins contract; TTL expiry keeps Get honest.
type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func cacheKey(queryHash string) string {
	return fmt.Sprintf("query:%s", queryHash)
}

func (c *Client) Get(ctx context.Context, queryHash string) (*models.CachedAnswer, error) {
	data, err := c.client.Get(ctx, cacheKey(queryHash)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get query cache: %w", err)
	}

	var entry models.CachedAnswer
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	logger.Debug("Query cache hit", zap.String("query_hash", queryHash))
	return &entry, nil
}

func (c *Client) PutIfAbsent(ctx context.Context, queryHash string, entry *models.CachedAnswer, ttl time.Duration) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	set, err := c.client.SetNX(ctx, cacheKey(queryHash), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to write query cache: %w", err)
	}
	if !set {
		logger.Debug("Query cache entry already present, keeping first writer",
			zap.String("query_hash", queryHash),
		)
	}
	return nil
}
