package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient wraps the go-redis client with the hash/pub-sub/list
// operations the bridge needs.
type redisClient struct {
	client *redis.Client
	ctx    context.Context
}

func newRedisClient(addr, password string, db int) (*redisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bridge: connect to redis: %w", err)
	}

	return &redisClient{client: client, ctx: ctx}, nil
}

// writeAndPublish sets a hash field and publishes "field:value" on the key
// as a channel, in one pipeline.
func (c *redisClient) writeAndPublish(key, field, value string) error {
	pipe := c.client.Pipeline()
	pipe.HSet(c.ctx, key, field, value)
	pipe.Publish(c.ctx, key, fmt.Sprintf("%s:%s", field, value))
	_, err := pipe.Exec(c.ctx)
	return err
}

// brPop performs a blocking right pop on a list, returning "" on timeout.
func (c *redisClient) brPop(timeout time.Duration, key string) (string, error) {
	result, err := c.client.BRPop(c.ctx, timeout, key).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// result is []string{key, value}
	if len(result) != 2 {
		return "", fmt.Errorf("bridge: unexpected BRPOP result: %v", result)
	}
	return result[1], nil
}

func (c *redisClient) close() error {
	return c.client.Close()
}
