package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"officehub/internal/platform/config"
)

// Client is the shared go-redis client. It satisfies redis.UniversalClient so
// the event transport can take it directly.
type Client struct {
	redis.UniversalClient
}

// New connects to cfg.URL and verifies the connection within ctx.
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis URL is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return &Client{UniversalClient: client}, nil
}

// Health reports whether the server answers PING.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
