// Package redis owns the shared go-redis connection used by the lock manager
// and the stream dispatcher.
package redis

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"agent-triggers/internal/common/errors"
)

const (
	defaultPoolSize    = 10
	defaultDialTimeout = 5 * time.Second
)

// Config addresses one Redis server
type Config struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// DialTimeout bounds connects and the startup ping
	DialTimeout time.Duration
}

// Client is the process-wide Redis connection pool
type Client struct {
	rdb  *redis.Client
	addr string
}

// NewClient opens a pool and fails fast when the server does not answer
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.ConfigError("redis address is required")
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = defaultPoolSize
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.ConnectionError("redis at "+cfg.Address+" is unreachable", err)
	}

	return &Client{rdb: rdb, addr: cfg.Address}, nil
}

// Redis exposes the pool to libraries that take a go-redis client
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Addr is the server address the pool dials
func (c *Client) Addr() string {
	return c.addr
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health pings the server
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}
