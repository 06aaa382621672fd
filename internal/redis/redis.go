package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"kinechat/internal/config"

	redis "github.com/redis/go-redis/v9"
)

// Client wraps go-redis client to centralize configuration.
type Client struct {
	inner *redis.Client
}

// ErrCacheMiss mirrors redis.Nil for callers.
var ErrCacheMiss = redis.Nil

var errNotInitialized = errors.New("redis client not initialized")

func (c *Client) ready() bool { return c != nil && c.inner != nil }

// NewRedisClient connects and pings the configured server.
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}

	return Connect(ctx, &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Connect builds a client from raw options and verifies it with PING.
func Connect(ctx context.Context, opts *redis.Options) (*Client, error) {
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}
	return &Client{inner: client}, nil
}

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.inner.Ping(ctx).Err()
}

// AppendCapped pushes values to the tail of a list, trims it to the last
// max entries and refreshes its TTL in one round trip.
func (c *Client) AppendCapped(ctx context.Context, key string, max int64, ttl time.Duration, values ...interface{}) error {
	if !c.ready() {
		return errNotInitialized
	}
	pipe := c.inner.TxPipeline()
	pipe.RPush(ctx, key, values...)
	if max > 0 {
		pipe.LTrim(ctx, key, -max, -1)
	}
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Tail returns up to n entries from the end of a list, in list order.
func (c *Client) Tail(ctx context.Context, key string, n int64) ([]string, error) {
	if !c.ready() {
		return nil, errNotInitialized
	}
	if n <= 0 {
		return nil, nil
	}
	return c.inner.LRange(ctx, key, -n, -1).Result()
}

// Del removes provided keys.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if !c.ready() {
		return errNotInitialized
	}
	if len(keys) == 0 {
		return nil
	}
	return c.inner.Del(ctx, keys...).Err()
}

// TTL returns key ttl.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	if !c.ready() {
		return 0, errNotInitialized
	}
	return c.inner.TTL(ctx, key).Result()
}

// Publish sends payload on channel.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) error {
	if !c.ready() {
		return errNotInitialized
	}
	return c.inner.Publish(ctx, channel, payload).Err()
}

// Subscribe opens a subscription; the caller owns the returned PubSub.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if !c.ready() {
		return nil, errNotInitialized
	}
	ps := c.inner.Subscribe(ctx, channels...)
	// Receive blocks until the subscription is confirmed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}
	return ps, nil
}

// Close closes client.
func (c *Client) Close() error {
	if !c.ready() {
		return nil
	}
	return c.inner.Close()
}

// Raw exposes underlying go-redis client.
func (c *Client) Raw() *redis.Client {
	if c == nil {
		return nil
	}
	return c.inner
}
