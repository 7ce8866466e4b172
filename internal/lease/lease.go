// Package lease grants per-identifier processing leases in Redis so workers
// started from different checkpoint snapshots do not process the same thread.
package lease

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL keeps a lease long enough to outlive a typical run.
const DefaultTTL = 24 * time.Hour

type commander interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Config holds Redis connection settings.
type Config struct {
	URL       string
	Password  string
	KeyPrefix string
	TTL       time.Duration
}

// RedisClaimer implements recovery.Claimer with SET NX.
type RedisClaimer struct {
	rdb    commander
	closer func() error
	prefix string
	ttl    time.Duration
}

// NewRedisClaimer connects to Redis and verifies the connection.
func NewRedisClaimer(ctx context.Context, cfg Config) (*RedisClaimer, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	c := newClaimer(rdb, cfg.KeyPrefix, cfg.TTL)
	c.closer = rdb.Close
	return c, nil
}

func newClaimer(rdb commander, prefix string, ttl time.Duration) *RedisClaimer {
	if prefix == "" {
		prefix = "thread-recovery"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisClaimer{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisClaimer) key(id string) string {
	return fmt.Sprintf("%s:lease:%s", c.prefix, id)
}

// Claim takes the lease for id. A lease already held by the same worker
// index counts as granted so a restarted worker can resume its own items.
func (c *RedisClaimer) Claim(ctx context.Context, id string, worker int) (bool, error) {
	owner := strconv.Itoa(worker)
	ok, err := c.rdb.SetNX(ctx, c.key(id), owner, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	if ok {
		return true, nil
	}
	holder, err := c.rdb.Get(ctx, c.key(id)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("get lease holder: %w", err)
	}
	return holder == owner, nil
}

// Release drops the lease for id so another worker may take it.
func (c *RedisClaimer) Release(ctx context.Context, id string) error {
	if err := c.rdb.Del(ctx, c.key(id)).Err(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *RedisClaimer) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Nop grants every claim.
type Nop struct{}

// Claim implements recovery.Claimer.
func (Nop) Claim(context.Context, string, int) (bool, error) { return true, nil }

// Release implements recovery.Claimer.
func (Nop) Release(context.Context, string) error { return nil }
