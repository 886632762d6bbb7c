package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kindled-app/kindled/internal/config"
	"github.com/redis/go-redis/v9"
)

type RedisCache struct {
	Client *redis.Client
}

// NewRedisCache initializes the Redis client from config.
// Only Addr is mandatory, Password/DB are optional.
func NewRedisCache(cfg *config.Config) *RedisCache {
	opts := &redis.Options{
		Addr: cfg.Redis.Addr,
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	if cfg.Redis.DB != 0 {
		opts.DB = cfg.Redis.DB
	}
	return &RedisCache{Client: redis.NewClient(opts)}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.Client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return c.Client.Set(ctx, key, value, ttl).Err()
}

// Get returns the value for key, or "" on cache miss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return val, err
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.Client.Del(ctx, key).Err()
}

// IncrWindow bumps a fixed-window counter, arming the window TTL on first
// increment, and returns the post-increment count. This is the remote
// authoritative primitive the rate-limit guard builds on.
func (c *RedisCache) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.Client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// GetCount reads a counter key, treating a miss as zero.
func (c *RedisCache) GetCount(ctx context.Context, key string) (int64, error) {
	val, err := c.Client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	} else if err != nil {
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// KeyForQuota generates the fixed-window quota key for (user, action).
// The window start is folded into the key so stale windows simply expire.
func (c *RedisCache) KeyForQuota(userID uint64, action string, windowStart int64) string {
	return fmt.Sprintf("quota:%s:%d:%d", action, userID, windowStart)
}

// KeyForUnread generates the aggregate unread-count key for a user.
func (c *RedisCache) KeyForUnread(userID uint64) string {
	return fmt.Sprintf("unread:count:%d", userID)
}

// KeyForFeed generates the ranked-feed snapshot key for a viewer.
func (c *RedisCache) KeyForFeed(viewerID uint64) string {
	return fmt.Sprintf("feed:snapshot:%d", viewerID)
}
