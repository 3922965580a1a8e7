package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const redisCounterPrefix = "care-relay:ratelimit:"

// RedisCounter is an httprate.LimitCounter shared by every relay instance
// pointing at the same Redis.
type RedisCounter struct {
	rdb     redis.UniversalClient
	prefix  string
	window  time.Duration
	timeout time.Duration
}

// NewRedisCounter wraps rdb. Keys expire after a few windows.
func NewRedisCounter(rdb redis.UniversalClient) *RedisCounter {
	return &RedisCounter{
		rdb:     rdb,
		prefix:  redisCounterPrefix,
		window:  time.Minute,
		timeout: 500 * time.Millisecond,
	}
}

// Config implements httprate.LimitCounter.
func (c *RedisCounter) Config(_ int, windowLength time.Duration) {
	c.window = windowLength
}

// Increment implements httprate.LimitCounter.
func (c *RedisCounter) Increment(key string, currentWindow time.Time) error {
	return c.IncrementBy(key, currentWindow, 1)
}

// IncrementBy implements httprate.LimitCounter.
func (c *RedisCounter) IncrementBy(key string, currentWindow time.Time, amount int) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	k := c.key(key, currentWindow)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.IncrBy(ctx, k, int64(amount))
		pipe.Expire(ctx, k, 3*c.window)
		return nil
	})
	return errors.Wrap(err, "redis rate counter increment")
}

// Get implements httprate.LimitCounter.
func (c *RedisCounter) Get(key string, currentWindow, previousWindow time.Time) (int, int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	values, err := c.rdb.MGet(ctx, c.key(key, currentWindow), c.key(key, previousWindow)).Result()
	if err != nil {
		return 0, 0, errors.Wrap(err, "redis rate counter get")
	}

	curr, err := parseCount(values[0])
	if err != nil {
		return 0, 0, err
	}
	prev, err := parseCount(values[1])
	if err != nil {
		return 0, 0, err
	}
	return curr, prev, nil
}

func (c *RedisCounter) key(key string, window time.Time) string {
	return fmt.Sprintf("%s%s:%d", c.prefix, key, window.UnixMilli())
}

func parseCount(v interface{}) (int, error) {
	switch val := v.(type) {
	case nil:
		return 0, nil
	case string:
		n, err := strconv.Atoi(val)
		if err != nil {
			return 0, errors.Wrapf(err, "parse rate counter value %q", val)
		}
		return n, nil
	default:
		return 0, errors.Errorf("unexpected rate counter value %T", v)
	}
}
