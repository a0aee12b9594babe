// Package rediscache implements the shardgate result cache on redis.
//
// Values are encoded with MessagePack (github.com/tinylib/msgp), so cached
// results keep their basic Go types: strings, numbers, bools, []byte,
// time.Time, and maps and slices of those. A decoded map is a
// map[string]any and a decoded slice is []any.
//
//	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	router, _ := shardgate.New(layout,
//	    shardgate.WithCache(rediscache.New(client, rediscache.WithPrefix("orders:"))),
//	)
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tinylib/msgp/msgp"

	"github.com/arloliu/shardgate/types"
)

// DefaultPrefix is prepended to every key.
const DefaultPrefix = "shardgate:"

// Client is the subset of redis commands the cache uses. Both
// *redis.Client and redis.UniversalClient satisfy it.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Option configures a Cache.
type Option func(*Cache)

// WithPrefix sets the key prefix.
//
// Default: "shardgate:"
func WithPrefix(prefix string) Option {
	return func(c *Cache) {
		c.prefix = prefix
	}
}

// Cache stores query results in redis.
type Cache struct {
	client Client
	prefix string
}

// New creates a cache over client.
func New(client Client, opts ...Option) *Cache {
	c := &Cache{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the value stored under key.
//
// Returns:
//   - any: The decoded value
//   - error: types.ErrCacheMiss when the key is absent or expired, a decode
//     error, or the redis error
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, types.ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}

	return Decode(raw)
}

// Set stores value under key for ttl. A ttl of zero keeps the key until it
// is deleted.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := Encode(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.prefix+key, raw, ttl).Err()
}

// Delete removes key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

// Encode serializes v as MessagePack.
func Encode(v any) ([]byte, error) {
	raw, err := msgp.AppendIntf(nil, v)
	if err != nil {
		return nil, fmt.Errorf("rediscache: encode %T: %w", v, err)
	}

	return raw, nil
}

// Decode parses a value produced by Encode.
func Decode(raw []byte) (any, error) {
	v, rest, err := msgp.ReadIntfBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("rediscache: decode: %w", err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("rediscache: decode: %d trailing bytes", len(rest))
	}

	return v, nil
}
