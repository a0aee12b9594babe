package shardgate

import (
	"context"
	"errors"
	"time"

	"github.com/arloliu/shardgate/types"
)

// CachedQuery returns the cached value for key or runs load through Execute
// and caches its result for ttl.
//
// Cache failures other than a miss are logged and treated as a miss; a value
// that cannot be stored is still returned.
//
// Parameters:
//   - ctx: Context for cancellation/timeout
//   - opts: Routing options for load
//   - key: Cache key
//   - ttl: Time to live of the cached value
//   - load: Produces the value on a miss
//
// Returns:
//   - any: The cached or loaded value
//   - error: types.ErrNoCache without a configured cache, or load's error
func (r *Router) CachedQuery(ctx context.Context, opts types.Options, key string, ttl time.Duration, load func(*Handle) (any, error)) (any, error) {
	cache := r.config.Cache
	if cache == nil {
		return nil, types.ErrNoCache
	}

	v, err := cache.Get(ctx, key)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, types.ErrCacheMiss) {
		r.logger.Warn("cache read failed", "key", key, "error", err)
	}

	var out any
	err = r.Execute(ctx, opts, func(h *Handle) error {
		var err error
		out, err = load(h)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := cache.Set(ctx, key, out, ttl); err != nil {
		r.logger.Warn("cache write failed", "key", key, "error", err)
	}

	return out, nil
}
