// Package shard maps routing keys to shard ids.
//
// The mapping is xxhash64 of the key's canonical string form modulo the
// shard count. It is deterministic for a fixed shard count and is not
// rebalance-aware: changing the count invalidates every earlier mapping.
package shard

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"
)

// For returns the shard id for key among shardCount shards.
//
// The key is hashed through its fmt.Sprint form, so 1001 and "1001" map to
// the same shard. A shardCount of zero or less always yields shard 0.
func For(key any, shardCount int) int {
	if shardCount <= 0 {
		return 0
	}

	return int(xxhash.Sum64String(Canonical(key)) % uint64(shardCount))
}

// Canonical returns the string form hashed by For.
func Canonical(key any) string {
	switch k := key.(type) {
	case string:
		return k
	case []byte:
		return string(k)
	case fmt.Stringer:
		return k.String()
	default:
		return fmt.Sprint(k)
	}
}

// Router maps keys onto a fixed number of worker shards.
type Router struct {
	shardCount int
}

// NewRouter creates a router for shardCount shards.
func NewRouter(shardCount int) Router {
	return Router{shardCount: max(shardCount, 0)}
}

// ShardCount returns the number of shards.
func (r Router) ShardCount() int {
	return r.shardCount
}

// ShardFor returns the shard id for key.
func (r Router) ShardFor(key any) int {
	return For(key, r.shardCount)
}

// Distinct returns the sorted set of shard ids touched by keys.
func (r Router) Distinct(keys []any) []int {
	seen := make(map[int]struct{}, len(keys))
	ids := make([]int, 0, len(keys))
	for _, k := range keys {
		id := r.ShardFor(k)
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	return ids
}
