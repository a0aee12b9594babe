package shardgate

import (
	"sync/atomic"

	"github.com/arloliu/shardgate/types"
)

// statistics holds the router counters. Every field only grows.
type statistics struct {
	total             atomic.Uint64
	reads             atomic.Uint64
	writes            atomic.Uint64
	errors            atomic.Uint64
	retries           atomic.Uint64
	failovers         atomic.Uint64
	topologyRefreshes atomic.Uint64
}

// count records one operation and returns the read sequence number
// (1-based) when op is a read, 0 otherwise.
func (s *statistics) count(op types.OperationType) uint64 {
	s.total.Add(1)
	if op == types.OpRead {
		return s.reads.Add(1)
	}
	s.writes.Add(1)

	return 0
}

func (s *statistics) snapshot() types.QueryStatistics {
	return types.QueryStatistics{
		Total:             s.total.Load(),
		Reads:             s.reads.Load(),
		Writes:            s.writes.Load(),
		Errors:            s.errors.Load(),
		Retries:           s.retries.Load(),
		Failovers:         s.failovers.Load(),
		TopologyRefreshes: s.topologyRefreshes.Load(),
	}
}
