package shardgate_test

import (
	"database/sql/driver"
	"errors"
	"strings"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/shardgate"
	"github.com/arloliu/shardgate/shard"
	"github.com/arloliu/shardgate/test/testutil"
	"github.com/arloliu/shardgate/types"
)

// keysForShards returns one key per shard in want.
func keysForShards(t *testing.T, n int, want ...int) []any {
	t.Helper()

	found := make(map[int]any)
	for i := 0; len(found) < len(want) && i < 10000; i++ {
		id := shard.For(i, n)
		for _, w := range want {
			if w == id {
				if _, ok := found[id]; !ok {
					found[id] = i
				}
			}
		}
	}
	require.Len(t, found, len(want))

	keys := make([]any, 0, len(want))
	for _, w := range want {
		keys = append(keys, found[w])
	}

	return keys
}

func distributedLayout() types.Layout {
	return types.Layout{
		Coordinator: node("c"),
		Workers:     []types.NodeDescriptor{node("w0"), node("w1"), node("w2")},
	}
}

func TestDistributedTransactionCommitsOncePerShard(t *testing.T) {
	collector := testutil.NewTestMetricsCollector()
	router, dialer := newRouter(t, distributedLayout(), shardgate.WithMetrics(collector))
	keys := keysForShards(t, 3, 0, 2)

	err := router.DistributedTransaction(t.Context(), append(keys, keys[0]), func(handles map[int]*shardgate.Handle) error {
		require.Len(t, handles, 2)
		for id, h := range handles {
			hid, ok := h.ShardID()
			require.True(t, ok)
			require.Equal(t, id, hid)
			if _, err := h.ExecContext(h.Context(), "UPDATE"); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	for _, key := range []string{"w0:5432", "w2:5432"} {
		stmts := dialer.StatementsFor(key)
		require.Len(t, stmts, 4, key)
		assert.Equal(t, "BEGIN", stmts[0])
		assert.Equal(t, "UPDATE", stmts[1])
		assert.Regexp(t, `^PREPARE TRANSACTION 'sg_[0-9a-f-]{36}_shard_\d'$`, stmts[2])
		assert.Equal(t, strings.Replace(stmts[2], "PREPARE TRANSACTION", "COMMIT PREPARED", 1), stmts[3])
		assert.Equal(t, 1, countPrefix(dialer, key, "COMMIT PREPARED"))
	}
	require.Empty(t, dialer.StatementsFor("w1:5432"))
	require.EqualValues(t, 1, collector.GetDistributedCommits())
	for _, nh := range router.Health(t.Context()).Nodes {
		require.Zero(t, nh.Pool.InUse, nh.Node)
	}
}

func TestDistributedTransactionCallerErrorRollsBack(t *testing.T) {
	router, dialer := newRouter(t, distributedLayout())
	keys := keysForShards(t, 3, 0, 1)
	boom := errors.New("boom")

	err := router.DistributedTransaction(t.Context(), keys, func(handles map[int]*shardgate.Handle) error {
		for _, h := range handles {
			if _, err := h.ExecContext(h.Context(), "UPDATE"); err != nil {
				return err
			}
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	for _, key := range []string{"w0:5432", "w1:5432"} {
		require.Equal(t, []string{"BEGIN", "UPDATE", "ROLLBACK"}, dialer.StatementsFor(key))
	}
	require.Zero(t, countPrefix(dialer, "w0:5432", "PREPARE"))
}

func TestDistributedTransactionPrepareFailure(t *testing.T) {
	collector := testutil.NewTestMetricsCollector()
	router, dialer := newRouter(t, distributedLayout(), shardgate.WithMetrics(collector))
	keys := keysForShards(t, 3, 0, 1)

	dialer.SetExecHook(func(n types.NodeDescriptor, query string) error {
		if n.Host == "w1" && strings.HasPrefix(query, "PREPARE TRANSACTION") {
			return &pq.Error{Code: "55000", Message: "prepared transactions are disabled"}
		}
		return nil
	})

	err := router.DistributedTransaction(t.Context(), keys, func(map[int]*shardgate.Handle) error { return nil })

	var txErr *types.DistributedTransactionError
	require.ErrorAs(t, err, &txErr)
	require.Equal(t, types.PhasePrepare, txErr.Phase)
	require.Equal(t, []int{0}, txErr.Prepared)
	require.Empty(t, txErr.Committed)
	require.Contains(t, txErr.PreparedNames[0], "_shard_0")

	require.Equal(t, 1, countPrefix(dialer, "w0:5432", "ROLLBACK PREPARED"))
	require.Zero(t, countPrefix(dialer, "w0:5432", "COMMIT PREPARED"))
	require.Zero(t, countPrefix(dialer, "w1:5432", "COMMIT PREPARED"))
	require.EqualValues(t, 1, collector.GetDistributedAborts(types.PhasePrepare))
}

func TestDistributedTransactionCommitFailure(t *testing.T) {
	router, dialer := newRouter(t, distributedLayout())
	keys := keysForShards(t, 3, 0, 2)

	dialer.SetExecHook(func(n types.NodeDescriptor, query string) error {
		if n.Host == "w2" && strings.HasPrefix(query, "COMMIT PREPARED") {
			return driver.ErrBadConn
		}
		return nil
	})

	err := router.DistributedTransaction(t.Context(), keys, func(map[int]*shardgate.Handle) error { return nil })

	var txErr *types.DistributedTransactionError
	require.ErrorAs(t, err, &txErr)
	require.Equal(t, types.PhaseCommit, txErr.Phase)
	require.Equal(t, []int{0, 2}, txErr.Prepared)
	require.Equal(t, []int{0}, txErr.Committed)
	require.Len(t, txErr.PreparedNames, 2)
	require.Equal(t, types.ClassNonTransient, txErr.ErrorClass())

	// The broken session is replaced for the cleanup.
	require.Equal(t, 1, countPrefix(dialer, "w2:5432", "ROLLBACK PREPARED"))
	require.Zero(t, countPrefix(dialer, "w0:5432", "ROLLBACK"))
}

func TestDistributedTransactionPanicRollsBackAndReleases(t *testing.T) {
	collector := testutil.NewTestMetricsCollector()
	router, dialer := newRouter(t, distributedLayout(), shardgate.WithMetrics(collector))
	keys := keysForShards(t, 3, 0, 2)

	require.PanicsWithValue(t, "kaboom", func() {
		_ = router.DistributedTransaction(t.Context(), keys, func(handles map[int]*shardgate.Handle) error {
			for _, h := range handles {
				if _, err := h.ExecContext(h.Context(), "UPDATE"); err != nil {
					return err
				}
			}
			panic("kaboom")
		})
	})

	for _, key := range []string{"w0:5432", "w2:5432"} {
		require.Equal(t, []string{"BEGIN", "UPDATE", "ROLLBACK"}, dialer.StatementsFor(key))
	}
	require.Zero(t, collector.GetDistributedCommits())
	for _, nh := range router.Health(t.Context()).Nodes {
		require.Zero(t, nh.Pool.InUse, nh.Node)
	}

	// The pools are still usable.
	err := router.DistributedTransaction(t.Context(), keys, func(map[int]*shardgate.Handle) error { return nil })
	require.NoError(t, err)
}

func TestDistributedTransactionWithoutWorkersUsesCoordinator(t *testing.T) {
	router, dialer := newRouter(t, types.Layout{Coordinator: node("c")})

	err := router.DistributedTransaction(t.Context(), []any{"alice", "bob"}, func(handles map[int]*shardgate.Handle) error {
		require.Len(t, handles, 1)
		h := handles[0]
		require.NotNil(t, h)

		_, ok := h.ShardID()
		require.False(t, ok, "coordinator handle has no shard id")
		require.Equal(t, "c:5432", h.Node().Key())

		_, err := h.ExecContext(h.Context(), "UPDATE")
		return err
	})
	require.NoError(t, err)

	stmts := dialer.StatementsFor("c:5432")
	require.Len(t, stmts, 4)
	require.Equal(t, "BEGIN", stmts[0])
	require.Regexp(t, `^PREPARE TRANSACTION 'sg_[0-9a-f-]{36}_shard_0'$`, stmts[2])
	require.True(t, strings.HasPrefix(stmts[3], "COMMIT PREPARED"))
}

func TestDistributedTransactionWithoutShardKeys(t *testing.T) {
	router, _ := newRouter(t, distributedLayout())

	err := router.DistributedTransaction(t.Context(), nil, func(map[int]*shardgate.Handle) error { return nil })
	require.ErrorIs(t, err, types.ErrNoShardKeys)
}
