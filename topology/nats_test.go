package topology_test

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/shardgate/test/testutil"
	"github.com/arloliu/shardgate/topology"
	"github.com/arloliu/shardgate/types"
)

func TestNewNATSNilKV(t *testing.T) {
	_, err := topology.NewNATS(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "KeyValue store is nil")
}

func TestNewNATSDefaults(t *testing.T) {
	kv := testutil.StartTopologyKV(t, "test-defaults")

	src, err := topology.NewNATS(kv)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "shardgate.topology.members", src.Config().Key)
	assert.Equal(t, 5*time.Second, src.Config().PollInterval)
	assert.Equal(t, 10*time.Second, src.Config().FetchTimeout)
	assert.Equal(t, "nats:shardgate.topology.members", src.Name())
}

func TestNewNATSOptions(t *testing.T) {
	kv := testutil.StartTopologyKV(t, "test-options")

	src, err := topology.NewNATS(kv,
		topology.WithKey("cluster.main.members"),
		topology.WithPollInterval(10*time.Second),
		topology.WithFetchTimeout(30*time.Second),
	)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, "cluster.main.members", src.Config().Key)
	assert.Equal(t, 10*time.Second, src.Config().PollInterval)
	assert.Equal(t, 30*time.Second, src.Config().FetchTimeout)
}

func TestNATSMembersMissingKey(t *testing.T) {
	kv := testutil.StartTopologyKV(t, "test-missing")

	src, err := topology.NewNATS(kv)
	require.NoError(t, err)
	defer src.Close()

	_, err = src.Members(t.Context())
	require.ErrorIs(t, err, jetstream.ErrKeyNotFound)
}

func TestNATSPublishAndRead(t *testing.T) {
	kv := testutil.StartTopologyKV(t, "test-publish")

	src, err := topology.NewNATS(kv)
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Publish(t.Context(), []topology.Member{leader("a"), replica("b")}))

	members, err := src.Members(t.Context())
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.True(t, members[0].IsLeader())

	// Raw bare arrays written by other tooling are accepted too.
	_, err = kv.Put(t.Context(), src.Config().Key, []byte(`[{"host":"z","port":5432,"role":"leader"}]`))
	require.NoError(t, err)

	members, err = src.Members(t.Context())
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "z", members[0].Host)
}

func TestNATSWatchNotifiesOnChange(t *testing.T) {
	kv := testutil.StartTopologyKV(t, "test-watch")

	src, err := topology.NewNATS(kv)
	require.NoError(t, err)
	defer src.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	updates := src.Watch(ctx)
	require.Equal(t, updates, src.Watch(ctx), "second Watch returns the same channel")

	// Give the watcher time to subscribe.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, src.Publish(ctx, []topology.Member{leader("a")}))

	select {
	case _, ok := <-updates:
		require.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for member list notification")
	}
}

func TestNATSWatchClosedOnClose(t *testing.T) {
	kv := testutil.StartTopologyKV(t, "test-close")

	src, err := topology.NewNATS(kv)
	require.NoError(t, err)

	updates := src.Watch(t.Context())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	select {
	case _, ok := <-updates:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("updates channel not closed")
	}
}

func TestMonitorFollowsNATSFailover(t *testing.T) {
	kv := testutil.StartTopologyKV(t, "test-monitor")

	src, err := topology.NewNATS(kv)
	require.NoError(t, err)
	defer src.Close()
	require.NoError(t, src.Publish(t.Context(), []topology.Member{leader("a"), replica("b")}))

	m, err := topology.NewMonitor([]topology.Source{src}, topology.WithHealthCheckInterval(time.Hour))
	require.NoError(t, err)

	snap, _, err := m.Refresh(t.Context())
	require.NoError(t, err)
	require.Equal(t, "a:5432", snap.Topology.Primary.Key())

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	go func() { _ = m.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, src.Publish(t.Context(), []topology.Member{leader("b"), replica("a")}))

	require.Eventually(t, func() bool {
		current, ok := m.Current()
		return ok && current.Topology.Primary.Key() == "b:5432"
	}, 3*time.Second, 10*time.Millisecond, "monitor did not pick up the new leader")

	current, _ := m.Current()
	require.Equal(t, types.RolePrimaryHA, current.Topology.Primary.Role)
	require.EqualValues(t, 2, current.Version)
}
