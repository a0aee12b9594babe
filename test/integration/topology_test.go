package integration_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/shardgate"
	"github.com/arloliu/shardgate/config"
	"github.com/arloliu/shardgate/test/testutil"
	"github.com/arloliu/shardgate/topology"
	"github.com/arloliu/shardgate/types"
)

func haMember(host, role string) testutil.ClusterMember {
	return testutil.ClusterMember{Name: host, Host: host, Port: 5432, Role: role, State: "running"}
}

func TestControlPlaneRefreshMovesWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cluster := testutil.NewSQLiteCluster(t)
	for _, host := range []string{"pg-a", "pg-b"} {
		cluster.Exec(t, sqliteNode(host), "CREATE TABLE events (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT)")
	}

	down := testutil.StartFakeControlPlane(t)
	down.SetStatus(http.StatusServiceUnavailable)
	cp := testutil.StartFakeControlPlane(t, haMember("pg-a", "leader"), haMember("pg-b", "replica"))

	cfg := config.Default()
	cfg.Coordinator = sqliteNode("pg-a")
	cfg.Topology.Endpoints = []string{down.Endpoint(), cp.Endpoint()}
	cfg.Topology.HealthCheckInterval = time.Hour

	router, err := shardgate.NewFromConfig(cfg, shardgate.WithDialer(cluster.Dialer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	ctx := t.Context()

	rebuilt, err := router.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Positive(t, down.Requests())

	layout := router.Layout()
	assert.Equal(t, "pg-a", layout.Coordinator.Host)
	require.Len(t, layout.Replicas, 1)
	assert.Equal(t, "pg-b", layout.Replicas[0].Host)

	_, err = router.ExecContext(ctx, shardgate.Write(), "INSERT INTO events (body) VALUES ('before')")
	require.NoError(t, err)

	// Switchover: pg-b is promoted and pg-a rejoins as replica.
	cp.SetMembers(haMember("pg-b", "leader"), haMember("pg-a", "replica"))

	rebuilt, err = router.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, rebuilt)
	assert.Equal(t, "pg-b", router.Layout().Coordinator.Host)

	_, err = router.ExecContext(ctx, shardgate.Write(), "INSERT INTO events (body) VALUES ('after')")
	require.NoError(t, err)

	assert.Equal(t, 1, cluster.QueryInt(t, sqliteNode("pg-a"), "SELECT COUNT(*) FROM events"))
	assert.Equal(t, 1, cluster.QueryInt(t, sqliteNode("pg-b"), "SELECT COUNT(*) FROM events WHERE body = 'after'"))

	stats := router.Stats()
	assert.EqualValues(t, 2, stats.TopologyRefreshes)
	assert.EqualValues(t, 1, stats.Failovers)

	// Unchanged topology leaves the pools alone.
	rebuilt, err = router.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, rebuilt)
}

func TestControlPlaneOutageKeepsPools(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	cluster := testutil.NewSQLiteCluster(t)
	cp := testutil.StartFakeControlPlane(t, haMember("pg-a", "leader"))

	cfg := config.Default()
	cfg.Coordinator = sqliteNode("pg-a")
	cfg.Topology.Endpoints = []string{cp.Endpoint()}

	router, err := shardgate.NewFromConfig(cfg, shardgate.WithDialer(cluster.Dialer))
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	cp.SetStatus(http.StatusBadGateway)

	_, err = router.Refresh(t.Context())
	var topoErr *types.TopologyError
	require.ErrorAs(t, err, &topoErr)
	assert.Equal(t, "pg-a", router.Layout().Coordinator.Host)

	report := router.Health(t.Context())
	assert.True(t, report.Healthy)
	assert.Equal(t, topology.StateDegraded.String(), report.TopologyState)
}

func TestNATSMemberListDrivesRouter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := t.Context()
	kv := testutil.StartTopologyKV(t, "shardgate-topology")

	src, err := topology.NewNATS(kv, topology.WithKey("cluster.main.members"))
	require.NoError(t, err)
	defer src.Close()

	require.NoError(t, src.Publish(ctx, []topology.Member{
		{Host: "pg-a", Port: 5432, Role: topology.RoleLeader},
	}))

	cluster := testutil.NewSQLiteCluster(t)
	for _, host := range []string{"pg-a", "pg-b"} {
		cluster.Exec(t, sqliteNode(host), "CREATE TABLE events (id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT)")
	}

	monitor, err := topology.NewMonitor([]topology.Source{src},
		topology.WithHealthCheckInterval(time.Hour),
		topology.WithNodeTemplate(topology.TemplateFrom(sqliteNode("pg-a"))),
	)
	require.NoError(t, err)

	router, err := shardgate.New(types.Layout{Coordinator: sqliteNode("pg-a")},
		shardgate.WithDialer(cluster.Dialer),
		shardgate.WithMonitor(monitor),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Close() })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = monitor.Run(runCtx) }()
	go func() { _ = router.Follow(runCtx) }()

	require.NoError(t, src.Publish(ctx, []topology.Member{
		{Host: "pg-b", Port: 5432, Role: topology.RoleLeader},
		{Host: "pg-a", Port: 5432, Role: topology.RoleReplica},
	}))

	require.Eventually(t, func() bool {
		return router.Layout().Coordinator.Host == "pg-b"
	}, 5*time.Second, 20*time.Millisecond)

	_, err = router.ExecContext(ctx, shardgate.Write(), "INSERT INTO events (body) VALUES ('pushed')")
	require.NoError(t, err)
	assert.Equal(t, 1, cluster.QueryInt(t, sqliteNode("pg-b"), "SELECT COUNT(*) FROM events"))
	assert.Equal(t, 0, cluster.QueryInt(t, sqliteNode("pg-a"), "SELECT COUNT(*) FROM events"))
}
