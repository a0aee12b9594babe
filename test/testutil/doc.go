// Package testutil provides test utilities and fakes for shardgate testing.
//
// # Fakes
//
//   - [MockDialer]: sqladapter.Dialer whose sessions record every statement
//     and fail on demand through an [ExecHook]
//   - [TestMetricsCollector]: types.MetricsCollector keeping counters in memory
//   - [FakeControlPlane]: HTTP server answering GET /cluster like an HA
//     control plane member
//
// # Usage
//
//	dialer := testutil.NewMockDialer()
//	dialer.SetExecHook(func(node types.NodeDescriptor, query string) error {
//	    if node.Host == "pg-coord" && strings.HasPrefix(query, "INSERT") {
//	        return driver.ErrBadConn
//	    }
//	    return nil
//	})
//
//	router, _ := shardgate.New(layout, shardgate.WithDialer(dialer))
//
// # Integration Test Helpers
//
//   - [NewSQLiteCluster]: one sqlite file per node behind the real SQL dialer
//   - [StartEmbeddedNATS], [StartTopologyKV]: embedded NATS server with a
//     JetStream KV bucket for the member list source
//   - [StartPostgres], [StartPostgresCluster]: PostgreSQL containers with
//     prepared transactions enabled (requires Docker)
package testutil
