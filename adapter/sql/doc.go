// Package sql provides the session layer between shardgate pools and database/sql drivers.
//
// # Interfaces
//
//   - [Session]: one live connection (satisfied by *sql.Conn)
//   - [Connector]: opens sessions to one node
//   - [Dialer]: creates a Connector per node
//
// # PostgreSQL
//
// [NewDialer] defaults to lib/pq. The connection string is built from the
// node descriptor, including per-node TLS settings:
//
//	dialer := sqladapter.NewDialer(sqladapter.WithConnectTimeout(3 * time.Second))
//	router, _ := shardgate.New(layout, shardgate.WithDialer(dialer))
//
// Session parameters listed in NodeDescriptor.SessionParams are applied to
// every new session with SET:
//
//	SET statement_timeout = '5s'
//
// # Two-phase commit
//
// [PrepareTransaction], [CommitPrepared] and [RollbackPrepared] build the
// PostgreSQL directives used by distributed transactions. The target server
// must run with max_prepared_transactions > 0.
package sql
