// Package integration_test provides end-to-end integration tests for the
// shardgate router.
//
// These tests drive the router against real SQL engines instead of the mock
// dialer used by the unit tests.
//
// # Running Integration Tests
//
// Integration tests are skipped by default when using -short flag:
//
//	go test -short ./...           # Skips integration tests
//	go test ./test/integration/... # Runs integration tests
//
// # SQLite Tests
//
// Routing, handle scopes and rollback paths run against one sqlite file per
// node through the real SQL dialer. They need the go-sqlite3 driver (cgo).
//
// # Control Plane Tests
//
// Topology refresh and failover run against a fake HTTP control plane and an
// embedded NATS server with JetStream.
//
// # PostgreSQL Tests
//
// Two-phase commit tests require Docker and use testcontainers to start one
// PostgreSQL instance per node with max_prepared_transactions enabled.
package integration_test
