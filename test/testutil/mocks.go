package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"sync/atomic"

	sqladapter "github.com/arloliu/shardgate/adapter/sql"
	"github.com/arloliu/shardgate/types"
)

// ErrQueryNotSupported is returned by MockSession for row-returning calls.
// Tests that need rows use sqlite through the real dialer.
var ErrQueryNotSupported = errors.New("testutil: mock session does not return rows")

// Statement is one statement recorded by a MockSession.
type Statement struct {
	// Node is the node key ("host:port") the statement ran against.
	Node string
	// Session is a per-dialer sequence number identifying the session.
	Session int64
	SQL     string
}

// ExecHook decides the outcome of a statement. Returning a non-nil error fails
// the statement; the statement is still recorded.
type ExecHook func(node types.NodeDescriptor, query string) error

// MockDialer is a mock implementation of sqladapter.Dialer that records every
// statement executed on its sessions.
type MockDialer struct {
	mu          sync.RWMutex
	statements  []Statement
	connectErrs map[string]error
	hook        ExecHook
	pingErr     map[string]error

	sessionSeq atomic.Int64
	connects   atomic.Int64
	open       atomic.Int64
	opened     atomic.Int64
	closed     atomic.Int64
}

// Compile-time assertion that MockDialer implements sqladapter.Dialer.
var _ sqladapter.Dialer = (*MockDialer)(nil)

// NewMockDialer creates a new mock dialer.
func NewMockDialer() *MockDialer {
	return &MockDialer{
		connectErrs: make(map[string]error),
		pingErr:     make(map[string]error),
	}
}

// Open returns a connector for node.
func (d *MockDialer) Open(node types.NodeDescriptor) (sqladapter.Connector, error) {
	d.opened.Add(1)
	return &mockConnector{dialer: d, node: node}, nil
}

// SetConnectError makes Connect fail for the node key. A nil error clears it.
func (d *MockDialer) SetConnectError(nodeKey string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil {
		delete(d.connectErrs, nodeKey)
		return
	}
	d.connectErrs[nodeKey] = err
}

// SetPingError makes PingContext fail for the node key. A nil error clears it.
func (d *MockDialer) SetPingError(nodeKey string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err == nil {
		delete(d.pingErr, nodeKey)
		return
	}
	d.pingErr[nodeKey] = err
}

// SetExecHook installs a hook consulted on every ExecContext.
func (d *MockDialer) SetExecHook(hook ExecHook) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hook = hook
}

// Statements returns a copy of every recorded statement in execution order.
func (d *MockDialer) Statements() []Statement {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Statement, len(d.statements))
	copy(out, d.statements)

	return out
}

// StatementsFor returns the SQL text recorded against one node.
func (d *MockDialer) StatementsFor(nodeKey string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []string
	for _, s := range d.statements {
		if s.Node == nodeKey {
			out = append(out, s.SQL)
		}
	}

	return out
}

// CountStatement returns how many times query was executed across all nodes.
func (d *MockDialer) CountStatement(query string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, s := range d.statements {
		if s.SQL == query {
			n++
		}
	}

	return n
}

// Reset clears the statement log.
func (d *MockDialer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.statements = nil
}

// Connects returns the number of successful Connect calls.
func (d *MockDialer) Connects() int64 { return d.connects.Load() }

// OpenSessions returns the number of sessions not yet closed.
func (d *MockDialer) OpenSessions() int64 { return d.open.Load() }

// ConnectorsOpened returns the number of connectors created.
func (d *MockDialer) ConnectorsOpened() int64 { return d.opened.Load() }

// ConnectorsClosed returns the number of connectors closed.
func (d *MockDialer) ConnectorsClosed() int64 { return d.closed.Load() }

func (d *MockDialer) exec(node types.NodeDescriptor, session int64, query string) error {
	d.mu.Lock()
	d.statements = append(d.statements, Statement{Node: node.Key(), Session: session, SQL: query})
	hook := d.hook
	d.mu.Unlock()

	if hook != nil {
		return hook(node, query)
	}

	return nil
}

type mockConnector struct {
	dialer *MockDialer
	node   types.NodeDescriptor
	closed atomic.Bool
}

func (c *mockConnector) Connect(ctx context.Context) (sqladapter.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.dialer.mu.RLock()
	err := c.dialer.connectErrs[c.node.Key()]
	c.dialer.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	c.dialer.connects.Add(1)
	c.dialer.open.Add(1)

	return &MockSession{
		dialer: c.dialer,
		node:   c.node,
		id:     c.dialer.sessionSeq.Add(1),
	}, nil
}

func (c *mockConnector) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.dialer.closed.Add(1)
	}

	return nil
}

// MockSession is a mock implementation of sqladapter.Session.
type MockSession struct {
	dialer *MockDialer
	node   types.NodeDescriptor
	id     int64
	closed atomic.Bool
}

// Compile-time assertion that MockSession implements sqladapter.Session.
var _ sqladapter.Session = (*MockSession)(nil)

// ExecContext records the statement and consults the dialer hook.
func (s *MockSession) ExecContext(ctx context.Context, query string, _ ...any) (sql.Result, error) {
	if s.closed.Load() {
		return nil, driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.dialer.exec(s.node, s.id, query); err != nil {
		return nil, err
	}

	return driver.RowsAffected(1), nil
}

// QueryContext is not supported by the mock.
func (s *MockSession) QueryContext(_ context.Context, _ string, _ ...any) (*sql.Rows, error) {
	return nil, ErrQueryNotSupported
}

// QueryRowContext is not supported by the mock and returns nil.
func (s *MockSession) QueryRowContext(_ context.Context, _ string, _ ...any) *sql.Row {
	return nil
}

// PingContext fails when the session is closed or a ping error is set.
func (s *MockSession) PingContext(ctx context.Context) error {
	if s.closed.Load() {
		return driver.ErrBadConn
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.dialer.mu.RLock()
	defer s.dialer.mu.RUnlock()

	return s.dialer.pingErr[s.node.Key()]
}

// Close marks the session closed.
func (s *MockSession) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.dialer.open.Add(-1)
	}

	return nil
}

// IsClosed returns whether the session has been closed.
func (s *MockSession) IsClosed() bool {
	return s.closed.Load()
}

// Node returns the node the session is connected to.
func (s *MockSession) Node() types.NodeDescriptor {
	return s.node
}
