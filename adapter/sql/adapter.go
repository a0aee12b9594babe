// Package sql provides the database session layer used by shardgate pools.
//
// This package defines interfaces over the standard library's database/sql
// types so node pools can hold live sessions to one endpoint each.
package sql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver

	"github.com/arloliu/shardgate/types"
)

// Session is one live connection to a node.
//
// *sql.Conn satisfies this interface. Statements issued on a Session run on
// the same physical connection, which is what transaction directives need.
type Session interface {
	// ExecContext executes a statement without returning any rows.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)

	// QueryContext executes a statement that returns rows.
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// QueryRowContext executes a statement that returns at most one row.
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row

	// PingContext verifies the connection is alive.
	PingContext(ctx context.Context) error

	// Close releases the connection.
	Close() error
}

// Connector opens sessions to a single node.
type Connector interface {
	// Connect establishes a new session.
	Connect(ctx context.Context) (Session, error)

	// Close releases any resources held for the node.
	Close() error
}

// Dialer creates a Connector per node. Every pool gets its own Connector, so
// rebuilding pools never shares state with the pools they replace.
type Dialer interface {
	Open(node types.NodeDescriptor) (Connector, error)
}

// DSNFunc builds a driver data source name for a node.
type DSNFunc func(node types.NodeDescriptor) string

// DialerConfig holds configuration for the database/sql dialer.
type DialerConfig struct {
	// DriverName is the database/sql driver. Default: "postgres" (lib/pq).
	DriverName string

	// DSN builds the data source name. Default: PostgresDSN.
	DSN DSNFunc

	// ConnectTimeout is passed to the DSN builder. Default: 5 seconds.
	ConnectTimeout time.Duration

	// ConnMaxLifetime is applied to the per-node *sql.DB. Zero means unlimited.
	ConnMaxLifetime time.Duration
}

// DialerOption configures a SQL dialer.
type DialerOption func(*DialerConfig)

// WithDriver sets the database/sql driver name.
func WithDriver(name string) DialerOption {
	return func(c *DialerConfig) {
		c.DriverName = name
	}
}

// WithDSNFunc sets the data source name builder.
//
// Example (sqlite files per node, used by the integration tests):
//
//	sqladapter.NewDialer(
//	    sqladapter.WithDriver("sqlite3"),
//	    sqladapter.WithDSNFunc(func(n types.NodeDescriptor) string {
//	        return filepath.Join(dir, n.Host+".db")
//	    }),
//	)
func WithDSNFunc(fn DSNFunc) DialerOption {
	return func(c *DialerConfig) {
		c.DSN = fn
	}
}

// WithConnectTimeout sets the connect timeout passed to the DSN.
func WithConnectTimeout(d time.Duration) DialerOption {
	return func(c *DialerConfig) {
		c.ConnectTimeout = d
	}
}

// WithConnMaxLifetime sets the maximum lifetime of a physical connection.
func WithConnMaxLifetime(d time.Duration) DialerOption {
	return func(c *DialerConfig) {
		c.ConnMaxLifetime = d
	}
}

// SQLDialer opens one *sql.DB per node and hands out dedicated *sql.Conn sessions.
type SQLDialer struct {
	config DialerConfig
}

var _ Dialer = (*SQLDialer)(nil)

// NewDialer creates a database/sql dialer.
//
// The default driver is lib/pq and the DSN is built from the node descriptor
// with PostgresDSN.
func NewDialer(opts ...DialerOption) *SQLDialer {
	config := DialerConfig{
		DriverName:     "postgres",
		ConnectTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(&config)
	}

	if config.DSN == nil {
		timeout := config.ConnectTimeout
		config.DSN = func(n types.NodeDescriptor) string {
			return PostgresDSN(n, timeout)
		}
	}

	return &SQLDialer{config: config}
}

// Open prepares a Connector for node. No network traffic happens until Connect.
func (d *SQLDialer) Open(node types.NodeDescriptor) (Connector, error) {
	db, err := sql.Open(d.config.DriverName, d.config.DSN(node))
	if err != nil {
		return nil, &types.ConfigurationError{Field: "node " + node.Key(), Reason: err.Error()}
	}

	if node.MaxConns > 0 {
		db.SetMaxOpenConns(node.MaxConns)
		db.SetMaxIdleConns(node.MaxConns)
	}
	if d.config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(d.config.ConnMaxLifetime)
	}

	return &sqlConnector{db: db, node: node}, nil
}

type sqlConnector struct {
	db   *sql.DB
	node types.NodeDescriptor
}

// Connect checks out a dedicated connection and applies the session parameters.
func (c *sqlConnector) Connect(ctx context.Context) (Session, error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, err
	}

	for _, stmt := range SessionParamStatements(c.node.SessionParams) {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return nil, errors.Join(err, conn.Close())
		}
	}

	return conn, nil
}

// Close closes the underlying *sql.DB.
func (c *sqlConnector) Close() error {
	return c.db.Close()
}
