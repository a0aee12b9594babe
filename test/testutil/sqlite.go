package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
	"github.com/stretchr/testify/require"

	sqladapter "github.com/arloliu/shardgate/adapter/sql"
	"github.com/arloliu/shardgate/types"
)

// SQLiteCluster stores one sqlite file per node in a temporary directory.
// Nodes are told apart by host; the port is ignored.
type SQLiteCluster struct {
	Dir    string
	Dialer *sqladapter.SQLDialer
}

// NewSQLiteCluster creates an empty sqlite cluster removed after the test.
func NewSQLiteCluster(t *testing.T) *SQLiteCluster {
	t.Helper()

	c := &SQLiteCluster{Dir: t.TempDir()}
	c.Dialer = sqladapter.NewDialer(
		sqladapter.WithDriver("sqlite3"),
		sqladapter.WithDSNFunc(c.DSN),
	)

	return c
}

// DSN returns the sqlite file of node. The busy timeout lets concurrent
// sessions on the same file wait for each other.
func (c *SQLiteCluster) DSN(node types.NodeDescriptor) string {
	return "file:" + filepath.Join(c.Dir, node.Host+".db") + "?_busy_timeout=5000"
}

// Exec runs statements directly against node, outside any router.
func (c *SQLiteCluster) Exec(t *testing.T, node types.NodeDescriptor, stmts ...string) {
	t.Helper()

	db, err := sql.Open("sqlite3", c.DSN(node))
	require.NoError(t, err)
	defer db.Close()

	for _, stmt := range stmts {
		_, err := db.ExecContext(context.Background(), stmt)
		require.NoError(t, err, stmt)
	}
}

// QueryInt runs a single-value query directly against node.
func (c *SQLiteCluster) QueryInt(t *testing.T, node types.NodeDescriptor, query string, args ...any) int {
	t.Helper()

	db, err := sql.Open("sqlite3", c.DSN(node))
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRowContext(context.Background(), query, args...).Scan(&n))

	return n
}
