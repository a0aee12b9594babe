package shardgate

import (
	"context"
	"database/sql"

	sqladapter "github.com/arloliu/shardgate/adapter/sql"
	"github.com/arloliu/shardgate/retry"
	"github.com/arloliu/shardgate/types"
)

// Handle is a session scoped to one WithHandle or DistributedTransaction
// call. It runs inside a transaction opened by the router and must not be
// used after the scope returns.
//
// Statement failures are returned as *types.TransientExecutionError or
// *types.NonTransientExecutionError so the retry executor can classify them.
type Handle struct {
	ctx     context.Context
	session sqladapter.Session
	node    types.NodeDescriptor
	shardID int
	broken  bool
}

func newHandle(ctx context.Context, session sqladapter.Session, node types.NodeDescriptor, shardID int) *Handle {
	return &Handle{ctx: ctx, session: session, node: node, shardID: shardID}
}

// Context returns the context of the scope, bounded by Options.Timeout.
func (h *Handle) Context() context.Context {
	return h.ctx
}

// Node returns the node the handle is connected to.
func (h *Handle) Node() types.NodeDescriptor {
	return h.node
}

// ShardID returns the shard the handle was routed to. ok is false when the
// handle serves the coordinator or a replica.
func (h *Handle) ShardID() (id int, ok bool) {
	return h.shardID, h.shardID >= 0
}

// Session returns the underlying session for calls the handle does not wrap.
func (h *Handle) Session() sqladapter.Session {
	return h.session
}

// ExecContext executes a statement that returns no rows.
func (h *Handle) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := h.session.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, h.fail(err)
	}

	return res, nil
}

// QueryContext executes a statement that returns rows.
func (h *Handle) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := h.session.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, h.fail(err)
	}

	return rows, nil
}

// QueryRowContext executes a statement expected to return at most one row.
// Errors are deferred until Scan.
func (h *Handle) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return h.session.QueryRowContext(ctx, query, args...)
}

// exec runs a directive issued by the router itself.
func (h *Handle) exec(ctx context.Context, directive string) error {
	_, err := h.session.ExecContext(ctx, directive)
	if err != nil {
		return h.fail(err)
	}

	return nil
}

func (h *Handle) fail(err error) error {
	if retry.ConnectionLost(err) {
		h.broken = true
	}

	return retry.WrapExecution(h.node.Key(), err)
}
