package shardgate

import (
	"context"
	"strconv"

	"github.com/google/uuid"

	sqladapter "github.com/arloliu/shardgate/adapter/sql"
	"github.com/arloliu/shardgate/pool"
	"github.com/arloliu/shardgate/types"
)

type participantState int

const (
	stateActive participantState = iota
	statePrepared
	stateCommitted
	stateDone
)

// participant is one shard of a distributed transaction.
type participant struct {
	shardID int
	gid     string
	pool    *pool.Pool
	handle  *Handle
	state   participantState
}

// transactionName returns the prepared transaction name of one shard.
func transactionName(txID string, shardID int) string {
	return "sg_" + txID + "_shard_" + strconv.Itoa(shardID)
}

// DistributedTransaction runs fn with one handle per shard touched by
// shardKeys and finishes with a two-phase commit.
//
// Every participating shard gets its own session and transaction. When fn
// returns nil, each shard is prepared under the name sg_<txid>_shard_<id>,
// then every shard is committed. When fn fails or panics, every shard rolls
// back and fn's error is returned unchanged.
//
// A failed prepare or commit rolls back every shard that is prepared but not
// committed and returns *types.DistributedTransactionError. After a failed
// commit, shards listed in Committed are durable while the others are rolled
// back: the final state across shards is mixed. A crash between prepare and
// commit leaves prepared transactions behind; their names are reported in
// PreparedNames for manual reconciliation. Sessions always go back to their
// pools.
//
// The handles map is keyed by shard id. Without workers every key maps to
// shard 0, served by the coordinator.
//
// Parameters:
//   - ctx: Context for cancellation/timeout
//   - shardKeys: Keys whose shards take part; duplicates are collapsed
//   - fn: Work to run against the per-shard handles
//
// Returns:
//   - error: fn's error, a begin error, or *types.DistributedTransactionError
func (r *Router) DistributedTransaction(ctx context.Context, shardKeys []any, fn func(map[int]*Handle) error) (err error) {
	if r.closed.Load() {
		return types.ErrRouterClosed
	}
	if len(shardKeys) == 0 {
		return types.ErrNoShardKeys
	}

	set := r.pools.Load()
	r.stats.count(types.OpWrite)
	defer func() {
		if err != nil {
			r.stats.errors.Add(1)
		}
	}()

	txID := uuid.NewString()
	ids := set.shards.Distinct(shardKeys)
	parts := make([]*participant, 0, len(ids))

	defer func() {
		rec := recover()
		if rec != nil {
			r.abort(ctx, parts)
		}
		for _, pt := range parts {
			r.release(pt.pool, pt.handle)
		}
		if rec != nil {
			panic(rec)
		}
	}()

	// Begin one transaction per shard.
	for _, id := range ids {
		p, routed := set.forShard(id)
		r.metrics.IncOperation(types.OpWrite, p.Node().Role)

		session, err := p.Acquire(ctx)
		if err != nil {
			r.abort(ctx, parts)
			r.metrics.IncDistributedAbort(types.PhaseBegin)
			return err
		}

		pt := &participant{
			shardID: id,
			gid:     transactionName(txID, id),
			pool:    p,
			handle:  newHandle(ctx, session, p.Node(), routed),
		}
		parts = append(parts, pt)

		if err := pt.handle.exec(ctx, sqladapter.StmtBegin); err != nil {
			pt.handle.broken = true
			pt.state = stateDone
			r.abort(ctx, parts)
			r.metrics.IncDistributedAbort(types.PhaseBegin)
			return err
		}
	}

	handles := make(map[int]*Handle, len(parts))
	for _, pt := range parts {
		handles[pt.shardID] = pt.handle
	}

	if err := fn(handles); err != nil {
		r.abort(ctx, parts)
		r.metrics.IncDistributedAbort(types.PhaseRollback)
		r.logger.Debug("distributed transaction rolled back", "tx", txID, "shards", ids, "error", err)
		return err
	}

	// Phase one.
	for _, pt := range parts {
		if err := pt.handle.exec(ctx, sqladapter.PrepareTransaction(pt.gid)); err != nil {
			// PostgreSQL turns a failed PREPARE TRANSACTION into a rollback; the
			// participant stays active so engines that keep the transaction open
			// still get a ROLLBACK.
			return r.finalizeFailed(ctx, txID, types.PhasePrepare, parts, err)
		}
		pt.state = statePrepared
	}

	// Phase two.
	for _, pt := range parts {
		if err := pt.handle.exec(ctx, sqladapter.CommitPrepared(pt.gid)); err != nil {
			return r.finalizeFailed(ctx, txID, types.PhaseCommit, parts, err)
		}
		pt.state = stateCommitted
	}

	r.metrics.IncDistributedCommit()
	r.logger.Debug("distributed transaction committed", "tx", txID, "shards", ids)

	return nil
}

// finalizeFailed rolls back what can still be rolled back and builds the error.
// The error records the state before cleanup.
func (r *Router) finalizeFailed(ctx context.Context, txID string, phase types.TxPhase, parts []*participant, cause error) error {
	txErr := &types.DistributedTransactionError{
		TxID:          txID,
		Phase:         phase,
		PreparedNames: make(map[int]string),
		Cause:         cause,
	}
	for _, pt := range parts {
		switch pt.state {
		case statePrepared:
			txErr.Prepared = append(txErr.Prepared, pt.shardID)
			txErr.PreparedNames[pt.shardID] = pt.gid
		case stateCommitted:
			txErr.Prepared = append(txErr.Prepared, pt.shardID)
			txErr.Committed = append(txErr.Committed, pt.shardID)
			txErr.PreparedNames[pt.shardID] = pt.gid
		}
	}

	r.abort(ctx, parts)
	r.metrics.IncDistributedAbort(phase)
	r.logger.Error("distributed transaction failed",
		"tx", txID,
		"phase", phase,
		"prepared", txErr.Prepared,
		"committed", txErr.Committed,
		"error", cause,
	)

	return txErr
}

// abort rolls back every participant that is not committed: ROLLBACK for open
// transactions and ROLLBACK PREPARED for prepared ones.
func (r *Router) abort(ctx context.Context, parts []*participant) {
	for _, pt := range parts {
		switch pt.state {
		case stateActive:
			r.rollback(ctx, pt.handle, sqladapter.StmtRollback)
		case statePrepared:
			r.rollbackPrepared(ctx, pt)
		default:
			continue
		}
		pt.state = stateDone
	}
}

// rollbackPrepared runs ROLLBACK PREPARED on the participant's session, or
// on a fresh session of the same pool when that one broke.
func (r *Router) rollbackPrepared(ctx context.Context, pt *participant) {
	directive := sqladapter.RollbackPrepared(pt.gid)
	if !pt.handle.broken {
		r.rollback(ctx, pt.handle, directive)
		if !pt.handle.broken {
			return
		}
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.CleanupTimeout)
	defer cancel()

	session, err := pt.pool.Acquire(cctx)
	if err != nil {
		r.logger.Error("prepared transaction left behind", "gid", pt.gid, "node", pt.pool.Node().String(), "error", err)
		return
	}

	h := newHandle(cctx, session, pt.pool.Node(), pt.handle.shardID)
	if err := h.exec(cctx, directive); err != nil {
		r.logger.Error("prepared transaction left behind", "gid", pt.gid, "node", pt.pool.Node().String(), "error", err)
	}
	r.release(pt.pool, h)
}
