package shardgate

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	sqladapter "github.com/arloliu/shardgate/adapter/sql"
	"github.com/arloliu/shardgate/config"
	"github.com/arloliu/shardgate/failover"
	"github.com/arloliu/shardgate/internal/logging"
	"github.com/arloliu/shardgate/internal/metrics"
	"github.com/arloliu/shardgate/pool"
	"github.com/arloliu/shardgate/retry"
	"github.com/arloliu/shardgate/shard"
	"github.com/arloliu/shardgate/topology"
	"github.com/arloliu/shardgate/types"
)

// Router routes operations to per-node connection pools.
//
// One Router is shared by every goroutine of an application. Routing reads
// the current pool set without locking; topology changes build a complete
// new pool set and swap it in atomically.
type Router struct {
	config   *RouterConfig
	logger   types.Logger
	metrics  types.MetricsCollector
	executor *retry.Executor
	monitor  TopologyMonitor
	failover FailoverCoordinator

	pools atomic.Pointer[poolSet]
	stats statistics

	// topoMu serializes pool set replacement.
	topoMu      sync.Mutex
	applied     uint64
	lastFetched time.Time

	closed atomic.Bool
}

// poolSet is the immutable set of pools for one layout.
type poolSet struct {
	layout      types.Layout
	coordinator *pool.Pool
	workers     []*pool.Pool
	byShard     map[int]*pool.Pool
	replicas    []*pool.Pool
	shards      shard.Router
}

// route applies the selection rules in order: reads go round-robin over the
// replicas, shard keys go to the worker serving their shard, everything else
// goes to the coordinator.
func (s *poolSet) route(opts types.Options, readSeq uint64) (*pool.Pool, int) {
	if opts.Operation == types.OpRead && opts.Consistency != types.ConsistencyPrimary && len(s.replicas) > 0 {
		return s.replicas[(readSeq-1)%uint64(len(s.replicas))], -1
	}
	if opts.ShardKey != nil && len(s.workers) > 0 {
		return s.forShard(s.shards.ShardFor(opts.ShardKey))
	}

	return s.coordinator, -1
}

// forShard returns the worker serving id, or the coordinator when no worker does.
func (s *poolSet) forShard(id int) (*pool.Pool, int) {
	if p, ok := s.byShard[id]; ok {
		return p, id
	}

	return s.coordinator, -1
}

func (s *poolSet) all() []*pool.Pool {
	out := make([]*pool.Pool, 0, 1+len(s.workers)+len(s.replicas))
	out = append(out, s.coordinator)
	out = append(out, s.workers...)
	out = append(out, s.replicas...)

	return out
}

func (s *poolSet) close() error {
	var errs []error
	for _, p := range s.all() {
		if err := p.CloseAll(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// New creates a Router for layout and opens every node pool.
//
// Nodes without a role get the role of their position (coordinator, worker,
// replica); workers without a shard id serve the shard of their index.
//
// Parameters:
//   - layout: Coordinator, workers and replicas to build pools for
//   - opts: Optional configuration
//
// Returns:
//   - *Router: The router, ready for use
//   - error: *types.ConfigurationError before any pool is built, or the
//     error of the first pool that failed to warm up
func New(layout types.Layout, opts ...Option) (*Router, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	layout = normalizeLayout(layout)
	if err := validate(cfg, layout); err != nil {
		return nil, err
	}

	r := &Router{
		config:  cfg,
		logger:  logging.OrNop(cfg.Logger),
		metrics: metrics.OrNop(cfg.Metrics),
		monitor: cfg.Monitor,
	}
	r.executor = retry.New(cfg.Retry,
		retry.WithLogger(r.logger),
		retry.WithOnRetry(func(retry.Attempt) {
			r.stats.retries.Add(1)
			r.metrics.IncRetry()
		}),
	)

	r.failover = cfg.Failover
	if r.failover == nil && cfg.Monitor != nil {
		r.failover = failover.New(cfg.Monitor,
			failover.WithTimeout(cfg.FailoverTimeout),
			failover.WithPollInterval(cfg.FailoverPollInterval),
			failover.WithLogger(r.logger),
			failover.WithMetrics(r.metrics),
		)
	}

	if seeder, ok := cfg.Monitor.(interface{ Seed(types.ClusterTopology) }); ok {
		seeder.Seed(types.ClusterTopology{Primary: layout.Coordinator, Replicas: layout.Replicas})
	}

	set, err := r.buildPools(context.Background(), layout)
	if err != nil {
		return nil, err
	}
	r.pools.Store(set)

	r.logger.Info("router started",
		"coordinator", layout.Coordinator.Key(),
		"workers", len(layout.Workers),
		"replicas", len(layout.Replicas),
	)

	return r, nil
}

// NewFromConfig creates a Router from a loaded configuration. Options are
// applied after the values taken from cfg.
//
// A monitor over cfg.Topology.Endpoints is created when endpoints are
// configured and no WithMonitor option overrides it.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Router, error) {
	if cfg == nil {
		return nil, &types.ConfigurationError{Field: "config", Reason: "is nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{
		WithRetryConfig(cfg.Retry),
		WithAcquireTimeout(cfg.Pool.AcquireTimeout),
		WithFailover(cfg.Failover.Timeout, cfg.Failover.PollInterval),
		WithDialer(sqladapter.NewDialer(sqladapter.WithConnectTimeout(cfg.Pool.ConnectTimeout))),
	}

	probe := DefaultConfig()
	for _, opt := range opts {
		opt(probe)
	}
	if probe.Monitor == nil && len(cfg.Topology.Endpoints) > 0 {
		monitor, err := topology.NewMonitor(
			topology.HTTPSources(cfg.Topology.Endpoints),
			topology.WithHealthCheckInterval(cfg.Topology.HealthCheckInterval),
			topology.WithRequestTimeout(cfg.Topology.RequestTimeout),
			topology.WithNodeTemplate(topology.TemplateFrom(cfg.Coordinator)),
			topology.WithLogger(probe.Logger),
			topology.WithMetrics(probe.Metrics),
		)
		if err != nil {
			return nil, err
		}
		base = append(base, WithMonitor(monitor))
	}

	return New(cfg.Layout(), append(base, opts...)...)
}

func normalizeLayout(l types.Layout) types.Layout {
	out := types.Layout{
		Coordinator: l.Coordinator,
		Workers:     make([]types.NodeDescriptor, len(l.Workers)),
		Replicas:    make([]types.NodeDescriptor, len(l.Replicas)),
	}
	if out.Coordinator.Role == "" {
		out.Coordinator.Role = types.RoleCoordinator
	}
	for i, w := range l.Workers {
		if w.Role == "" {
			w.Role = types.RoleWorker
		}
		if w.ShardID == nil {
			w.ShardID = types.IntPtr(i)
		}
		out.Workers[i] = w
	}
	for i, rep := range l.Replicas {
		if rep.Role == "" {
			rep.Role = types.RoleReplica
		}
		out.Replicas[i] = rep
	}

	return out
}

func validate(cfg *RouterConfig, layout types.Layout) error {
	if cfg.Dialer == nil {
		return &types.ConfigurationError{Field: "dialer", Reason: "is required"}
	}
	if cfg.AcquireTimeout <= 0 {
		return &types.ConfigurationError{Field: "acquire_timeout", Reason: "must be positive"}
	}
	if cfg.CleanupTimeout <= 0 {
		return &types.ConfigurationError{Field: "cleanup_timeout", Reason: "must be positive"}
	}
	if cfg.Monitor != nil && cfg.Failover == nil && (cfg.FailoverTimeout <= 0 || cfg.FailoverPollInterval <= 0) {
		return &types.ConfigurationError{Field: "failover", Reason: "timeout and poll interval must be positive"}
	}
	if err := config.ValidateRetry(cfg.Retry); err != nil {
		return err
	}

	return config.ValidateLayout(layout)
}

// buildPools creates and warms one pool per node of layout. On failure every
// pool created so far is closed.
func (r *Router) buildPools(ctx context.Context, layout types.Layout) (*poolSet, error) {
	set := &poolSet{
		layout:  layout,
		byShard: make(map[int]*pool.Pool, len(layout.Workers)),
		shards:  shard.NewRouter(len(layout.Workers)),
	}

	var created []*pool.Pool
	newPool := func(node types.NodeDescriptor) (*pool.Pool, error) {
		p, err := pool.New(node, r.config.Dialer,
			pool.WithAcquireTimeout(r.config.AcquireTimeout),
			pool.WithLogger(r.logger),
			pool.WithMetrics(r.metrics),
		)
		if err != nil {
			return nil, err
		}
		created = append(created, p)

		return p, nil
	}
	abort := func(err error) (*poolSet, error) {
		for _, p := range created {
			_ = p.CloseAll()
		}

		return nil, err
	}

	var err error
	if set.coordinator, err = newPool(layout.Coordinator); err != nil {
		return abort(err)
	}
	for i, node := range layout.Workers {
		p, err := newPool(node)
		if err != nil {
			return abort(err)
		}
		set.workers = append(set.workers, p)
		set.byShard[node.ShardIDOr(i)] = p
	}
	for _, node := range layout.Replicas {
		p, err := newPool(node)
		if err != nil {
			return abort(err)
		}
		set.replicas = append(set.replicas, p)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range created {
		g.Go(func() error {
			return p.Open(gctx)
		})
	}
	if err := g.Wait(); err != nil {
		return abort(err)
	}

	return set, nil
}

// ----------------------
// Handles
// ----------------------

// WithHandle runs fn with a handle routed by opts, inside a transaction.
//
// The transaction commits when fn returns nil and rolls back otherwise; a
// panic in fn rolls back and is re-raised. The session always goes back to
// its pool, or is discarded when the connection broke. opts.Timeout bounds
// the whole scope. Counters are incremented before fn runs.
//
// WithHandle makes one attempt; Execute adds retries and failover.
//
// Parameters:
//   - ctx: Context for cancellation/timeout
//   - opts: Operation type, shard key, timeout and read consistency
//   - fn: Work to run against the handle
//
// Returns:
//   - error: fn's error unchanged, or a pool/statement error
func (r *Router) WithHandle(ctx context.Context, opts types.Options, fn func(*Handle) error) error {
	_, _, err := r.withHandle(ctx, opts, fn)
	return err
}

// withHandle returns the pool set the attempt was routed with and the pool it
// ran against.
func (r *Router) withHandle(ctx context.Context, opts types.Options, fn func(*Handle) error) (*poolSet, *pool.Pool, error) {
	if r.closed.Load() {
		return nil, nil, types.ErrRouterClosed
	}

	set := r.pools.Load()
	seq := r.stats.count(opts.Operation)
	p, shardID := set.route(opts, seq)

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	role := p.Node().Role
	r.metrics.IncOperation(opts.Operation, role)
	start := time.Now()

	err := r.scope(ctx, p, shardID, fn)

	r.metrics.ObserveOperationDuration(opts.Operation, role, time.Since(start).Seconds())
	if err != nil {
		r.stats.errors.Add(1)
		r.metrics.IncOperationError(opts.Operation, role)
	}

	return set, p, err
}

// scope is one transaction on a session of p.
func (r *Router) scope(ctx context.Context, p *pool.Pool, shardID int, fn func(*Handle) error) (err error) {
	session, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	h := newHandle(ctx, session, p.Node(), shardID)
	committed := false
	defer func() {
		rec := recover()
		if !committed {
			r.rollback(ctx, h, sqladapter.StmtRollback)
		}
		r.release(p, h)
		if rec != nil {
			panic(rec)
		}
	}()

	if err := h.exec(ctx, sqladapter.StmtBegin); err != nil {
		h.broken = true
		return err
	}
	if err := fn(h); err != nil {
		return err
	}
	if err := h.exec(ctx, sqladapter.StmtCommit); err != nil {
		return err
	}
	committed = true

	return nil
}

// rollback runs a cleanup directive on a context detached from the caller's
// cancellation.
func (r *Router) rollback(ctx context.Context, h *Handle, directive string) {
	if h.broken {
		return
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.CleanupTimeout)
	defer cancel()

	if err := h.exec(cctx, directive); err != nil {
		h.broken = true
		r.logger.Warn("rollback failed, discarding session", "node", h.node.String(), "directive", directive, "error", err)
	}
}

func (r *Router) release(p *pool.Pool, h *Handle) {
	if h.broken {
		p.Discard(h.session)
		return
	}
	p.Release(h.session)
}

// ----------------------
// Retried execution
// ----------------------

// Execute runs fn through WithHandle under the retry executor.
//
// Transient failures are retried with backoff up to RetryConfig.MaxRetries
// attempts. When a write or DDL routed to the coordinator loses its
// connection or is refused as read-only and a monitor is configured, the
// failover coordinator waits for a new primary first and the pools are
// rebuilt before the next attempt. Other transient failures, and failures on
// a pool set replaced during the attempt, are retried without failover.
//
// fn may run several times and must be safe to repeat.
//
// Returns:
//   - error: nil, the first non-transient error, *types.RetryExhaustedError,
//     or *types.FailoverTimeoutError
func (r *Router) Execute(ctx context.Context, opts types.Options, fn func(*Handle) error) error {
	return r.executor.Run(ctx, opts.Operation.String(), func(ctx context.Context) error {
		set, p, err := r.withHandle(ctx, opts, fn)
		if err == nil || p == nil || p != set.coordinator || opts.Operation == types.OpRead || r.failover == nil {
			return err
		}
		if !retry.PrimaryLost(err) {
			return err
		}
		// A refresh already replaced the pools; the next attempt uses them.
		if set != r.pools.Load() {
			return err
		}

		return r.failoverFrom(ctx, p.Node(), err)
	})
}

// failoverFrom waits for a new primary, installs it and returns cause so the
// executor retries against the new pools.
func (r *Router) failoverFrom(ctx context.Context, believed types.NodeDescriptor, cause error) error {
	r.logger.Warn("write against primary failed", "primary", believed.Key(), "error", cause)

	snap, err := r.failover.Failover(ctx, believed)
	if err != nil {
		return err
	}
	if _, err := r.apply(ctx, snap); err != nil {
		return err
	}

	return cause
}

// ExecContext executes a statement that returns no rows, with retries.
func (r *Router) ExecContext(ctx context.Context, opts types.Options, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := r.Execute(ctx, opts, func(h *Handle) error {
		var err error
		res, err = h.ExecContext(h.Context(), query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

// QueryContext executes a query and hands the rows to scan before the
// transaction ends. The rows are closed afterwards.
func (r *Router) QueryContext(ctx context.Context, opts types.Options, scan func(*sql.Rows) error, query string, args ...any) error {
	return r.Execute(ctx, opts, func(h *Handle) error {
		rows, err := h.QueryContext(h.Context(), query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		if err := scan(rows); err != nil {
			return err
		}

		return rows.Err()
	})
}

// QueryRowContext executes a query expected to return at most one row and
// hands it to scan.
func (r *Router) QueryRowContext(ctx context.Context, opts types.Options, scan func(*sql.Row) error, query string, args ...any) error {
	return r.Execute(ctx, opts, func(h *Handle) error {
		return scan(h.QueryRowContext(h.Context(), query, args...))
	})
}

// ----------------------
// Topology
// ----------------------

// Refresh asks the monitor for the current topology and rebuilds the pools
// when the primary or the replica set changed.
//
// Returns:
//   - bool: true when the pools were rebuilt
//   - error: types.ErrNoMonitor, or *types.TopologyError with the previous
//     pools left in place
func (r *Router) Refresh(ctx context.Context) (bool, error) {
	if r.monitor == nil {
		return false, types.ErrNoMonitor
	}

	snap, _, err := r.monitor.Refresh(ctx)
	if err != nil {
		return false, err
	}

	return r.apply(ctx, snap)
}

// MaybeRefresh is Refresh bounded by the monitor's health check interval.
func (r *Router) MaybeRefresh(ctx context.Context) (bool, error) {
	if r.monitor == nil {
		return false, types.ErrNoMonitor
	}

	snap, _, err := r.monitor.MaybeRefresh(ctx)
	if err != nil {
		return false, err
	}

	return r.apply(ctx, snap)
}

// Follow applies every snapshot the monitor publishes until ctx is done.
// It needs a monitor with an Updates channel, such as *topology.Monitor
// running its own Run loop.
func (r *Router) Follow(ctx context.Context) error {
	src, ok := r.monitor.(interface{ Updates() <-chan topology.Snapshot })
	if !ok {
		return types.ErrNoMonitor
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap := <-src.Updates():
			if _, err := r.apply(ctx, snap); err != nil {
				r.logger.Warn("applying topology update failed", "version", snap.Version, "error", err)
			}
		}
	}
}

// ApplyTopology installs topo directly, bypassing the monitor. Nodes without
// a role are treated as HA primary and HA replicas.
//
// Returns:
//   - bool: true when the pools were rebuilt
//   - error: *types.ConfigurationError for an invalid topology, or the error
//     of a pool that failed to warm up; the previous pools stay in place
func (r *Router) ApplyTopology(ctx context.Context, topo types.ClusterTopology) (bool, error) {
	if topo.Primary.Role == "" {
		topo.Primary.Role = types.RolePrimaryHA
	}
	replicas := make([]types.NodeDescriptor, len(topo.Replicas))
	for i, rep := range topo.Replicas {
		if rep.Role == "" {
			rep.Role = types.RoleReplicaHA
		}
		replicas[i] = rep
	}
	topo.Replicas = replicas

	r.topoMu.Lock()
	defer r.topoMu.Unlock()

	return r.install(ctx, topo)
}

// apply installs snap unless a newer snapshot was already applied.
func (r *Router) apply(ctx context.Context, snap topology.Snapshot) (bool, error) {
	r.topoMu.Lock()
	defer r.topoMu.Unlock()

	if snap.Version < r.applied {
		return false, nil
	}
	if snap.FetchedAt.After(r.lastFetched) {
		r.lastFetched = snap.FetchedAt
		r.stats.topologyRefreshes.Add(1)
	}

	rebuilt, err := r.install(ctx, snap.Topology)
	if err != nil {
		return false, err
	}
	r.applied = snap.Version

	return rebuilt, nil
}

// install rebuilds the pools for topo when it differs from the current one.
// Caller holds topoMu.
func (r *Router) install(ctx context.Context, topo types.ClusterTopology) (bool, error) {
	if r.closed.Load() {
		return false, types.ErrRouterClosed
	}

	cur := r.pools.Load()
	current := types.ClusterTopology{Primary: cur.layout.Coordinator, Replicas: cur.layout.Replicas}
	if current.Equal(topo) {
		return false, nil
	}

	next := cur.layout.WithTopology(topo)
	if err := config.ValidateLayout(next); err != nil {
		return false, err
	}

	set, err := r.buildPools(ctx, next)
	if err != nil {
		r.logger.Error("rebuilding pools failed, keeping previous topology", "primary", topo.Primary.Key(), "error", err)
		return false, err
	}
	r.pools.Store(set)

	if !cur.coordinator.Node().Equal(set.coordinator.Node()) {
		r.stats.failovers.Add(1)
	}
	r.logger.Info("pools rebuilt",
		"old_primary", cur.coordinator.Node().Key(),
		"new_primary", set.coordinator.Node().Key(),
		"replicas", len(set.replicas),
	)

	if err := cur.close(); err != nil {
		r.logger.Warn("closing replaced pools failed", "error", err)
	}

	return true, nil
}

// ----------------------
// Introspection
// ----------------------

// Stats returns a copy of the router counters.
func (r *Router) Stats() types.QueryStatistics {
	return r.stats.snapshot()
}

// Layout returns the layout the current pools were built for.
func (r *Router) Layout() types.Layout {
	l := r.pools.Load().layout

	return types.Layout{
		Coordinator: l.Coordinator,
		Workers:     append([]types.NodeDescriptor(nil), l.Workers...),
		Replicas:    append([]types.NodeDescriptor(nil), l.Replicas...),
	}
}

// PublishStats sends the current statistics to the configured sink. It does
// nothing without a sink.
func (r *Router) PublishStats(ctx context.Context) error {
	if r.config.StatsSink == nil {
		return nil
	}

	return r.config.StatsSink.PublishStats(ctx, r.Stats())
}

// Close publishes a final statistics snapshot and closes every pool.
// Sessions still in use are closed when their scope ends. Close is
// idempotent.
func (r *Router) Close() error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.CleanupTimeout)
	defer cancel()
	if err := r.PublishStats(ctx); err != nil {
		r.logger.Warn("publishing final statistics failed", "error", err)
	}

	r.topoMu.Lock()
	set := r.pools.Load()
	r.topoMu.Unlock()

	r.logger.Info("router closed")

	return set.close()
}
