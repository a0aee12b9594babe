package pool

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	sqladapter "github.com/arloliu/shardgate/adapter/sql"
	"github.com/arloliu/shardgate/internal/logging"
	"github.com/arloliu/shardgate/internal/metrics"
	"github.com/arloliu/shardgate/types"
)

// DefaultMaxConns is used when a node descriptor does not set MaxConns.
const DefaultMaxConns = 10

// DefaultAcquireTimeout bounds how long Acquire waits for a free slot.
const DefaultAcquireTimeout = 5 * time.Second

// Config holds pool configuration.
type Config struct {
	AcquireTimeout time.Duration
	Logger         types.Logger
	Metrics        types.MetricsCollector
}

// Option configures a Pool.
type Option func(*Config)

// WithAcquireTimeout sets the maximum time Acquire blocks when the pool is at
// capacity. Non-positive values keep the default.
func WithAcquireTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.AcquireTimeout = d
		}
	}
}

// WithLogger sets the logger for pool events.
func WithLogger(l types.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m types.MetricsCollector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// Stats is a point-in-time view of a pool.
type Stats struct {
	// Open is the number of live sessions (idle + in use).
	Open int `json:"open"`
	// Idle sessions are ready to be handed out.
	Idle int `json:"idle"`
	// InUse sessions are checked out by callers.
	InUse int `json:"in_use"`
	// Max is the session bound.
	Max int `json:"max"`
	// Waits counts acquires that found the pool at capacity.
	Waits uint64 `json:"waits"`
	// Exhausted counts acquires that gave up with ErrPoolExhausted.
	Exhausted uint64 `json:"exhausted"`
}

// Pool is a bounded set of reusable sessions to one node.
//
// A semaphore slot is held for every session in use. A new session is only
// dialed when no idle one is left, so the pool never holds more than Max
// sessions.
type Pool struct {
	node      types.NodeDescriptor
	connector sqladapter.Connector
	max       int
	sem       *semaphore.Weighted

	acquireTimeout time.Duration
	logger         types.Logger
	metrics        types.MetricsCollector

	mu        sync.Mutex
	idle      []sqladapter.Session
	inUse     map[sqladapter.Session]struct{}
	closed    bool
	connClose bool
	waits     uint64
	exhausted uint64
}

// New creates a pool for node. Sessions are created lazily; call Open to warm
// MinConns sessions.
//
// Parameters:
//   - node: The node this pool serves
//   - dialer: Creates the connector used for every session of this pool
//   - opts: Optional configuration
//
// Returns:
//   - *Pool: The new pool
//   - error: *types.ConfigurationError if the connector cannot be created
func New(node types.NodeDescriptor, dialer sqladapter.Dialer, opts ...Option) (*Pool, error) {
	if dialer == nil {
		return nil, types.ErrNilDialer
	}

	cfg := Config{AcquireTimeout: DefaultAcquireTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}

	connector, err := dialer.Open(node)
	if err != nil {
		return nil, err
	}

	maxConns := node.MaxConns
	if maxConns <= 0 {
		maxConns = DefaultMaxConns
	}

	return &Pool{
		node:           node,
		connector:      connector,
		max:            maxConns,
		sem:            semaphore.NewWeighted(int64(maxConns)),
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logging.OrNop(cfg.Logger),
		metrics:        metrics.OrNop(cfg.Metrics),
		inUse:          make(map[sqladapter.Session]struct{}),
	}, nil
}

// Node returns the node this pool serves.
func (p *Pool) Node() types.NodeDescriptor {
	return p.node
}

// Open warms the pool with MinConns idle sessions.
//
// Returns *types.ConnectError when any session cannot be established. Sessions
// opened before the failure stay in the pool.
func (p *Pool) Open(ctx context.Context) error {
	warm := min(p.node.MinConns, p.max)

	sessions := make([]sqladapter.Session, 0, warm)
	var err error
	for range warm {
		var s sqladapter.Session
		s, err = p.Acquire(ctx)
		if err != nil {
			break
		}
		sessions = append(sessions, s)
	}

	for _, s := range sessions {
		p.Release(s)
	}

	if err != nil {
		return err
	}

	p.logger.Debug("pool opened", "node", p.node.String(), "warm", warm, "max", p.max)

	return nil
}

// Acquire returns an idle session, dials a new one while under the bound, or
// blocks until a session is released.
//
// Returns:
//   - *types.PoolError wrapping types.ErrPoolExhausted when no slot frees up
//     within the acquire timeout
//   - *types.PoolError wrapping types.ErrPoolClosed after CloseAll
//   - *types.ConnectError when dialing fails
//   - ctx.Err() when the caller's context ends first
func (p *Pool) Acquire(ctx context.Context) (sqladapter.Session, error) {
	if p.isClosed() {
		return nil, &types.PoolError{Node: p.node.Key(), Cause: types.ErrPoolClosed}
	}

	start := time.Now()
	if !p.sem.TryAcquire(1) {
		p.mu.Lock()
		p.waits++
		p.mu.Unlock()

		waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
		err := p.sem.Acquire(waitCtx, 1)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			p.mu.Lock()
			p.exhausted++
			p.mu.Unlock()
			p.metrics.IncPoolExhausted(p.node.Key())
			p.logger.Warn("pool exhausted",
				"node", p.node.String(),
				"max", p.max,
				"timeout", p.acquireTimeout,
			)

			return nil, &types.PoolError{Node: p.node.Key(), Cause: types.ErrPoolExhausted}
		}
	}
	p.metrics.ObserveAcquireWait(p.node.Key(), time.Since(start).Seconds())

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.sem.Release(1)

		return nil, &types.PoolError{Node: p.node.Key(), Cause: types.ErrPoolClosed}
	}
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse[s] = struct{}{}
		p.mu.Unlock()

		return s, nil
	}
	p.mu.Unlock()

	s, err := p.connector.Connect(ctx)
	if err != nil {
		p.sem.Release(1)
		p.logger.Warn("session connect failed", "node", p.node.String(), "error", err)

		return nil, &types.ConnectError{Node: p.node.Key(), Cause: err}
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = s.Close()
		p.sem.Release(1)

		return nil, &types.PoolError{Node: p.node.Key(), Cause: types.ErrPoolClosed}
	}
	p.inUse[s] = struct{}{}
	p.mu.Unlock()

	return s, nil
}

// Release returns a session to the pool. Sessions released after CloseAll are
// closed. Releasing a session the pool did not hand out is a no-op.
func (p *Pool) Release(s sqladapter.Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.inUse[s]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, s)

	if !p.closed {
		p.idle = append(p.idle, s)
		p.mu.Unlock()
		p.sem.Release(1)

		return
	}

	closeConnector := p.drainedLocked()
	p.mu.Unlock()

	_ = s.Close()
	p.sem.Release(1)
	if closeConnector {
		p.closeConnector()
	}
}

// Discard closes a broken session and frees its slot.
func (p *Pool) Discard(s sqladapter.Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	if _, ok := p.inUse[s]; !ok {
		p.mu.Unlock()
		return
	}
	delete(p.inUse, s)
	closeConnector := p.closed && p.drainedLocked()
	p.mu.Unlock()

	if err := s.Close(); err != nil {
		p.logger.Debug("discarded session close failed", "node", p.node.String(), "error", err)
	}
	p.sem.Release(1)

	if closeConnector {
		p.closeConnector()
	}
}

// CloseAll closes every idle session and marks the pool closed. Sessions still
// in use are closed when they are released; the connector is closed once the
// last of them comes back.
func (p *Pool) CloseAll() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	closeConnector := p.drainedLocked()
	p.mu.Unlock()

	var errs []error
	for _, s := range idle {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if closeConnector {
		if err := p.closeConnector(); err != nil {
			errs = append(errs, err)
		}
	}

	p.logger.Debug("pool closed", "node", p.node.String(), "idle_closed", len(idle))

	return errors.Join(errs...)
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Open:      len(p.idle) + len(p.inUse),
		Idle:      len(p.idle),
		InUse:     len(p.inUse),
		Max:       p.max,
		Waits:     p.waits,
		Exhausted: p.exhausted,
	}
}

// Ping acquires a session, pings it and releases it. A session that fails the
// ping is discarded.
func (p *Pool) Ping(ctx context.Context) error {
	s, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	if err := s.PingContext(ctx); err != nil {
		p.Discard(s)
		return &types.ConnectError{Node: p.node.Key(), Cause: err}
	}
	p.Release(s)

	return nil
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// drainedLocked reports whether the connector should be closed now. It flips
// connClose so the connector is closed exactly once. Caller holds p.mu.
func (p *Pool) drainedLocked() bool {
	if !p.closed || p.connClose || len(p.inUse) > 0 {
		return false
	}
	p.connClose = true

	return true
}

func (p *Pool) closeConnector() error {
	return p.connector.Close()
}
