package topology

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// NATS reads the member list from a NATS KV key.
//
// Agents next to the control plane publish the member list JSON to the key;
// every router reads it with Members and can Watch for pushes instead of
// waiting for the next health check.
//
// Watch() should be called once per instance. Subsequent calls return the
// same channel. The channel is closed when Close() is called or the context
// is cancelled.
type NATS struct {
	kv     jetstream.KeyValue
	config NATSConfig

	mu           sync.Mutex
	lastRevision uint64

	// Lifecycle
	updates      chan struct{}
	done         chan struct{}
	closed       bool
	watchStarted bool
	closeOnce    sync.Once
}

var (
	_ Source   = (*NATS)(nil)
	_ Notifier = (*NATS)(nil)
)

// NewNATS creates a new NATS KV member source.
//
// Parameters:
//   - kv: A NATS JetStream KeyValue store
//   - opts: Optional configuration options
//
// Returns:
//   - *NATS: A new source instance
//   - error: Error if kv is nil
//
// Example:
//
//	nc, _ := nats.Connect("nats://localhost:4222")
//	js, _ := jetstream.New(nc)
//	kv, _ := js.KeyValue(ctx, "db-topology")
//
//	src, _ := topology.NewNATS(kv, topology.WithKey("cluster.main.members"))
//	monitor, _ := topology.NewMonitor([]topology.Source{src})
func NewNATS(kv jetstream.KeyValue, opts ...NATSOption) (*NATS, error) {
	if kv == nil {
		return nil, errors.New("shardgate/topology: KeyValue store is nil")
	}

	config := DefaultNATSConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &NATS{
		kv:      kv,
		config:  config,
		updates: make(chan struct{}, 10),
		done:    make(chan struct{}),
	}, nil
}

// Config returns the source configuration.
func (n *NATS) Config() NATSConfig {
	return n.config
}

// Name returns "nats:<key>".
func (n *NATS) Name() string {
	return "nats:" + n.config.Key
}

// Members reads and parses the member list.
func (n *NATS) Members(ctx context.Context) ([]Member, error) {
	entry, err := n.kv.Get(ctx, n.config.Key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, fmt.Errorf("key %q: %w", n.config.Key, err)
		}

		return nil, err
	}

	return ParseMembers(entry.Value())
}

// Publish writes members to the key. It is the operator side of the source.
func (n *NATS) Publish(ctx context.Context, members []Member) error {
	data, err := EncodeMembers(members)
	if err != nil {
		return err
	}

	_, err = n.kv.Put(ctx, n.config.Key, data)

	return err
}

// Watch returns a channel notified whenever the key changes.
//
// Multiple calls to Watch return the same channel; only the first call's
// context controls the watch lifecycle.
func (n *NATS) Watch(ctx context.Context) <-chan struct{} {
	n.mu.Lock()
	if n.watchStarted {
		n.mu.Unlock()

		return n.updates
	}
	n.watchStarted = true
	n.mu.Unlock()

	go n.watchLoop(ctx)

	return n.updates
}

// Close stops the watcher and releases resources.
//
// This method is safe to call multiple times.
func (n *NATS) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}

	n.closed = true
	close(n.done)

	return nil
}

// watchLoop is the main watch loop that monitors the NATS KV key.
func (n *NATS) watchLoop(ctx context.Context) {
	defer n.closeOnce.Do(func() { close(n.updates) })

	watcher, err := n.kv.Watch(ctx, n.config.Key, jetstream.UpdatesOnly())
	if err != nil {
		n.pollLoop(ctx)
		return
	}
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case entry, ok := <-watcher.Updates():
			if !ok {
				n.pollLoop(ctx)
				return
			}
			if entry == nil {
				continue
			}
			n.observe(entry.Revision())
		}
	}
}

// pollLoop is a fallback polling loop when watch fails.
func (n *NATS) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(n.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.done:
			return
		case <-ticker.C:
			n.fetchAndNotify(ctx)
		}
	}
}

// fetchAndNotify reads the key revision and notifies when it moved.
func (n *NATS) fetchAndNotify(ctx context.Context) {
	fetchCtx, cancel := context.WithTimeout(ctx, n.config.FetchTimeout)
	defer cancel()

	entry, err := n.kv.Get(fetchCtx, n.config.Key)
	if err != nil {
		return
	}

	n.observe(entry.Revision())
}

// observe notifies watchers when revision is new.
func (n *NATS) observe(revision uint64) {
	n.mu.Lock()
	if revision == n.lastRevision {
		n.mu.Unlock()
		return
	}
	n.lastRevision = revision
	n.mu.Unlock()

	// Non-blocking: one pending notification is enough to trigger a refresh.
	select {
	case n.updates <- struct{}{}:
	default:
	}
}
