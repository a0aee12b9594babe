package topology

import (
	"context"
	"sync"
	"sync/atomic"
)

// Local is an in-memory, programmable member source for tests and demos.
//
// It implements both Source and Notifier: every SetMembers call notifies
// watchers.
type Local struct {
	name string

	mu      sync.RWMutex
	members []Member
	err     error
	calls   atomic.Int64

	updates       chan struct{}
	done          chan struct{}
	closed        bool
	updatesClosed bool
}

var (
	_ Source   = (*Local)(nil)
	_ Notifier = (*Local)(nil)
)

// NewLocal creates a local source named name reporting members.
func NewLocal(name string, members ...Member) *Local {
	return &Local{
		name:    name,
		members: append([]Member(nil), members...),
		updates: make(chan struct{}, 10),
		done:    make(chan struct{}),
	}
}

// Name returns the source name.
func (l *Local) Name() string {
	return l.name
}

// Members returns the programmed member list or error.
func (l *Local) Members(ctx context.Context) ([]Member, error) {
	l.calls.Add(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.err != nil {
		return nil, l.err
	}

	return append([]Member(nil), l.members...), nil
}

// SetMembers replaces the member list, clears any programmed error and
// notifies watchers.
func (l *Local) SetMembers(members ...Member) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.members = append([]Member(nil), members...)
	l.err = nil

	if l.closed || l.updatesClosed {
		return
	}

	select {
	case l.updates <- struct{}{}:
	default:
	}
}

// SetError makes Members fail with err until the next SetMembers.
func (l *Local) SetError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.err = err
}

// Calls returns the number of Members calls.
func (l *Local) Calls() int64 {
	return l.calls.Load()
}

// Watch returns a channel notified on every SetMembers. The channel is
// closed when Close is called or ctx is cancelled.
func (l *Local) Watch(ctx context.Context) <-chan struct{} {
	go l.waitForClose(ctx)
	return l.updates
}

// Close stops the watcher and releases resources.
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}

	l.closed = true
	close(l.done)

	return nil
}

// waitForClose waits for context cancellation or close signal.
func (l *Local) waitForClose(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-l.done:
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.updatesClosed {
		l.updatesClosed = true
		close(l.updates)
	}
}
