// Package pool provides bounded, blocking session pools, one per database node.
//
// A Pool never holds more than Max live sessions. Acquire prefers an idle
// session, dials a new one while under the bound, and otherwise waits for a
// Release or Discard until the acquire timeout elapses:
//
//	p, err := pool.New(node, dialer, pool.WithAcquireTimeout(2*time.Second))
//	if err != nil {
//	    return err
//	}
//	if err := p.Open(ctx); err != nil { // warms MinConns sessions
//	    return err
//	}
//
//	s, err := p.Acquire(ctx)
//	if err != nil {
//	    return err // *types.PoolError or *types.ConnectError
//	}
//	defer p.Release(s)
//
// Pools are replaced wholesale when the topology changes. CloseAll closes idle
// sessions immediately and in-flight sessions as they are released, so a
// handle that outlives its pool still finishes cleanly.
package pool
