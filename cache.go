package pumped

import (
	"context"
	"sync"
)

// entryState is one of the three cache states an executor can hold
// within a scope.
type entryState int

const (
	statePending entryState = iota
	stateResolved
	stateFailed
)

// cacheEntry is the scope's bookkeeping for one executor: its cached
// outcome plus the cleanups registered while producing it. While pending,
// ready is open; concurrent resolvers for the same executor wait on it
// rather than re-running the factory, so each executor's factory runs at
// most once per resolve.
type cacheEntry struct {
	state    entryState
	value    any
	err      error
	cleanups []cleanupFn
	ready    chan struct{}
	preset   bool
}

func newPendingEntry() *cacheEntry {
	return &cacheEntry{state: statePending, ready: make(chan struct{})}
}

func (e *cacheEntry) settleResolved(value any) {
	e.value = value
	e.err = nil
	e.state = stateResolved
	close(e.ready)
}

func (e *cacheEntry) settleFailed(err error) {
	e.err = err
	e.state = stateFailed
	close(e.ready)
}

type cleanupFn = func() error

// resolvePool reuses ResolveCtx allocations across resolutions so the hot
// resolve path doesn't allocate a new context object on every call.
type resolvePool struct {
	ctxPool sync.Pool
}

func newResolvePool() *resolvePool {
	return &resolvePool{
		ctxPool: sync.Pool{New: func() any { return &ResolveCtx{} }},
	}
}

func (p *resolvePool) acquire(scope *Scope, self AnyExecutor, ctx context.Context) *ResolveCtx {
	rc, _ := p.ctxPool.Get().(*ResolveCtx)
	rc.scope = scope
	rc.self = self
	rc.ctx = ctx
	return rc
}

func (p *resolvePool) release(rc *ResolveCtx) {
	rc.scope = nil
	rc.self = nil
	rc.ctx = nil
	p.ctxPool.Put(rc)
}
