package pumped

import (
	"context"
	"sync"
)

// subscriber is one onUpdate registration.
type subscriber struct {
	id int
	cb func(AnyExecutor)
}

// Scope is the resolution and caching boundary: a map of executor ->
// cached outcome, the reactive edge graph, a tag store, preset overrides,
// and the extension chain wrapping every operation. Scopes are safe for
// concurrent use.
type Scope struct {
	mu       sync.RWMutex
	entries  map[AnyExecutor]*cacheEntry
	graph    *reactiveGraph
	tagStore map[any]any

	presets map[AnyExecutor]any

	extensions         []Extension
	reversedExtensions []Extension

	subscribers map[AnyExecutor][]subscriber
	subIDs      int

	pool *resolvePool

	parent       *Scope
	disposed     bool
	podCleanups  []cleanupFn
}

// ScopeOption configures a Scope at construction: tags, presets, and
// extensions.
type ScopeOption func(*Scope)

// WithScopeTag seeds the scope's tag store with tv at creation.
func WithScopeTag(tv TaggedValue) ScopeOption {
	return func(s *Scope) {
		s.tagStore[tv.key] = tv.Value
	}
}

// WithExtension registers ext on the scope, in the order given.
func WithExtension(ext Extension) ScopeOption {
	return func(s *Scope) {
		s.extensions = append(s.extensions, ext)
	}
}

// Preset overrides the value an executor resolves to within the scope,
// without ever running its factory — commonly used to inject fakes in
// tests.
func Preset[T any](e *Executor[T], value T) ScopeOption {
	return func(s *Scope) {
		s.presets[e] = value
	}
}

// NewScope creates a root scope.
func NewScope(opts ...ScopeOption) *Scope {
	s := &Scope{
		entries:     make(map[AnyExecutor]*cacheEntry),
		graph:       newReactiveGraph(),
		tagStore:    make(map[any]any),
		presets:     make(map[AnyExecutor]any),
		subscribers: make(map[AnyExecutor][]subscriber),
		pool:        newResolvePool(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reversedExtensions = reverseExtensions(s.extensions)
	for _, ext := range s.extensions {
		if err := ext.Init(s); err != nil {
			// Init failures don't abort scope construction; they are
			// reported to every extension's OnError instead.
			s.notifyExtensionError(err)
		}
	}
	return s
}

// Get implements KVStore for the scope-level tag store.
func (s *Scope) Get(key any) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.tagStore[key]
	return v, ok
}

// Set implements KVStore for the scope-level tag store.
func (s *Scope) Set(key any, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tagStore[key] = value
}

// UseExtension registers ext after construction, running its Init hook
// immediately and recaching the reversed extension list so later
// operations don't pay for the reversal on every call.
func (s *Scope) UseExtension(ext Extension) error {
	s.mu.Lock()
	s.extensions = append(s.extensions, ext)
	s.reversedExtensions = reverseExtensions(s.extensions)
	s.mu.Unlock()
	return ext.Init(s)
}

func (s *Scope) cachedReversedExtensions() []Extension {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reversedExtensions
}

// Resolve is the typed entry point: resolve e within s, running factories
// as needed.
func Resolve[T any](ctx context.Context, s *Scope, e *Executor[T]) (T, error) {
	return NewAccessor(s, e).WithContext(ctx).Resolve()
}

// Update is the typed entry point for Accessor.Update against s directly.
func Update[T any](s *Scope, e *Executor[T], newValueOrUpdater any) (T, error) {
	return NewAccessor(s, e).Update(newValueOrUpdater)
}

func labelChain(path []AnyExecutor) []string {
	out := make([]string, len(path))
	for i, e := range path {
		out[i] = e.Label()
	}
	return out
}

// resolveAny is the untyped resolution core every Accessor/derive path
// funnels through. path is the chain of executors currently being resolved
// on this call stack, threaded explicitly (not shared scope state) so
// concurrent, unrelated resolutions can't cross-contaminate cycle
// detection.
func (s *Scope) resolveAny(ctx context.Context, executor AnyExecutor, path []AnyExecutor) (any, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return nil, errCancelled(executor.Label())
	default:
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return nil, errScopeDisposed()
	}
	for _, p := range path {
		if p == executor {
			s.mu.Unlock()
			return nil, errCircular(labelChain(append(append([]AnyExecutor{}, path...), executor)))
		}
	}
	if entry, ok := s.entries[executor]; ok {
		s.mu.Unlock()
		<-entry.ready
		if entry.state == stateFailed {
			return nil, entry.err
		}
		return entry.value, nil
	}
	if pv, ok := s.presets[executor]; ok {
		entry := newPendingEntry()
		entry.preset = true
		s.entries[executor] = entry
		s.mu.Unlock()
		entry.settleResolved(pv)
		return pv, nil
	}
	if s.parent != nil {
		if pv, ok := s.parent.peekAny(executor); ok {
			s.mu.Unlock()
			return pv, nil
		}
	}
	entry := newPendingEntry()
	s.entries[executor] = entry
	s.mu.Unlock()

	childPath := append(append([]AnyExecutor{}, path...), executor)

	if err := s.resolveDeps(ctx, executor, childPath); err != nil {
		entry.settleFailed(err)
		return nil, err
	}

	rc := s.pool.acquire(s, executor, ctx)
	defer s.pool.release(rc)

	op := &Operation{Kind: OpResolve, Executor: executor, Scope: s, SubAction: "resolve"}
	value, err := composeWrap(s.cachedReversedExtensions(), nil, op, func() (any, error) {
		return executor.invokeFactory(rc)
	})
	if err != nil {
		if _, ok := err.(*CoreError); !ok {
			err = errFactoryFailed(executor.Label(), labelChain(childPath), err)
		}
		entry.settleFailed(err)
		s.notifyExtensionError(err)
		return nil, err
	}
	entry.settleResolved(value)
	return value, nil
}

func (s *Scope) dropEntry(executor AnyExecutor) {
	s.mu.Lock()
	delete(s.entries, executor)
	s.mu.Unlock()
}

// resolveDeps resolves executor's non-lazy/static dependencies
// concurrently, registering reactive edges for ModeReactive dependencies
// along the way so future updates propagate.
func (s *Scope) resolveDeps(ctx context.Context, executor AnyExecutor, path []AnyExecutor) error {
	return s.resolveDependencyList(ctx, executor.Deps(), executor, path)
}

// resolveFlowDeps resolves a flow definition's dependencies into pod: flows
// aren't executors, so their deps never register reactive edges.
func (s *Scope) resolveFlowDeps(ctx context.Context, deps []Dependency, path []AnyExecutor) error {
	return s.resolveDependencyList(ctx, deps, nil, path)
}

// resolveDependencyList is the shared worklist behind resolveDeps and
// resolveFlowDeps: resolve every non-lazy/static dependency concurrently,
// registering a reactive edge against dependent when it is non-nil and the
// mode is ModeReactive.
func (s *Scope) resolveDependencyList(ctx context.Context, deps []Dependency, dependent AnyExecutor, path []AnyExecutor) error {
	errs := make([]error, len(deps))
	var wg sync.WaitGroup

	for i, d := range deps {
		mode := d.GetMode()
		if mode == ModeLazy || mode == ModeStatic {
			continue
		}
		if mode == ModeReactive && dependent != nil {
			s.graph.addEdge(d.GetExecutor(), dependent)
		}
		wg.Add(1)
		go func(i int, dep Dependency) {
			defer wg.Done()
			_, err := s.resolveAny(ctx, dep.GetExecutor(), path)
			errs[i] = err
		}(i, d)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// peekAny returns the cached value for executor without triggering
// resolution.
func (s *Scope) peekAny(executor AnyExecutor) (any, bool) {
	s.mu.RLock()
	entry, ok := s.entries[executor]
	parent := s.parent
	s.mu.RUnlock()
	if !ok {
		if parent != nil {
			return parent.peekAny(executor)
		}
		return nil, false
	}
	select {
	case <-entry.ready:
	default:
		return nil, false
	}
	if entry.state != stateResolved {
		return nil, false
	}
	return entry.value, true
}

// registerCleanup appends fn to the cleanups run when executor is released,
// updated, or the scope is disposed. Called only while executor's factory
// is running, so the entry is always present.
func (s *Scope) registerCleanup(executor AnyExecutor, fn cleanupFn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if executor == nil {
		s.podCleanups = append(s.podCleanups, fn)
		return
	}
	if entry, ok := s.entries[executor]; ok {
		entry.cleanups = append(entry.cleanups, fn)
	}
}

// runCleanups runs executor's registered cleanups in LIFO order, fanning
// out errors to every extension's OnError rather than aborting the
// remaining cleanups.
func (s *Scope) runCleanups(executor AnyExecutor) {
	s.mu.Lock()
	entry, ok := s.entries[executor]
	s.mu.Unlock()
	if !ok {
		return
	}
	cleanups := entry.cleanups
	entry.cleanups = nil
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			s.notifyExtensionError(err)
		}
	}
}

// release runs executor's cleanups and drops its cached entry so the next
// resolve re-runs the factory.
func (s *Scope) release(executor AnyExecutor) {
	s.runCleanups(executor)
	s.dropEntry(executor)
	s.graph.removeExecutor(executor)
}

// update writes a new value through updater (prev -> (next, error)),
// eagerly re-resolving the transitive reactive closure afterward rather
// than merely invalidating it for lazy re-resolution on next read.
func (s *Scope) update(executor AnyExecutor, updater func(any) (any, error)) (any, error) {
	s.mu.RLock()
	disposed := s.disposed
	entry, ok := s.entries[executor]
	s.mu.RUnlock()
	if disposed {
		return nil, errScopeDisposed()
	}
	if !ok {
		return nil, errNotResolved(executor.Label())
	}
	<-entry.ready

	newVal, err := updater(entry.value)
	if err != nil {
		return nil, err
	}

	s.runCleanups(executor)

	s.mu.Lock()
	entry.value = newVal
	entry.err = nil
	entry.state = stateResolved
	s.mu.Unlock()

	s.notifySubscribers(executor)

	for _, dependent := range s.graph.affected(executor) {
		if err := s.reresolve(dependent); err != nil {
			return newVal, err
		}
	}
	return newVal, nil
}

// reresolve re-runs dependent's factory against the now-updated dependency
// graph, used by update's eager propagation. Its own subscribers fire
// afterward, exactly as the source executor's do.
func (s *Scope) reresolve(executor AnyExecutor) error {
	s.release(executor)
	_, err := s.resolveAny(context.Background(), executor, nil)
	s.notifySubscribers(executor)
	return err
}

// onUpdate subscribes cb to executor's value changes; the returned func
// removes the subscription.
func (s *Scope) onUpdate(executor AnyExecutor, cb func(AnyExecutor)) func() {
	s.mu.Lock()
	s.subIDs++
	id := s.subIDs
	s.subscribers[executor] = append(s.subscribers[executor], subscriber{id: id, cb: cb})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		subs := s.subscribers[executor]
		for i, sub := range subs {
			if sub.id == id {
				s.subscribers[executor] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
	}
}

func (s *Scope) notifySubscribers(executor AnyExecutor) {
	s.mu.RLock()
	subs := append([]subscriber{}, s.subscribers[executor]...)
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.cb(executor)
	}
}

func (s *Scope) notifyExtensionError(err error) {
	for _, ext := range s.extensions {
		ext.OnError(err, s, nil)
	}
}

// registeredExecutors returns every executor currently holding a cache
// entry, for debug/graph-visualization extensions.
func (s *Scope) registeredExecutors() []AnyExecutor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AnyExecutor, 0, len(s.entries))
	for e := range s.entries {
		out = append(out, e)
	}
	return out
}

// RegisteredExecutors is the exported form of registeredExecutors, for
// debug/graph-visualization extensions outside this package.
func (s *Scope) RegisteredExecutors() []AnyExecutor {
	return s.registeredExecutors()
}

// ReactiveEdges returns a snapshot of the scope's source -> dependents
// reactive edge map, for debug/graph-visualization extensions.
func (s *Scope) ReactiveEdges() map[AnyExecutor][]AnyExecutor {
	s.graph.mu.RLock()
	defer s.graph.mu.RUnlock()
	out := make(map[AnyExecutor][]AnyExecutor, len(s.graph.downstream))
	for k, v := range s.graph.downstream {
		out[k] = append([]AnyExecutor{}, v...)
	}
	return out
}

// PeekError reports the cached failure for executor, if its last resolve
// attempt failed and hasn't yet been retried, for debug extensions
// rendering why a graph is red.
func (s *Scope) PeekError(executor AnyExecutor) (error, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[executor]
	if !ok || entry.state != stateFailed {
		return nil, false
	}
	return entry.err, true
}

// pod creates a child scope for one flow invocation: cache reads fall
// through to the parent on a miss, but every resolve/update/release the pod
// itself performs is copy-on-read — it never mutates the parent's entries.
func (s *Scope) pod(opts ...ScopeOption) *Scope {
	child := &Scope{
		entries:     make(map[AnyExecutor]*cacheEntry),
		graph:       newReactiveGraph(),
		tagStore:    make(map[any]any),
		presets:     make(map[AnyExecutor]any),
		subscribers: make(map[AnyExecutor][]subscriber),
		pool:        newResolvePool(),
		parent:      s,
		extensions:  append([]Extension{}, s.extensions...),
	}
	for _, opt := range opts {
		opt(child)
	}
	child.reversedExtensions = reverseExtensions(child.extensions)
	return child
}

// dispose releases every cached executor (children before the entries map
// is cleared, in no particular cross-executor order beyond each one's own
// LIFO cleanup order) and runs every extension's Dispose hook, best-effort.
func (s *Scope) dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	executors := make([]AnyExecutor, 0, len(s.entries))
	for e := range s.entries {
		executors = append(executors, e)
	}
	s.mu.Unlock()

	for _, e := range executors {
		s.runCleanups(e)
	}
	s.mu.Lock()
	s.entries = make(map[AnyExecutor]*cacheEntry)
	podCleanups := s.podCleanups
	s.podCleanups = nil
	s.mu.Unlock()

	for i := len(podCleanups) - 1; i >= 0; i-- {
		if err := podCleanups[i](); err != nil {
			s.notifyExtensionError(err)
		}
	}

	for _, ext := range s.extensions {
		if err := ext.Dispose(s); err != nil {
			s.notifyExtensionError(err)
		}
	}
}

// Dispose is the exported form of dispose.
func (s *Scope) Dispose() {
	s.dispose()
}
