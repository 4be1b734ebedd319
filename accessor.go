package pumped

import "context"

// ResolveCtx is the controller view passed into every factory: scope
// access for reading tags and other accessors, and cleanup registration.
// A new ResolveCtx is built per resolve call; it holds no strong reference
// back into executor state beyond the scope.
type ResolveCtx struct {
	scope *Scope
	self  AnyExecutor
	ctx   context.Context
}

// Scope returns the scope this resolution is running within.
func (rc *ResolveCtx) Scope() *Scope { return rc.scope }

// Context returns the context.Context the resolution was started with.
func (rc *ResolveCtx) Context() context.Context { return rc.ctx }

// Cleanup registers fn to run, in LIFO order relative to other cleanups
// registered during this factory's run, when the executor is released or
// updated, when it is re-run because a reactive dependency was updated, or
// when the scope is disposed.
func (rc *ResolveCtx) Cleanup(fn func() error) {
	rc.scope.registerCleanup(rc.self, fn)
}

// Accessor is the per-scope handle for one executor: Get / Resolve /
// Lookup / Update / Subscribe.
type Accessor[T any] struct {
	executor *Executor[T]
	scope    *Scope
	ctx      context.Context
}

// NewAccessor builds an accessor for executor e within scope s.
func NewAccessor[T any](s *Scope, e *Executor[T]) *Accessor[T] {
	return &Accessor[T]{executor: e, scope: s, ctx: context.Background()}
}

// WithContext returns a copy of the accessor that uses ctx for Resolve.
func (a *Accessor[T]) WithContext(ctx context.Context) *Accessor[T] {
	clone := *a
	clone.ctx = ctx
	return &clone
}

// Get synchronously reads the last cached value; it fails with
// not-resolved if the executor has never been resolved in this scope.
func (a *Accessor[T]) Get() (T, error) {
	v, ok := a.scope.peekAny(a.executor)
	if !ok {
		var zero T
		return zero, errNotResolved(a.executor.Label())
	}
	typed, _ := v.(T)
	return typed, nil
}

// Resolve forces resolution (running the factory if necessary) and
// returns the value.
func (a *Accessor[T]) Resolve() (T, error) {
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	v, err := a.scope.resolveAny(ctx, a.executor, nil)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := v.(T)
	return typed, nil
}

// Lookup probes resolution without failing the caller: it returns false
// rather than an error.
func (a *Accessor[T]) Lookup() (T, bool) {
	v, err := a.Resolve()
	return v, err == nil
}

// Update writes a new value through the scope: value itself, or a
// func(prev T) T updater.
func (a *Accessor[T]) Update(newValueOrUpdater any) (T, error) {
	updater := func(prev any) (any, error) {
		switch u := newValueOrUpdater.(type) {
		case func(T) T:
			typed, _ := prev.(T)
			return u(typed), nil
		case func(T) (T, error):
			typed, _ := prev.(T)
			return u(typed)
		default:
			return newValueOrUpdater, nil
		}
	}
	v, err := a.scope.update(a.executor, updater)
	if err != nil {
		var zero T
		return zero, err
	}
	typed, _ := v.(T)
	return typed, nil
}

// Release invalidates the cached value and its cleanups so the next
// resolve re-runs the factory.
func (a *Accessor[T]) Release() {
	a.scope.release(a.executor)
}

// IsCached reports whether the executor currently holds a resolved value.
func (a *Accessor[T]) IsCached() bool {
	_, ok := a.scope.peekAny(a.executor)
	return ok
}

// Subscribe registers cb to run whenever this executor's value changes.
// The returned func removes the subscription.
func (a *Accessor[T]) Subscribe(cb func(*Accessor[T])) func() {
	return a.scope.onUpdate(a.executor, func(AnyExecutor) {
		cb(a)
	})
}

// dynamicAccessor is the untyped accessor handed to DeriveList/DeriveMap
// factories for lazy/static dependencies, where the static type isn't
// known at the call site.
type dynamicAccessor struct {
	executor AnyExecutor
	scope    *Scope
	ctx      context.Context
}

func newDynamicAccessor(s *Scope, e AnyExecutor, ctx context.Context) *dynamicAccessor {
	return &dynamicAccessor{executor: e, scope: s, ctx: ctx}
}

func (a *dynamicAccessor) Get() (any, error) {
	v, ok := a.scope.peekAny(a.executor)
	if !ok {
		return nil, errNotResolved(a.executor.Label())
	}
	return v, nil
}

func (a *dynamicAccessor) Resolve() (any, error) {
	ctx := a.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	return a.scope.resolveAny(ctx, a.executor, nil)
}
