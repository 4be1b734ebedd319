package pumped

import (
	"context"
	"sync"
)

// FlowContext is the per-invocation handle a flow handler receives: a
// tag-addressable key/value scratchpad that chains to its parent on a miss,
// a journal for replayable sub-steps, and depth/name metadata for tracing.
// It implements KVStore so Tag[T] works against it directly.
type FlowContext struct {
	mu         sync.RWMutex
	data       map[any]any
	scope      *Scope
	parent     *FlowContext
	name       string
	depth      int
	isParallel bool
	journal    map[string]journalRecord
	stdCtx     context.Context
}

type journalRecord struct {
	output any
	err    error
}

func newFlowContext(stdCtx context.Context, scope *Scope, parent *FlowContext, name string, depth int) *FlowContext {
	return &FlowContext{
		data:    make(map[any]any),
		scope:   scope,
		parent:  parent,
		name:    name,
		depth:   depth,
		journal: make(map[string]journalRecord),
		stdCtx:  stdCtx,
	}
}

// Get implements KVStore: a local miss falls through to the parent context.
func (fc *FlowContext) Get(key any) (any, bool) {
	fc.mu.RLock()
	v, ok := fc.data[key]
	fc.mu.RUnlock()
	if ok {
		return v, true
	}
	if fc.parent != nil {
		return fc.parent.Get(key)
	}
	return nil, false
}

// Set implements KVStore, writing to this context's own scratchpad.
func (fc *FlowContext) Set(key any, value any) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.data[key] = value
}

// GetFromScope reads a tag from the pod scope backing this invocation,
// bypassing the FlowContext chain.
func (fc *FlowContext) GetFromScope(key any) (any, bool) { return fc.scope.Get(key) }

// Context returns the standard context.Context the invocation was started
// with; handlers should check it at suspension points rather than rely on
// preemption, since cancellation is cooperative, not preemptive.
func (fc *FlowContext) Context() context.Context { return fc.stdCtx }

// Scope returns the pod backing this invocation.
func (fc *FlowContext) Scope() *Scope { return fc.scope }

// Depth returns the subflow nesting depth, 0 for the top-level invocation.
func (fc *FlowContext) Depth() int { return fc.depth }

// Name returns the flow's declared name.
func (fc *FlowContext) Name() string { return fc.name }

// flowPath walks fctx's ancestor chain looking for name, returning the
// full chain (outermost first, name last) when found — used to detect a
// subflow invoking itself along the current call path.
func flowPath(fctx *FlowContext, name string) ([]string, bool) {
	var chain []string
	for c := fctx; c != nil; c = c.parent {
		chain = append([]string{c.name}, chain...)
		if c.name == name {
			return append(chain, name), true
		}
	}
	return nil, false
}

// Run executes fn under key and journals its outcome: calling Run again
// with the same key on this context returns the recorded outcome instead
// of re-running fn, the replay path a resumed flow takes for steps that
// already completed.
func (fc *FlowContext) Run(key string, fn func() (any, error)) (any, error) {
	fc.mu.Lock()
	if rec, ok := fc.journal[key]; ok {
		fc.mu.Unlock()
		replay := &Operation{Kind: OpJournal, Key: key, Depth: fc.depth, IsReplay: true, Output: rec.output}
		return composeWrap(fc.scope.cachedReversedExtensions(), fc, replay, func() (any, error) {
			return rec.output, rec.err
		})
	}
	fc.mu.Unlock()

	select {
	case <-fc.stdCtx.Done():
		return nil, errCancelled(fc.name)
	default:
	}

	op := &Operation{Kind: OpJournal, Key: key, Depth: fc.depth}
	out, err := composeWrap(fc.scope.cachedReversedExtensions(), fc, op, fn)

	fc.mu.Lock()
	fc.journal[key] = journalRecord{output: out, err: err}
	fc.mu.Unlock()
	return out, err
}

// ParallelStats summarizes one Parallel/ParallelSettled call: how many
// thunks ran, and how many of those fulfilled versus rejected.
type ParallelStats struct {
	Total     int
	Succeeded int
	Failed    int
}

// ParallelResult is Parallel's return value: every fulfilled thunk's value,
// in input order, plus the run's stats.
type ParallelResult struct {
	Results []any
	Stats   ParallelStats
}

// ParallelSettledResult is ParallelSettled's return value: every thunk's
// outcome (fulfilled or rejected), in input order, plus the run's stats.
type ParallelSettledResult struct {
	Outcomes []Outcome[any]
	Stats    ParallelStats
}

// Parallel runs every thunk concurrently (via Promised's AllSettled, which
// dispatches one goroutine per thunk) and fails fast: the first rejection,
// in input order, short-circuits the result.
func (fc *FlowContext) Parallel(thunks ...func() (any, error)) (*ParallelResult, error) {
	op := &Operation{Kind: OpParallel, ParallelMode: "parallel", PromiseCount: len(thunks), Depth: fc.depth}
	result, err := composeWrap(fc.scope.cachedReversedExtensions(), fc, op, func() (any, error) {
		promises := make([]*Promised[any], len(thunks))
		for i, t := range thunks {
			promises[i] = NewPromised(t)
		}
		settled, _ := AllSettled(promises).Await()
		stats := ParallelStats{Total: len(settled.Outcomes)}
		out := make([]any, len(settled.Outcomes))
		var firstErr error
		for i, o := range settled.Outcomes {
			if !o.Fulfilled() {
				stats.Failed++
				if firstErr == nil {
					firstErr = o.Err
				}
				continue
			}
			stats.Succeeded++
			out[i] = o.Value
		}
		if firstErr != nil {
			return nil, firstErr
		}
		return &ParallelResult{Results: out, Stats: stats}, nil
	})
	if err != nil {
		return nil, err
	}
	out, _ := result.(*ParallelResult)
	return out, nil
}

// ParallelSettled runs every thunk concurrently and returns every outcome,
// fulfilled or rejected, rather than failing fast.
func (fc *FlowContext) ParallelSettled(thunks ...func() (any, error)) *ParallelSettledResult {
	op := &Operation{Kind: OpParallel, ParallelMode: "settled", PromiseCount: len(thunks), Depth: fc.depth}
	result, _ := composeWrap(fc.scope.cachedReversedExtensions(), fc, op, func() (any, error) {
		promises := make([]*Promised[any], len(thunks))
		for i, t := range thunks {
			promises[i] = NewPromised(t)
		}
		settled, _ := AllSettled(promises).Await()
		stats := ParallelStats{Total: len(settled.Outcomes)}
		for _, o := range settled.Outcomes {
			if o.Fulfilled() {
				stats.Succeeded++
			} else {
				stats.Failed++
			}
		}
		return &ParallelSettledResult{Outcomes: settled.Outcomes, Stats: stats}, nil
	})
	out, _ := result.(*ParallelSettledResult)
	return out
}

// FlowDefinition is the type-erased core of a Flow[In, Out]: its declared
// dependencies, optional input/output schemas, definition tags, and the
// type-erased handler invocation.
type FlowDefinition struct {
	name         string
	deps         []Dependency
	inputSchema  Schema
	outputSchema Schema
	tags         []TaggedValue
	invoke       func(fctx *FlowContext, rc *ResolveCtx, input any) (any, error)
}

// Tags implements TagContainer so a flow definition can itself serve as a
// tag source.
func (d *FlowDefinition) Tags() []TaggedValue { return d.tags }

// Name returns the flow's declared name.
func (d *FlowDefinition) Name() string { return d.name }

// FlowOption configures a FlowDefinition at construction.
type FlowOption func(*FlowDefinition)

// WithInputSchema validates every Execute call's input against schema
// before the handler runs.
func WithInputSchema(schema Schema) FlowOption {
	return func(d *FlowDefinition) { d.inputSchema = schema }
}

// WithOutputSchema validates the handler's return value against schema
// before Execute returns it.
func WithOutputSchema(schema Schema) FlowOption {
	return func(d *FlowDefinition) { d.outputSchema = schema }
}

// WithFlowTag attaches a definition-time tag to the flow.
func WithFlowTag(tv TaggedValue) FlowOption {
	return func(d *FlowDefinition) { d.tags = append(d.tags, tv) }
}

// executeOptions collects Execute's options. details is untyped (Out isn't
// known here) and filled in by the typed WithDetails closure.
type executeOptions struct {
	scope      *Scope
	tags       []TaggedValue
	extensions []Extension
	details    func(success bool, result any, err error, fctx *FlowContext)
}

// ExecuteOption configures one Flow.Execute call.
type ExecuteOption func(*executeOptions)

// WithScope runs Execute against scope instead of constructing and
// disposing a private one for this invocation alone.
func WithScope(scope *Scope) ExecuteOption {
	return func(o *executeOptions) { o.scope = scope }
}

// WithExecuteTag seeds tv into this invocation's pod, visible to the
// handler's FlowContext and any executor it resolves.
func WithExecuteTag(tv TaggedValue) ExecuteOption {
	return func(o *executeOptions) { o.tags = append(o.tags, tv) }
}

// WithExecuteExtension merges ext into the scope's extension chain for
// this invocation only.
func WithExecuteExtension(ext Extension) ExecuteOption {
	return func(o *executeOptions) { o.extensions = append(o.extensions, ext) }
}

// ExecutionDetails reports a completed Execute call without an error:
// Success distinguishes a rejected run from a fulfilled one, and Ctx gives
// access to the FlowContext the handler ran under (e.g. for its journal).
type ExecutionDetails[Out any] struct {
	Success bool
	Result  Out
	Err     error
	Ctx     *FlowContext
}

// WithDetails redirects Execute's outcome into dst and makes Execute itself
// return (zero, nil) instead of rejecting on failure — the caller inspects
// dst.Success/dst.Err rather than Execute's own return values.
func WithDetails[Out any](dst *ExecutionDetails[Out]) ExecuteOption {
	return func(o *executeOptions) {
		o.details = func(success bool, result any, err error, fctx *FlowContext) {
			typed, _ := result.(Out)
			*dst = ExecutionDetails[Out]{Success: success, Result: typed, Err: err, Ctx: fctx}
		}
	}
}

// Flow is a named, schema-checked, dependency-aware unit of work. Build
// one with DefineFlow and run it with Execute.
type Flow[In, Out any] struct {
	def *FlowDefinition
}

// Definition exposes the type-erased FlowDefinition, e.g. for registering
// as a dependency of another flow's journal key namespace.
func (f *Flow[In, Out]) Definition() *FlowDefinition { return f.def }

// DefineFlow declares a flow: its dependencies (resolved into the
// invocation's pod before the handler runs, exactly like an executor's
// non-lazy/static dependencies), and its handler.
func DefineFlow[In, Out any](
	name string,
	deps []Dependency,
	handler func(fctx *FlowContext, rc *ResolveCtx, input In) (Out, error),
	opts ...FlowOption,
) *Flow[In, Out] {
	def := &FlowDefinition{name: name, deps: deps}
	for _, opt := range opts {
		opt(def)
	}
	def.invoke = func(fctx *FlowContext, rc *ResolveCtx, input any) (any, error) {
		typed, _ := input.(In)
		return handler(fctx, rc, typed)
	}
	return &Flow[In, Out]{def: def}
}

// Execute runs the flow to completion: it builds a pod scope off the
// target scope, validates input, resolves the flow's dependencies into the
// pod, invokes the extension-wrapped handler, validates the output, and
// tears the pod down afterward. Cancellation is cooperative: ctx is only
// checked at suspension points (Run, Exec, each dependency resolve) and
// before the handler itself runs; Parallel and ParallelSettled do not check
// it, never by racing a goroutine running the handler
// against ctx.Done().
//
// With no WithScope option, Execute constructs a private scope for this
// invocation alone and disposes it before returning. With WithDetails,
// Execute never returns an error itself — the outcome lands in the
// supplied ExecutionDetails instead.
func (f *Flow[In, Out]) Execute(ctx context.Context, input In, opts ...ExecuteOption) (Out, error) {
	var zero Out
	cfg := &executeOptions{}
	for _, opt := range opts {
		opt(cfg)
	}

	scope := cfg.scope
	if scope == nil {
		scope = NewScope()
		defer scope.Dispose()
	}

	result, fctx, err := f.run(ctx, scope, input, cfg.tags, cfg.extensions)

	if cfg.details != nil {
		cfg.details(err == nil, result, err, fctx)
		return zero, nil
	}
	if err != nil {
		return zero, err
	}
	typed, _ := result.(Out)
	return typed, nil
}

// run is Execute's core, shared with the details path: it returns the
// type-erased result (or error) plus the FlowContext the handler ran
// under, so WithDetails can report it even on failure.
func (f *Flow[In, Out]) run(ctx context.Context, scope *Scope, input In, tags []TaggedValue, extraExtensions []Extension) (any, *FlowContext, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-ctx.Done():
		return nil, nil, errCancelled(f.def.name)
	default:
	}

	if f.def.inputSchema != nil {
		if _, err := runValidateAsync(ctx, f.def.inputSchema, input); err != nil {
			return nil, nil, err
		}
	}

	podOpts := make([]ScopeOption, 0, len(tags)+len(extraExtensions))
	for _, tv := range tags {
		podOpts = append(podOpts, WithScopeTag(tv))
	}
	for _, ext := range extraExtensions {
		podOpts = append(podOpts, WithExtension(ext))
	}
	pod := scope.pod(podOpts...)

	fctx := newFlowContext(ctx, pod, nil, f.def.name, 0)

	for _, ext := range pod.extensions {
		if err := ext.InitPod(pod, fctx); err != nil {
			pod.dispose()
			return nil, fctx, err
		}
	}
	defer func() {
		for _, ext := range pod.extensions {
			if err := ext.DisposePod(pod); err != nil {
				pod.notifyExtensionError(err)
			}
		}
		pod.dispose()
	}()

	if err := pod.resolveFlowDeps(ctx, f.def.deps, nil); err != nil {
		return nil, fctx, err
	}

	rc := pod.pool.acquire(pod, nil, ctx)
	defer pod.pool.release(rc)

	op := &Operation{Kind: OpExecute, Definition: f.def, Input: input, Depth: 0}
	result, err := composeWrap(pod.cachedReversedExtensions(), fctx, op, func() (any, error) {
		return f.def.invoke(fctx, rc, input)
	})
	if err != nil {
		return nil, fctx, err
	}

	if f.def.outputSchema != nil {
		validated, verr := runValidateAsync(ctx, f.def.outputSchema, result)
		if verr != nil {
			return nil, fctx, verr
		}
		result = validated
	}

	return result, fctx, nil
}

// Exec runs child as a subflow of the invocation owning parentFctx: a new
// FlowContext chained to parentFctx (so Get falls through, but Set never
// leaks upward), one nesting level deeper, sharing the parent's pod so
// already-resolved dependencies aren't re-resolved.
//
// An optional journalKey memoizes the call on parentFctx's journal, exactly
// like FlowContext.Run: a later Exec against the same key on the same
// context returns the recorded outcome instead of invoking child again.
func Exec[In, Out any](parentFctx *FlowContext, child *Flow[In, Out], input In, journalKey ...string) (Out, error) {
	var zero Out
	var key string
	if len(journalKey) > 0 {
		key = journalKey[0]
	}

	if key != "" {
		parentFctx.mu.Lock()
		rec, journaled := parentFctx.journal[key]
		parentFctx.mu.Unlock()
		if journaled {
			if rec.err != nil {
				return zero, rec.err
			}
			typed, _ := rec.output.(Out)
			return typed, nil
		}
	}

	select {
	case <-parentFctx.stdCtx.Done():
		return zero, errCancelled(child.def.name)
	default:
	}

	if path, found := flowPath(parentFctx, child.def.name); found {
		return zero, errCycleInFlow(path)
	}

	if child.def.inputSchema != nil {
		if _, err := runValidateAsync(parentFctx.stdCtx, child.def.inputSchema, input); err != nil {
			return zero, err
		}
	}

	if err := parentFctx.scope.resolveFlowDeps(parentFctx.stdCtx, child.def.deps, nil); err != nil {
		return zero, err
	}

	childFctx := newFlowContext(parentFctx.stdCtx, parentFctx.scope, parentFctx, child.def.name, parentFctx.depth+1)

	rc := parentFctx.scope.pool.acquire(parentFctx.scope, nil, parentFctx.stdCtx)
	defer parentFctx.scope.pool.release(rc)

	op := &Operation{Kind: OpSubflow, Definition: child.def, Input: input, Depth: childFctx.depth, JournalKey: key}
	result, err := composeWrap(parentFctx.scope.cachedReversedExtensions(), childFctx, op, func() (any, error) {
		return child.def.invoke(childFctx, rc, input)
	})
	if err == nil && child.def.outputSchema != nil {
		var verr error
		result, verr = runValidateAsync(parentFctx.stdCtx, child.def.outputSchema, result)
		if verr != nil {
			err = verr
		}
	}

	if key != "" {
		parentFctx.mu.Lock()
		parentFctx.journal[key] = journalRecord{output: result, err: err}
		parentFctx.mu.Unlock()
	}

	if err != nil {
		return zero, err
	}
	typed, _ := result.(Out)
	return typed, nil
}
