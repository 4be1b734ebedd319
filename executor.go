package pumped

import (
	"fmt"
	"sync/atomic"
)

// AccessMode names how a scope supplies a dependency's value to a
// dependent. Access modes never create new executors — they are
// annotations on a dependency reference.
type AccessMode int

const (
	// ModeValue supplies the resolved value. The default.
	ModeValue AccessMode = iota
	// ModeReactive supplies the value and subscribes the dependent so
	// updates to the source re-run it.
	ModeReactive
	// ModeLazy supplies an accessor; resolution is deferred to first use.
	ModeLazy
	// ModeStatic supplies an accessor that never re-runs the dependent.
	ModeStatic
)

func (m AccessMode) String() string {
	switch m {
	case ModeReactive:
		return "reactive"
	case ModeLazy:
		return "lazy"
	case ModeStatic:
		return "static"
	default:
		return "value"
	}
}

// Kind distinguishes executors with no dependencies from derived ones.
type Kind int

const (
	KindProvide Kind = iota
	KindDerive
)

// Dependency is a reference to an executor tagged with the access mode the
// scope should use to supply it. *Executor[T] itself implements Dependency
// in ModeValue; call .Reactive()/.Lazy()/.Static() for the other modes.
type Dependency interface {
	GetExecutor() AnyExecutor
	GetMode() AccessMode
}

type modedDep struct {
	executor AnyExecutor
	mode     AccessMode
}

func (d modedDep) GetExecutor() AnyExecutor { return d.executor }
func (d modedDep) GetMode() AccessMode      { return d.mode }

// AnyExecutor is the type-erased view of an *Executor[T] the scope engine
// operates on. The factory-invocation method is unexported so AnyExecutor
// can only be implemented inside this package (a sealed interface).
type AnyExecutor interface {
	ID() uint64
	ExecKind() Kind
	Tags() []TaggedValue
	Deps() []Dependency
	Label() string

	GetExecutor() AnyExecutor
	GetMode() AccessMode
	Value() Dependency
	Reactive() Dependency
	Lazy() Dependency
	Static() Dependency

	invokeFactory(rc *ResolveCtx) (any, error)
}

var executorIDs atomic.Uint64

func nextExecutorID() uint64 {
	return executorIDs.Add(1)
}

// Executor is an immutable descriptor carrying an identity, a factory, a
// dependency list, and definition-time tags.
type Executor[T any] struct {
	id      uint64
	kind    Kind
	deps    []Dependency
	factory func(*ResolveCtx) (T, error)
	tags    []TaggedValue
	name    string
}

func (e *Executor[T]) ID() uint64          { return e.id }
func (e *Executor[T]) ExecKind() Kind      { return e.kind }
func (e *Executor[T]) Tags() []TaggedValue { return e.tags }
func (e *Executor[T]) Deps() []Dependency  { return e.deps }

// Label returns the "executor.name" tag if one was attached, else a stable
// synthetic identifier — used only for error messages and debug extensions.
func (e *Executor[T]) Label() string {
	if e.name != "" {
		return e.name
	}
	if name, ok := NameTag.Find(TagList(e.tags)); ok {
		return name
	}
	return fmt.Sprintf("executor#%d", e.id)
}

func (e *Executor[T]) GetExecutor() AnyExecutor { return e }
func (e *Executor[T]) GetMode() AccessMode      { return ModeValue }
func (e *Executor[T]) Value() Dependency        { return modedDep{e, ModeValue} }
func (e *Executor[T]) Reactive() Dependency     { return modedDep{e, ModeReactive} }
func (e *Executor[T]) Lazy() Dependency         { return modedDep{e, ModeLazy} }
func (e *Executor[T]) Static() Dependency       { return modedDep{e, ModeStatic} }

func (e *Executor[T]) invokeFactory(rc *ResolveCtx) (any, error) {
	return e.factory(rc)
}

// TagList lets a raw []TaggedValue slice serve directly as a tag source,
// without wrapping it in a TagContainer.
type TagList []TaggedValue

// NameTag is a well-known tag most executors carry for debug/log output;
// attaching it is optional everywhere it is read.
var NameTag = NewTag[string](Custom[string](), WithLabel[string]("executor.name"))

// Named attaches NameTag to a slice of definition-time tags, for use as
// `pumped.Provide(factory, pumped.Named("db"))`.
func Named(name string) TaggedValue {
	tv, _ := NameTag.New(name)
	return tv
}

// Provide declares a dependency-free executor.
func Provide[T any](factory func(*ResolveCtx) (T, error), tags ...TaggedValue) *Executor[T] {
	return &Executor[T]{id: nextExecutorID(), kind: KindProvide, factory: factory, tags: tags}
}

// Derive1 declares a derived executor with a single typed dependency.
func Derive1[T, D1 any](d1 Dependency, factory func(*ResolveCtx, *Accessor[D1]) (T, error), tags ...TaggedValue) *Executor[T] {
	exec := &Executor[T]{id: nextExecutorID(), kind: KindDerive, deps: []Dependency{d1}, tags: tags}
	exec.factory = func(rc *ResolveCtx) (T, error) {
		acc := &Accessor[D1]{executor: d1.GetExecutor().(*Executor[D1]), scope: rc.scope, ctx: rc.ctx}
		return factory(rc, acc)
	}
	return exec
}

// Derive2 declares a derived executor with two typed dependencies.
func Derive2[T, D1, D2 any](
	d1, d2 Dependency,
	factory func(*ResolveCtx, *Accessor[D1], *Accessor[D2]) (T, error),
	tags ...TaggedValue,
) *Executor[T] {
	exec := &Executor[T]{id: nextExecutorID(), kind: KindDerive, deps: []Dependency{d1, d2}, tags: tags}
	exec.factory = func(rc *ResolveCtx) (T, error) {
		a1 := &Accessor[D1]{executor: d1.GetExecutor().(*Executor[D1]), scope: rc.scope, ctx: rc.ctx}
		a2 := &Accessor[D2]{executor: d2.GetExecutor().(*Executor[D2]), scope: rc.scope, ctx: rc.ctx}
		return factory(rc, a1, a2)
	}
	return exec
}

// Derive3 declares a derived executor with three typed dependencies.
func Derive3[T, D1, D2, D3 any](
	d1, d2, d3 Dependency,
	factory func(*ResolveCtx, *Accessor[D1], *Accessor[D2], *Accessor[D3]) (T, error),
	tags ...TaggedValue,
) *Executor[T] {
	exec := &Executor[T]{id: nextExecutorID(), kind: KindDerive, deps: []Dependency{d1, d2, d3}, tags: tags}
	exec.factory = func(rc *ResolveCtx) (T, error) {
		a1 := &Accessor[D1]{executor: d1.GetExecutor().(*Executor[D1]), scope: rc.scope, ctx: rc.ctx}
		a2 := &Accessor[D2]{executor: d2.GetExecutor().(*Executor[D2]), scope: rc.scope, ctx: rc.ctx}
		a3 := &Accessor[D3]{executor: d3.GetExecutor().(*Executor[D3]), scope: rc.scope, ctx: rc.ctx}
		return factory(rc, a1, a2, a3)
	}
	return exec
}

// Derive4 declares a derived executor with four typed dependencies.
func Derive4[T, D1, D2, D3, D4 any](
	d1, d2, d3, d4 Dependency,
	factory func(*ResolveCtx, *Accessor[D1], *Accessor[D2], *Accessor[D3], *Accessor[D4]) (T, error),
	tags ...TaggedValue,
) *Executor[T] {
	exec := &Executor[T]{id: nextExecutorID(), kind: KindDerive, deps: []Dependency{d1, d2, d3, d4}, tags: tags}
	exec.factory = func(rc *ResolveCtx) (T, error) {
		a1 := &Accessor[D1]{executor: d1.GetExecutor().(*Executor[D1]), scope: rc.scope, ctx: rc.ctx}
		a2 := &Accessor[D2]{executor: d2.GetExecutor().(*Executor[D2]), scope: rc.scope, ctx: rc.ctx}
		a3 := &Accessor[D3]{executor: d3.GetExecutor().(*Executor[D3]), scope: rc.scope, ctx: rc.ctx}
		a4 := &Accessor[D4]{executor: d4.GetExecutor().(*Executor[D4]), scope: rc.scope, ctx: rc.ctx}
		return factory(rc, a1, a2, a3, a4)
	}
	return exec
}

// Derive5 declares a derived executor with five typed dependencies.
func Derive5[T, D1, D2, D3, D4, D5 any](
	d1, d2, d3, d4, d5 Dependency,
	factory func(*ResolveCtx, *Accessor[D1], *Accessor[D2], *Accessor[D3], *Accessor[D4], *Accessor[D5]) (T, error),
	tags ...TaggedValue,
) *Executor[T] {
	exec := &Executor[T]{id: nextExecutorID(), kind: KindDerive, deps: []Dependency{d1, d2, d3, d4, d5}, tags: tags}
	exec.factory = func(rc *ResolveCtx) (T, error) {
		a1 := &Accessor[D1]{executor: d1.GetExecutor().(*Executor[D1]), scope: rc.scope, ctx: rc.ctx}
		a2 := &Accessor[D2]{executor: d2.GetExecutor().(*Executor[D2]), scope: rc.scope, ctx: rc.ctx}
		a3 := &Accessor[D3]{executor: d3.GetExecutor().(*Executor[D3]), scope: rc.scope, ctx: rc.ctx}
		a4 := &Accessor[D4]{executor: d4.GetExecutor().(*Executor[D4]), scope: rc.scope, ctx: rc.ctx}
		a5 := &Accessor[D5]{executor: d5.GetExecutor().(*Executor[D5]), scope: rc.scope, ctx: rc.ctx}
		return factory(rc, a1, a2, a3, a4, a5)
	}
	return exec
}

// DeriveList declares a derived executor whose dependencies are an ordered
// list, for cases where the arity or types aren't known until run time.
// Values for lazy/static dependencies arrive as an untyped accessor whose
// Get/Resolve return any; everything else arrives as its resolved value.
func DeriveList[T any](deps []Dependency, factory func(*ResolveCtx, []any) (T, error), tags ...TaggedValue) *Executor[T] {
	exec := &Executor[T]{id: nextExecutorID(), kind: KindDerive, deps: deps, tags: tags}
	exec.factory = func(rc *ResolveCtx) (T, error) {
		values := make([]any, len(deps))
		for i, d := range deps {
			v, err := dynamicDepValue(rc, d)
			if err != nil {
				var zero T
				return zero, err
			}
			values[i] = v
		}
		return factory(rc, values)
	}
	return exec
}

// DeriveMap declares a derived executor whose dependencies are a
// string-keyed mapping, e.g. `{ db: db, cache: cache.Reactive() }`.
func DeriveMap[T any](deps map[string]Dependency, factory func(*ResolveCtx, map[string]any) (T, error), tags ...TaggedValue) *Executor[T] {
	depList := make([]Dependency, 0, len(deps))
	for _, d := range deps {
		depList = append(depList, d)
	}
	exec := &Executor[T]{id: nextExecutorID(), kind: KindDerive, deps: depList, tags: tags}
	exec.factory = func(rc *ResolveCtx) (T, error) {
		values := make(map[string]any, len(deps))
		for key, d := range deps {
			v, err := dynamicDepValue(rc, d)
			if err != nil {
				var zero T
				return zero, err
			}
			values[key] = v
		}
		return factory(rc, values)
	}
	return exec
}

// dynamicDepValue resolves one dependency for the DeriveList/DeriveMap
// paths: lazy/static modes yield an accessor, value/reactive modes yield
// the already-resolved value straight from the scope's cache (the scope
// engine guarantees dependency closure before the factory runs).
func dynamicDepValue(rc *ResolveCtx, d Dependency) (any, error) {
	switch d.GetMode() {
	case ModeLazy, ModeStatic:
		return newDynamicAccessor(rc.scope, d.GetExecutor(), rc.ctx), nil
	default:
		v, ok := rc.scope.peekAny(d.GetExecutor())
		if !ok {
			return nil, errNotResolved(d.GetExecutor().Label())
		}
		return v, nil
	}
}
