package pumped

// OperationKind discriminates the Operation record passed to Extension.Wrap.
type OperationKind string

const (
	OpResolve  OperationKind = "resolve"
	OpExecute  OperationKind = "execute"
	OpSubflow  OperationKind = "subflow"
	OpJournal  OperationKind = "journal"
	OpParallel OperationKind = "parallel"
)

// Operation is the discriminated record every extension hook receives.
// Only the fields relevant to Kind are populated.
type Operation struct {
	Kind OperationKind

	// resolve
	Executor  AnyExecutor
	Scope     *Scope
	SubAction string // "resolve" | "update"

	// execute / subflow
	Definition *FlowDefinition
	Input      any
	Depth      int
	JournalKey string

	// journal
	Key      string
	Params   []any
	IsReplay bool
	Output   any

	// parallel
	ParallelMode  string // "parallel" | "settled"
	PromiseCount  int
}

// Extension is a cross-cutting wrapper observing or mediating every
// resolve/update/execute/subflow/journal/parallel operation. Embed
// BaseExtension to pick up no-op defaults for hooks you don't need.
type Extension interface {
	// Init runs once, synchronously, when the extension is registered to
	// a scope (NewScope or UseExtension). Extensions a pod receives, inherited
	// or via WithExecuteExtension, are not initialized again.
	Init(scope *Scope) error
	// Dispose runs when the owning scope is disposed. Errors from one
	// extension's Dispose do not prevent other extensions' Dispose from
	// running.
	Dispose(scope *Scope) error
	// InitPod/DisposePod are the same lifecycle hooks scoped to a single
	// flow invocation's pod.
	InitPod(pod *Scope, fctx *FlowContext) error
	DisposePod(pod *Scope) error
	// Wrap intercepts one operation. It must call next at most once; not
	// calling it short-circuits the operation with whatever Wrap itself
	// returns. fctx is nil for resolve operations, inside a flow or not.
	Wrap(fctx *FlowContext, next func() (any, error), op *Operation) (any, error)
	// OnError observes a failure after Wrap's chain has unwound.
	OnError(err error, scope *Scope, fctx *FlowContext)
}

// BaseExtension supplies no-op defaults for every Extension method so
// concrete extensions only need to override what they care about.
type BaseExtension struct{}

func (BaseExtension) Init(*Scope) error                   { return nil }
func (BaseExtension) Dispose(*Scope) error                 { return nil }
func (BaseExtension) InitPod(*Scope, *FlowContext) error   { return nil }
func (BaseExtension) DisposePod(*Scope) error              { return nil }
func (BaseExtension) OnError(error, *Scope, *FlowContext)  {}
func (BaseExtension) Wrap(_ *FlowContext, next func() (any, error), _ *Operation) (any, error) {
	return next()
}

// composeWrap folds reversedExts (innermost-first, as cached per scope)
// around final, so that extensions run outer-to-inner in registration
// order.
func composeWrap(reversedExts []Extension, fctx *FlowContext, op *Operation, final func() (any, error)) (any, error) {
	next := final
	for _, extension := range reversedExts {
		ext := extension
		current := next
		next = func() (any, error) {
			return ext.Wrap(fctx, current, op)
		}
	}
	return next()
}

func reverseExtensions(exts []Extension) []Extension {
	out := make([]Extension, len(exts))
	for i, e := range exts {
		out[len(exts)-1-i] = e
	}
	return out
}
