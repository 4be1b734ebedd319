package pumped

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFlow_ExecuteRunsHandlerWithResolvedDeps(t *testing.T) {
	greeting := Provide(func(rc *ResolveCtx) (string, error) { return "hello", nil })

	flow := DefineFlow[string, string]("greet", []Dependency{greeting},
		func(fctx *FlowContext, rc *ResolveCtx, name string) (string, error) {
			g, err := NewAccessor(rc.Scope(), greeting).Get()
			if err != nil {
				return "", err
			}
			return g + ", " + name, nil
		})

	scope := NewScope()
	defer scope.Dispose()

	out, err := flow.Execute(context.Background(), "world", WithScope(scope))
	require.NoError(t, err)
	require.Equal(t, "hello, world", out)
}

func TestFlow_InputSchemaRejectsInvalidInput(t *testing.T) {
	flow := DefineFlow[int, int]("double", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) { return in * 2, nil },
		WithInputSchema(rejectingSchema{}),
	)

	scope := NewScope()
	defer scope.Dispose()

	_, err := flow.Execute(context.Background(), 5, WithScope(scope))
	require.Error(t, err)
	require.True(t, IsKind(err, KindValidationFailure))
}

type rejectingSchema struct{}

func (rejectingSchema) Validate(value any) (any, error) {
	return nil, errors.New("always rejects")
}
func (rejectingSchema) ValidateAsync(_ context.Context, value any) (any, error) {
	return nil, errors.New("always rejects")
}

func TestFlow_ContextSetGetScopedToInvocation(t *testing.T) {
	type ctxKey struct{}

	flow := DefineFlow[int, int]("stash", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) {
			fctx.Set(ctxKey{}, "stashed")
			v, _ := fctx.Get(ctxKey{})
			return len(v.(string)), nil
		})

	scope := NewScope()
	defer scope.Dispose()

	out, err := flow.Execute(context.Background(), 0, WithScope(scope))
	require.NoError(t, err)
	require.Equal(t, len("stashed"), out)
}

func TestFlowContext_RunJournalsAndReplays(t *testing.T) {
	var calls atomic.Int32
	flow := DefineFlow[int, int]("journaled", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) {
			v1, err := fctx.Run("step", func() (any, error) {
				calls.Add(1)
				return 7, nil
			})
			if err != nil {
				return 0, err
			}
			v2, err := fctx.Run("step", func() (any, error) {
				calls.Add(1)
				return 999, nil
			})
			if err != nil {
				return 0, err
			}
			return v1.(int) + v2.(int), nil
		})

	scope := NewScope()
	defer scope.Dispose()

	out, err := flow.Execute(context.Background(), 0, WithScope(scope))
	require.NoError(t, err)
	require.Equal(t, 14, out)
	require.Equal(t, int32(1), calls.Load(), "second Run with the same key must replay, not re-execute")
}

func TestExec_RunsSubflowAndDetectsSelfCycle(t *testing.T) {
	var recurse *Flow[int, int]
	recurse = DefineFlow[int, int]("recursive", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) {
			if in <= 0 {
				return 0, nil
			}
			return Exec(fctx, recurse, in-1)
		})

	scope := NewScope()
	defer scope.Dispose()

	_, err := recurse.Execute(context.Background(), 1, WithScope(scope))
	require.Error(t, err)
	require.True(t, IsKind(err, KindCycleInFlow))
}

func TestFlow_ParallelSettledCollectsAllOutcomes(t *testing.T) {
	flow := DefineFlow[int, int]("fanout", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) {
			settled := fctx.ParallelSettled(
				func() (any, error) { return 1, nil },
				func() (any, error) { return nil, errors.New("partial failure") },
				func() (any, error) { return 3, nil },
			)
			require.Equal(t, ParallelStats{Total: 3, Succeeded: 2, Failed: 1}, settled.Stats)
			sum := 0
			for _, o := range settled.Outcomes {
				if o.Fulfilled() {
					sum += o.Value.(int)
				}
			}
			return sum, nil
		})

	scope := NewScope()
	defer scope.Dispose()

	out, err := flow.Execute(context.Background(), 0, WithScope(scope))
	require.NoError(t, err)
	require.Equal(t, 4, out)
}

func TestFlow_ExecuteFailsOnAlreadyCancelledContext(t *testing.T) {
	flow := DefineFlow[int, int]("noop", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) { return in, nil })

	scope := NewScope()
	defer scope.Dispose()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := flow.Execute(ctx, 1, WithScope(scope))
	require.Error(t, err)
	require.True(t, IsKind(err, KindOperationCancelled))
}

func TestFlow_ExecuteWithoutScopeConstructsPrivateScope(t *testing.T) {
	flow := DefineFlow[int, int]("standalone", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) { return in * 2, nil })

	out, err := flow.Execute(context.Background(), 21)
	require.NoError(t, err)
	require.Equal(t, 42, out)
}

func TestFlow_ExecuteWithDetailsReportsFailureWithoutError(t *testing.T) {
	boom := errors.New("handler failed")
	flow := DefineFlow[int, int]("failing", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) { return 0, boom })

	var details ExecutionDetails[int]
	out, err := flow.Execute(context.Background(), 1, WithDetails(&details))
	require.NoError(t, err)
	require.Equal(t, 0, out)
	require.False(t, details.Success)
	require.ErrorIs(t, details.Err, boom)
	require.NotNil(t, details.Ctx)
}

func TestFlow_ExecuteTagOptionSeedsPodVisibleToHandler(t *testing.T) {
	tag := NewTag[string](Custom[string](), WithLabel[string]("injected-role"))

	flow := DefineFlow[int, string]("tagged", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (string, error) {
			return tag.Get(fctx.Scope())
		})

	tv, err := tag.Set(nil, "admin")
	require.NoError(t, err)

	out, err := flow.Execute(context.Background(), 0, WithExecuteTag(tv))
	require.NoError(t, err)
	require.Equal(t, "admin", out)
}

type recordingExtension struct {
	BaseExtension
	wrapped *atomic.Bool
}

func (e *recordingExtension) Wrap(fctx *FlowContext, next func() (any, error), op *Operation) (any, error) {
	e.wrapped.Store(true)
	return next()
}

func TestFlow_ExecuteExtensionOptionWrapsThisInvocationOnly(t *testing.T) {
	var wrapped atomic.Bool
	flow := DefineFlow[int, int]("extended", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) { return in, nil })

	scope := NewScope()
	defer scope.Dispose()

	out, err := flow.Execute(context.Background(), 7, WithScope(scope), WithExecuteExtension(&recordingExtension{wrapped: &wrapped}))
	require.NoError(t, err)
	require.Equal(t, 7, out)
	require.True(t, wrapped.Load())

	wrapped.Store(false)
	_, err = flow.Execute(context.Background(), 7, WithScope(scope))
	require.NoError(t, err)
	require.False(t, wrapped.Load(), "the extension must not stay on the scope after its invocation")
}

func TestExec_JournalKeyMemoizesSubflowInvocation(t *testing.T) {
	var childCalls atomic.Int32
	child := DefineFlow[int, int]("child", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) {
			childCalls.Add(1)
			return in + 1, nil
		})

	parent := DefineFlow[int, int]("parent", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) {
			v1, err := Exec(fctx, child, in, "call-child")
			if err != nil {
				return 0, err
			}
			v2, err := Exec(fctx, child, in, "call-child")
			if err != nil {
				return 0, err
			}
			return v1 + v2, nil
		})

	scope := NewScope()
	defer scope.Dispose()

	out, err := parent.Execute(context.Background(), 1, WithScope(scope))
	require.NoError(t, err)
	require.Equal(t, 4, out)
	require.Equal(t, int32(1), childCalls.Load(), "second Exec with the same journalKey must replay, not re-invoke")
}

func TestFlowContext_ParallelRunsThunksConcurrently(t *testing.T) {
	const n = 4
	var wg sync.WaitGroup
	wg.Add(n)
	start := make(chan struct{})

	flow := DefineFlow[int, int]("barrier", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) {
			thunks := make([]func() (any, error), n)
			for i := 0; i < n; i++ {
				thunks[i] = func() (any, error) {
					wg.Done()
					select {
					case <-start:
					case <-time.After(2 * time.Second):
						return nil, errors.New("timed out waiting for concurrent siblings")
					}
					return 1, nil
				}
			}
			result, err := fctx.Parallel(thunks...)
			if err != nil {
				return 0, err
			}
			return len(result.Results), nil
		})

	go func() {
		wg.Wait()
		close(start)
	}()

	scope := NewScope()
	defer scope.Dispose()

	out, err := flow.Execute(context.Background(), 0, WithScope(scope))
	require.NoError(t, err)
	require.Equal(t, n, out)
}

func TestFlow_ParallelFailsFastWithFirstError(t *testing.T) {
	flow := DefineFlow[int, int]("fail-fast", nil,
		func(fctx *FlowContext, rc *ResolveCtx, in int) (int, error) {
			result, err := fctx.Parallel(
				func() (any, error) { return 1, nil },
				func() (any, error) { return nil, errors.New("boom") },
			)
			if err != nil {
				return 0, err
			}
			return len(result.Results), nil
		})

	scope := NewScope()
	defer scope.Dispose()

	_, err := flow.Execute(context.Background(), 0, WithScope(scope))
	require.Error(t, err)
	require.Equal(t, "boom", err.Error())
}
