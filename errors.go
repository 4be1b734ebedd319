package pumped

import (
	"errors"
	"strings"
)

// ErrKind discriminates the error taxonomy of the core.
type ErrKind string

const (
	KindCircularDependency ErrKind = "circular-dependency"
	KindNotResolved        ErrKind = "not-resolved"
	KindScopeDisposed      ErrKind = "scope-disposed"
	KindFactoryFailed      ErrKind = "factory-failed"
	KindValidationFailure  ErrKind = "validation-failure"
	KindMissingValue       ErrKind = "missing-value"
	KindNotFound           ErrKind = "not-found"
	KindCycleInFlow        ErrKind = "cycle-in-flow"
	KindOperationCancelled ErrKind = "operation-cancelled"
)

// CoreError is the structured failure type every public operation returns.
// All kind-specific fields are optional and only populated for the kinds
// that use them.
type CoreError struct {
	Kind       ErrKind
	Message    string
	Cause      error
	Chain      []string // circular-dependency / factory-failed dependency chain
	ExecutorID string   // not-resolved / factory-failed / operation-cancelled
	TagKey     string   // missing-value / not-found
	FlowPath   []string // cycle-in-flow
	Issues     []ValidationIssue
}

func (e *CoreError) Error() string {
	var sb strings.Builder
	sb.WriteString(string(e.Kind))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if len(e.Chain) > 0 {
		sb.WriteString(" (chain: ")
		sb.WriteString(strings.Join(e.Chain, " -> "))
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, &CoreError{Kind: KindX}) to match by kind alone.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	if t.Kind == "" {
		return false
	}
	return e.Kind == t.Kind
}

func errCircular(chain []string) *CoreError {
	return &CoreError{
		Kind:    KindCircularDependency,
		Message: "circular dependency detected",
		Chain:   chain,
	}
}

func errNotResolved(executorID string) *CoreError {
	return &CoreError{
		Kind:       KindNotResolved,
		Message:    "executor has not been resolved in this scope",
		ExecutorID: executorID,
	}
}

func errScopeDisposed() *CoreError {
	return &CoreError{
		Kind:    KindScopeDisposed,
		Message: "scope has been disposed",
	}
}

func errFactoryFailed(executorID string, chain []string, cause error) *CoreError {
	return &CoreError{
		Kind:       KindFactoryFailed,
		Message:    "factory invocation failed",
		ExecutorID: executorID,
		Chain:      chain,
		Cause:      cause,
	}
}

func errValidation(issues []ValidationIssue) *CoreError {
	return &CoreError{
		Kind:    KindValidationFailure,
		Message: "validation failed",
		Issues:  issues,
	}
}

func errMissingValue(tagKey string) *CoreError {
	return &CoreError{
		Kind:    KindMissingValue,
		Message: "tag has no value and no default",
		TagKey:  tagKey,
	}
}

func errNotFound(tagKey string) *CoreError {
	return &CoreError{
		Kind:    KindNotFound,
		Message: "tag not found in source",
		TagKey:  tagKey,
	}
}

func errCycleInFlow(path []string) *CoreError {
	return &CoreError{
		Kind:     KindCycleInFlow,
		Message:  "flow invoked itself along the current execution path",
		FlowPath: path,
	}
}

func errCancelled(label string) *CoreError {
	return &CoreError{
		Kind:       KindOperationCancelled,
		Message:    "operation cancelled",
		ExecutorID: label,
	}
}

// IsKind reports whether err (or something it wraps) is a *CoreError of kind k.
func IsKind(err error, k ErrKind) bool {
	var ce *CoreError
	if errors.As(err, &ce) {
		return ce.Kind == k
	}
	return false
}
