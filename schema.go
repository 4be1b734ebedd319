package pumped

import "context"

// ValidationIssue is one problem reported by a Schema.
type ValidationIssue struct {
	Message string
	Path    []string
}

// Schema is the external validation contract the core depends on but does
// not implement. Implementations wrap whatever validation library an
// application chooses; the core only ever calls Validate/ValidateAsync.
type Schema interface {
	// Validate runs synchronously. Implementations that can only validate
	// asynchronously should return ErrSyncRequired.
	Validate(value any) (any, error)

	// ValidateAsync always awaits, even for schemas that validate
	// synchronously under the hood.
	ValidateAsync(ctx context.Context, value any) (any, error)
}

// ErrSyncRequired is returned by a Schema.Validate implementation when the
// underlying validator cannot run synchronously.
var ErrSyncRequired = &CoreError{
	Kind:    KindValidationFailure,
	Message: "schema requires asynchronous validation but caller used a synchronous path",
}

// customSchema is a pass-through validator the core ships by default: it
// returns the input unchanged, used for type-only tagging.
type customSchema struct{}

func (customSchema) Validate(value any) (any, error) {
	return value, nil
}

func (customSchema) ValidateAsync(_ context.Context, value any) (any, error) {
	return value, nil
}

// Custom returns a schema that performs no validation; its sole purpose is
// to carry a compile-time type parameter through Tag[T] / Executor[T].
func Custom[T any]() Schema {
	return customSchema{}
}

// runValidate invokes schema.Validate and converts any error into a
// *CoreError of kind validation-failure, preserving ValidationIssues when
// the schema already produced them.
func runValidate(schema Schema, value any) (any, error) {
	if schema == nil {
		return value, nil
	}
	result, err := schema.Validate(value)
	if err == nil {
		return result, nil
	}
	return nil, wrapValidationErr(err)
}

func runValidateAsync(ctx context.Context, schema Schema, value any) (any, error) {
	if schema == nil {
		return value, nil
	}
	result, err := schema.ValidateAsync(ctx, value)
	if err == nil {
		return result, nil
	}
	return nil, wrapValidationErr(err)
}

func wrapValidationErr(err error) error {
	if ce, ok := err.(*CoreError); ok {
		return ce
	}
	return errValidation([]ValidationIssue{{Message: err.Error()}})
}
