package pumped

import "sync"

// Promised is a cold, chainable future: the wrapped thunk runs at most once,
// on first Await, regardless of how many times Await is called or how many
// operators were chained onto it.
type Promised[T any] struct {
	once  sync.Once
	thunk func() (T, error)
	value T
	err   error
}

// NewPromised wraps a thunk. The thunk does not run until the first Await.
func NewPromised[T any](thunk func() (T, error)) *Promised[T] {
	return &Promised[T]{thunk: thunk}
}

// Resolved returns an already-fulfilled Promised. It is still cold in the
// sense that nothing runs eagerly; there is simply nothing left to run.
func Resolved[T any](value T) *Promised[T] {
	return &Promised[T]{value: value, once: onceDone()}
}

// Rejected returns an already-failed Promised.
func Rejected[T any](err error) *Promised[T] {
	return &Promised[T]{err: err, once: onceDone()}
}

func onceDone() sync.Once {
	var o sync.Once
	o.Do(func() {})
	return o
}

// Await forces the thunk (once) and returns its outcome. Safe for repeated
// and concurrent calls: every caller observes the same value/error.
func (p *Promised[T]) Await() (T, error) {
	p.once.Do(func() {
		if p.thunk != nil {
			p.value, p.err = p.thunk()
		}
	})
	return p.value, p.err
}

// Map transforms a fulfilled value. Defined as a package function, not a
// method, because Go forbids a method from introducing a new type
// parameter beyond its receiver's.
func Map[T, U any](p *Promised[T], f func(T) (U, error)) *Promised[U] {
	return NewPromised(func() (U, error) {
		v, err := p.Await()
		if err != nil {
			var zero U
			return zero, err
		}
		return f(v)
	})
}

// FlatMap chains into another Promised.
func FlatMap[T, U any](p *Promised[T], f func(T) (*Promised[U], error)) *Promised[U] {
	return NewPromised(func() (U, error) {
		v, err := p.Await()
		if err != nil {
			var zero U
			return zero, err
		}
		next, err := f(v)
		if err != nil {
			var zero U
			return zero, err
		}
		return next.Await()
	})
}

// Catch recovers from a failed Promised. f may return a replacement value
// or propagate a new error.
func (p *Promised[T]) Catch(f func(error) (T, error)) *Promised[T] {
	return NewPromised(func() (T, error) {
		v, err := p.Await()
		if err == nil {
			return v, nil
		}
		return f(err)
	})
}

// Finally runs f regardless of outcome, without altering the outcome.
func (p *Promised[T]) Finally(f func()) *Promised[T] {
	return NewPromised(func() (T, error) {
		v, err := p.Await()
		f()
		return v, err
	})
}

// Outcome is one settled result inside a SettledResult.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Fulfilled reports whether this outcome succeeded.
func (o Outcome[T]) Fulfilled() bool { return o.Err == nil }

// All awaits every Promised concurrently and fails fast: the first error
// observed, in input order (not completion order), short-circuits the
// result.
func All[T any](ps []*Promised[T]) *Promised[[]T] {
	return NewPromised(func() ([]T, error) {
		out := make([]T, len(ps))
		errs := make([]error, len(ps))
		var wg sync.WaitGroup
		for i, p := range ps {
			wg.Add(1)
			go func(i int, p *Promised[T]) {
				defer wg.Done()
				v, err := p.Await()
				out[i] = v
				errs[i] = err
			}(i, p)
		}
		wg.Wait()
		for _, err := range errs {
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	})
}

// SettledResult is the outcome of AllSettled: never fails, carries one
// Outcome per input Promised in input order, plus partition helpers.
type SettledResult[T any] struct {
	Outcomes []Outcome[T]
}

// AllSettled awaits every Promised concurrently and always fulfills.
func AllSettled[T any](ps []*Promised[T]) *Promised[*SettledResult[T]] {
	return NewPromised(func() (*SettledResult[T], error) {
		outcomes := make([]Outcome[T], len(ps))
		var wg sync.WaitGroup
		for i, p := range ps {
			wg.Add(1)
			go func(i int, p *Promised[T]) {
				defer wg.Done()
				v, err := p.Await()
				outcomes[i] = Outcome[T]{Value: v, Err: err}
			}(i, p)
		}
		wg.Wait()
		return &SettledResult[T]{Outcomes: outcomes}, nil
	})
}

// Fulfilled returns the values of every succeeded outcome, in order.
func (r *SettledResult[T]) Fulfilled() []T {
	out := make([]T, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Fulfilled() {
			out = append(out, o.Value)
		}
	}
	return out
}

// Rejected returns the errors of every failed outcome, in order.
func (r *SettledResult[T]) Rejected() []error {
	out := make([]error, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if !o.Fulfilled() {
			out = append(out, o.Err)
		}
	}
	return out
}

// Partition splits outcomes into fulfilled values and rejected errors.
func (r *SettledResult[T]) Partition() (fulfilled []T, rejected []error) {
	return r.Fulfilled(), r.Rejected()
}

// FirstFulfilled returns the first successful value, if any.
func (r *SettledResult[T]) FirstFulfilled() (T, bool) {
	for _, o := range r.Outcomes {
		if o.Fulfilled() {
			return o.Value, true
		}
	}
	var zero T
	return zero, false
}

// FirstRejected returns the first error, if any.
func (r *SettledResult[T]) FirstRejected() (error, bool) {
	for _, o := range r.Outcomes {
		if !o.Fulfilled() {
			return o.Err, true
		}
	}
	return nil, false
}

// FindFulfilled returns the first successful value matching pred.
func (r *SettledResult[T]) FindFulfilled(pred func(T) bool) (T, bool) {
	for _, o := range r.Outcomes {
		if o.Fulfilled() && pred(o.Value) {
			return o.Value, true
		}
	}
	var zero T
	return zero, false
}

// MapFulfilled projects every fulfilled value through fn. A package
// function for the same reason as Map/FlatMap above.
func MapFulfilled[T, U any](r *SettledResult[T], fn func(T) U) []U {
	out := make([]U, 0, len(r.Outcomes))
	for _, o := range r.Outcomes {
		if o.Fulfilled() {
			out = append(out, fn(o.Value))
		}
	}
	return out
}

// AssertAllFulfilled returns the fulfilled values, or an error if any
// outcome failed. errMap, if given, builds a single error from the
// rejected list; otherwise the first rejection is returned.
func (r *SettledResult[T]) AssertAllFulfilled(errMap func([]error) error) ([]T, error) {
	rejected := r.Rejected()
	if len(rejected) == 0 {
		return r.Fulfilled(), nil
	}
	if errMap != nil {
		return nil, errMap(rejected)
	}
	return nil, rejected[0]
}
