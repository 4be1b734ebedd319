package pumped

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPromised_RunsThunkAtMostOnce(t *testing.T) {
	var calls atomic.Int32
	p := NewPromised(func() (int, error) {
		calls.Add(1)
		return 7, nil
	})

	for i := 0; i < 5; i++ {
		v, err := p.Await()
		require.NoError(t, err)
		require.Equal(t, 7, v)
	}
	require.Equal(t, int32(1), calls.Load())
}

func TestPromised_IsCold(t *testing.T) {
	var ran bool
	_ = NewPromised(func() (int, error) {
		ran = true
		return 1, nil
	})
	require.False(t, ran, "constructing a Promised must not run its thunk")
}

func TestResolvedAndRejected(t *testing.T) {
	v, err := Resolved(5).Await()
	require.NoError(t, err)
	require.Equal(t, 5, v)

	_, err = Rejected[int](errors.New("boom")).Await()
	require.EqualError(t, err, "boom")
}

func TestMap(t *testing.T) {
	p := NewPromised(func() (int, error) { return 2, nil })
	doubled := Map(p, func(v int) (int, error) { return v * 2, nil })
	v, err := doubled.Await()
	require.NoError(t, err)
	require.Equal(t, 4, v)
}

func TestMap_PropagatesError(t *testing.T) {
	p := Rejected[int](errors.New("upstream failed"))
	mapped := Map(p, func(v int) (string, error) { return "never", nil })
	_, err := mapped.Await()
	require.EqualError(t, err, "upstream failed")
}

func TestFlatMap(t *testing.T) {
	p := NewPromised(func() (int, error) { return 3, nil })
	chained := FlatMap(p, func(v int) (*Promised[int], error) {
		return NewPromised(func() (int, error) { return v + 10, nil }), nil
	})
	v, err := chained.Await()
	require.NoError(t, err)
	require.Equal(t, 13, v)
}

func TestCatch(t *testing.T) {
	p := Rejected[int](errors.New("fail"))
	recovered := p.Catch(func(err error) (int, error) { return 99, nil })
	v, err := recovered.Await()
	require.NoError(t, err)
	require.Equal(t, 99, v)
}

func TestFinally_RunsOnSuccessAndFailure(t *testing.T) {
	var ranOK, ranErr bool
	_, _ = NewPromised(func() (int, error) { return 1, nil }).Finally(func() { ranOK = true }).Await()
	_, _ = Rejected[int](errors.New("x")).Finally(func() { ranErr = true }).Await()

	require.True(t, ranOK)
	require.True(t, ranErr)
}

func TestAll_FailsFastOnFirstError(t *testing.T) {
	ps := []*Promised[int]{
		Resolved(1),
		Rejected[int](errors.New("second failed")),
		Resolved(3),
	}
	_, err := All(ps).Await()
	require.EqualError(t, err, "second failed")
}

func TestAll_Succeeds(t *testing.T) {
	ps := []*Promised[int]{Resolved(1), Resolved(2), Resolved(3)}
	values, err := All(ps).Await()
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, values)
}

func TestAllSettled_NeverFails(t *testing.T) {
	ps := []*Promised[int]{
		Resolved(1),
		Rejected[int](errors.New("boom")),
		Resolved(3),
	}
	settled, err := AllSettled(ps).Await()
	require.NoError(t, err)
	require.Len(t, settled.Outcomes, 3)

	fulfilled, rejected := settled.Partition()
	require.Equal(t, []int{1, 3}, fulfilled)
	require.Len(t, rejected, 1)
	require.EqualError(t, rejected[0], "boom")
}

func TestAllSettled_FirstFulfilledAndFirstRejected(t *testing.T) {
	ps := []*Promised[int]{
		Rejected[int](errors.New("a")),
		Resolved(42),
		Rejected[int](errors.New("b")),
	}
	settled, _ := AllSettled(ps).Await()

	v, ok := settled.FirstFulfilled()
	require.True(t, ok)
	require.Equal(t, 42, v)

	err, ok := settled.FirstRejected()
	require.True(t, ok)
	require.EqualError(t, err, "a")
}

func TestMapFulfilled(t *testing.T) {
	ps := []*Promised[int]{Resolved(1), Rejected[int](errors.New("x")), Resolved(2)}
	settled, _ := AllSettled(ps).Await()
	doubled := MapFulfilled(settled, func(v int) int { return v * 2 })
	require.Equal(t, []int{2, 4}, doubled)
}

func TestAssertAllFulfilled(t *testing.T) {
	okSettled, _ := AllSettled([]*Promised[int]{Resolved(1), Resolved(2)}).Await()
	values, err := okSettled.AssertAllFulfilled(nil)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, values)

	badSettled, _ := AllSettled([]*Promised[int]{Resolved(1), Rejected[int](errors.New("bad"))}).Await()
	_, err = badSettled.AssertAllFulfilled(func(errs []error) error {
		return errors.New("aggregate failure")
	})
	require.EqualError(t, err, "aggregate failure")
}
