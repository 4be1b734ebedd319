package pumped

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTag_GetAgainstKVStore(t *testing.T) {
	tag := NewTag[string](Custom[string](), WithLabel[string]("env"))
	scope := NewScope()
	defer scope.Dispose()

	_, err := tag.Set(scope, "production")
	require.NoError(t, err)

	v, err := tag.Get(scope)
	require.NoError(t, err)
	require.Equal(t, "production", v)
}

func TestTag_GetAgainstTagList(t *testing.T) {
	tag := NewTag[int](Custom[int](), WithLabel[int]("retries"))
	tv, err := tag.New(3)
	require.NoError(t, err)

	v, err := tag.Get(TagList{tv})
	require.NoError(t, err)
	require.Equal(t, 3, v)
}

func TestTag_GetAgainstTagContainer(t *testing.T) {
	exec := Provide(func(rc *ResolveCtx) (int, error) { return 1, nil }, Named("db"))

	v, err := NameTag.Get(exec)
	require.NoError(t, err)
	require.Equal(t, "db", v)
}

func TestTag_NotFoundWithoutDefault(t *testing.T) {
	tag := NewTag[string](Custom[string](), WithLabel[string]("missing"))
	_, err := tag.Get(TagList{})
	require.Error(t, err)
	require.True(t, IsKind(err, KindNotFound))
}

func TestTag_DefaultFallback(t *testing.T) {
	tag := NewTag[string](Custom[string](), WithLabel[string]("region"), WithDefault[string]("us-east"))
	v, err := tag.Get(TagList{})
	require.NoError(t, err)
	require.Equal(t, "us-east", v)
}

func TestTag_Find(t *testing.T) {
	tag := NewTag[int](Custom[int](), WithLabel[int]("count"))
	v, ok := tag.Find(TagList{})
	require.False(t, ok)
	require.Equal(t, 0, v)
}

func TestTag_New_MissingValueWithoutDefault(t *testing.T) {
	tag := NewTag[string](Custom[string](), WithLabel[string]("required"))
	_, err := tag.New()
	require.Error(t, err)
	require.True(t, IsKind(err, KindMissingValue))
}

func TestTag_Some_CollectsEveryMatch(t *testing.T) {
	tag := NewTag[string](Custom[string](), WithLabel[string]("tag.label"))
	tv1, _ := tag.New("a")
	tv2, _ := tag.New("b")
	other := NewTag[string](Custom[string](), WithLabel[string]("other"))
	tvOther, _ := other.New("x")

	got := tag.Some(TagList{tv1, tvOther, tv2})
	require.Equal(t, []string{"a", "b"}, got)
}

func TestTag_DistinctKeysEvenWithSameLabel(t *testing.T) {
	tagA := NewTag[string](Custom[string](), WithLabel[string]("dup"))
	tagB := NewTag[string](Custom[string](), WithLabel[string]("dup"))

	tv, _ := tagA.New("only-a")
	_, ok := tagB.Find(TagList{tv})
	require.False(t, ok, "two tags built independently must never alias, even with an identical label")
}
