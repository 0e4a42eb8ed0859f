package values

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type celsius float64

func TestToSlice(t *testing.T) {
	got, err := ToSlice([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, got)

	got, err = ToSlice([2]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2}, got)

	_, err = ToSlice("not a list")
	assert.Error(t, err)
	_, err = ToSlice(nil)
	assert.Error(t, err)
}

func TestIsList(t *testing.T) {
	assert.True(t, IsList([]any{}))
	assert.True(t, IsList([3]string{}))
	assert.False(t, IsList([]byte("raw")))
	assert.False(t, IsList("s"))
	assert.False(t, IsList(nil))
}

func TestToFloat(t *testing.T) {
	f, ok := ToFloat(int32(4))
	require.True(t, ok)
	assert.Equal(t, 4.0, f)

	f, ok = ToFloat(celsius(1.5))
	require.True(t, ok)
	assert.Equal(t, 1.5, f)

	_, ok = ToFloat("4")
	assert.False(t, ok)
	assert.True(t, IsInteger(uint8(1)))
	assert.False(t, IsInteger(1.0))
}

func TestPlain(t *testing.T) {
	n := 7
	in := map[string]any{
		"temps":  []celsius{1.5, 2},
		"matrix": [2][2]int{{1, 2}, {3, 4}},
		"ptr":    &n,
		"bytes":  []byte("hi"),
		"keys":   map[int]string{1: "one"},
		"nil":    []string(nil),
	}

	out := Plain(in).(map[string]any)
	assert.Equal(t, []any{1.5, 2.0}, out["temps"])
	assert.Equal(t, []any{[]any{int64(1), int64(2)}, []any{int64(3), int64(4)}}, out["matrix"])
	assert.Equal(t, int64(7), out["ptr"])
	assert.Equal(t, "hi", out["bytes"])
	assert.Equal(t, map[string]any{"1": "one"}, out["keys"])
	assert.Equal(t, []any{}, out["nil"])
	assert.Nil(t, Plain(nil))
}
