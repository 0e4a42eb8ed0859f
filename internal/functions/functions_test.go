package functions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowfunc/pkg/schema"
)

// --- Registry ---

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterFunc("text.shout", []Param{Req("text")}, func(_ context.Context, args map[string]any) (any, error) {
		return args["text"].(string) + "!", nil
	}))

	assert.True(t, r.Has("text.shout"))
	inv, err := r.Get("text.shout")
	require.NoError(t, err)

	out, err := inv.Call(context.Background(), map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi!", out)
}

func TestRegistry_DuplicateName(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, map[string]any) (any, error) { return nil, nil }
	require.NoError(t, r.RegisterFunc("a.b", nil, fn))
	assert.Error(t, r.RegisterFunc("a.b", nil, fn))
}

func TestRegistry_RejectsInvalidNames(t *testing.T) {
	r := NewRegistry()
	fn := func(context.Context, map[string]any) (any, error) { return nil, nil }
	assert.Error(t, r.RegisterFunc("", nil, fn))
	assert.Error(t, r.RegisterFunc("expr:x", nil, fn))
	assert.Error(t, r.Register(nil))
}

func TestRegistry_GetUnknown(t *testing.T) {
	_, err := NewRegistry().Get("nope.missing")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCallableNotFound))
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewDefaultRegistry()
	infos := r.List()
	require.NotEmpty(t, infos)
	for i := 1; i < len(infos); i++ {
		assert.Less(t, infos[i-1].Name, infos[i].Name)
	}
	assert.True(t, r.Has("builtins.tokenize"))
}

func TestSignature(t *testing.T) {
	sig := &Signature{Params: []Param{Req("x"), Opt("factor"), Req("y")}}
	assert.True(t, sig.Accepts("factor"))
	assert.False(t, sig.Accepts("z"))
	assert.Equal(t, []string{"x", "y"}, sig.Required())
}

// --- Expression invocables ---

func TestResolve_Expr(t *testing.T) {
	r := NewRegistry()
	inv, err := r.Resolve("expr:x * factor")
	require.NoError(t, err)
	assert.Nil(t, inv.Signature())

	out, err := inv.Call(context.Background(), map[string]any{"x": 3, "factor": 4})
	require.NoError(t, err)
	assert.Equal(t, 12, out)

	again, err := r.Resolve("expr:x * factor")
	require.NoError(t, err)
	assert.Same(t, inv, again)
}

func TestResolve_ExprCompileError(t *testing.T) {
	_, err := NewRegistry().Resolve("expr:x +* y")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCallableNotFound))
}

func TestResolve_JQ(t *testing.T) {
	inv, err := NewRegistry().Resolve("jq:.values | add")
	require.NoError(t, err)

	out, err := inv.Call(context.Background(), map[string]any{"values": []int{1, 2, 3}})
	require.NoError(t, err)
	assert.EqualValues(t, 6, out)
}

func TestResolve_JQMultipleResults(t *testing.T) {
	inv, err := NewRegistry().Resolve("jq:.values[]")
	require.NoError(t, err)

	out, err := inv.Call(context.Background(), map[string]any{"values": []string{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out)
}

func TestResolve_JQParseError(t *testing.T) {
	_, err := NewRegistry().Resolve("jq:.[")
	assert.Error(t, err)
}

func TestResolve_CEL(t *testing.T) {
	inv, err := NewRegistry().Resolve("cel:size(args.tokens)")
	require.NoError(t, err)

	out, err := inv.Call(context.Background(), map[string]any{"tokens": []any{"a", "b", "c"}})
	require.NoError(t, err)
	assert.EqualValues(t, 3, out)
}

func TestResolve_CELList(t *testing.T) {
	inv, err := NewRegistry().Resolve("cel:[args.a, args.b]")
	require.NoError(t, err)

	out, err := inv.Call(context.Background(), map[string]any{"a": "x", "b": "y"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x", "y"}, out)
}

func TestResolve_CELCompileError(t *testing.T) {
	_, err := NewRegistry().Resolve("cel:args.a +")
	assert.Error(t, err)
}

func TestResolve_Unregistered(t *testing.T) {
	_, err := NewDefaultRegistry().Resolve("pkg.missing")
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCallableNotFound))
}

// --- Builtins ---

func call(t *testing.T, name string, args map[string]any) any {
	t.Helper()
	inv, err := NewDefaultRegistry().Resolve("builtins." + name)
	require.NoError(t, err)
	out, err := inv.Call(context.Background(), args)
	require.NoError(t, err)
	return out
}

func TestBuiltins(t *testing.T) {
	assert.Equal(t, "v", call(t, "identity", map[string]any{"value": "v"}))
	assert.Equal(t, 3, call(t, "length", map[string]any{"values": []any{1, 2, 3}}))
	assert.Equal(t, 2, call(t, "count", map[string]any{"values": []string{"a", "b"}}))
	assert.Equal(t, int64(6), call(t, "sum", map[string]any{"values": []int{1, 2, 3}}))
	assert.Equal(t, 2.5, call(t, "sum", map[string]any{"values": []any{1, 1.5}}))
	assert.Equal(t, 2.0, call(t, "mean", map[string]any{"values": []any{1, 2, 3}}))
	assert.Equal(t, "a-b", call(t, "join", map[string]any{"values": []any{"a", "b"}, "sep": "-"}))
	assert.Equal(t, []any{"a", "b", "c", 4}, call(t, "concat", map[string]any{"values": []any{[]any{"a", "b"}, []string{"c"}, 4}}))
	assert.Equal(t, []any{"a", "b"}, call(t, "split", map[string]any{"text": "a b"}))
	assert.Equal(t, []any{"a", "b,c"}, call(t, "split", map[string]any{"text": "a;b,c", "sep": ";"}))
	assert.Equal(t, []any{"hello", "world"}, call(t, "tokenize", map[string]any{"text": "Hello  World"}))
	assert.Equal(t, "ABC", call(t, "upper", map[string]any{"text": "abc"}))
	assert.Equal(t, "abc", call(t, "lower", map[string]any{"text": "ABC"}))
	assert.Equal(t, int64(5), call(t, "add", map[string]any{"x": 2, "y": 3}))
	assert.Equal(t, 5.0, call(t, "multiply", map[string]any{"x": 2.5, "factor": 2}))
	assert.Equal(t, int64(7), call(t, "multiply", map[string]any{"x": 7}))
}

func TestBuiltins_Errors(t *testing.T) {
	r := NewDefaultRegistry()
	ctx := context.Background()

	mean, err := r.Get("builtins.mean")
	require.NoError(t, err)
	_, err = mean.Call(ctx, map[string]any{"values": []any{}})
	assert.Error(t, err)

	sum, err := r.Get("builtins.sum")
	require.NoError(t, err)
	_, err = sum.Call(ctx, map[string]any{"values": []any{"x"}})
	assert.Error(t, err)

	upper, err := r.Get("builtins.upper")
	require.NoError(t, err)
	_, err = upper.Call(ctx, map[string]any{"text": 3})
	assert.Error(t, err)
}
