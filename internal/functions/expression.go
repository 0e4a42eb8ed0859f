package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/itchyny/gojq"

	"github.com/rendis/flowfunc/pkg/schema"
)

// Expression invocables accept any argument names, so they report no signature.

// --- expr ---

type exprInvocable struct {
	ref string
	prg *vm.Program
}

// compileExpr compiles an expr-lang expression. Step arguments become
// top-level variables, e.g. "expr:x * factor".
func compileExpr(ref, code string) (Invocable, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, schema.NewError(schema.ErrCodeCallableNotFound, "empty expr expression")
	}
	prg, err := expr.Compile(code, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCallableNotFound,
			"expr compile error in %q: %s", code, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": code})
	}
	return &exprInvocable{ref: ref, prg: prg}, nil
}

func (e *exprInvocable) Name() string          { return e.ref }
func (e *exprInvocable) Signature() *Signature { return nil }

func (e *exprInvocable) Call(_ context.Context, args map[string]any) (any, error) {
	env := args
	if env == nil {
		env = map[string]any{}
	}
	out, err := vm.Run(e.prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", e.ref, err.Error()).
			WithCause(err)
	}
	return out, nil
}

// --- jq ---

type jqInvocable struct {
	ref  string
	code *gojq.Code
}

// compileJQ compiles a jq query. The arguments object is the query input,
// e.g. "jq:.values | add".
func compileJQ(ref, code string) (Invocable, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, schema.NewError(schema.ErrCodeCallableNotFound, "empty jq expression")
	}
	query, err := gojq.Parse(code)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCallableNotFound,
			"jq parse error in %q: %s", code, err.Error()).
			WithCause(err)
	}
	compiled, err := gojq.Compile(query,
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCallableNotFound,
			"jq compile error in %q: %s", code, err.Error()).
			WithCause(err)
	}
	return &jqInvocable{ref: ref, code: compiled}, nil
}

func (j *jqInvocable) Name() string          { return j.ref }
func (j *jqInvocable) Signature() *Signature { return nil }

// Call runs the query. A single result is returned as is, several results as a list.
func (j *jqInvocable) Call(ctx context.Context, args map[string]any) (any, error) {
	input, err := normalizeForJQ(args)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "jq input for %q: %s", j.ref, err.Error()).WithCause(err)
	}

	iter := j.code.RunWithContext(ctx, input)
	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", j.ref, err.Error()).
				WithCause(err)
		}
		results = append(results, val)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// normalizeForJQ round-trips args through JSON; gojq only accepts
// map[string]any, []any, float64/int, string, bool and nil.
func normalizeForJQ(args map[string]any) (any, error) {
	if args == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// --- cel ---

type celCompiler struct {
	env *cel.Env
}

// newCELCompiler builds the CEL environment. Step arguments are exposed
// through a single "args" map, e.g. "cel:size(args.tokens)".
func newCELCompiler() (*celCompiler, error) {
	env, err := cel.NewEnv(
		cel.Variable("args", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &celCompiler{env: env}, nil
}

func (c *celCompiler) compile(ref, code string) (Invocable, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, schema.NewError(schema.ErrCodeCallableNotFound, "empty CEL expression")
	}
	ast, issues := c.env.Compile(code)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCallableNotFound,
			"CEL compile error in %q: %s", code, issues.Err().Error()).
			WithCause(issues.Err())
	}
	prg, err := c.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeCallableNotFound,
			"CEL program error for %q: %s", code, err.Error()).
			WithCause(err)
	}
	return &celInvocable{ref: ref, prg: prg}, nil
}

type celInvocable struct {
	ref string
	prg cel.Program
}

func (c *celInvocable) Name() string          { return c.ref }
func (c *celInvocable) Signature() *Signature { return nil }

func (c *celInvocable) Call(ctx context.Context, args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	out, _, err := c.prg.ContextEval(ctx, map[string]any{"args": args})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", c.ref, err.Error()).
			WithCause(err)
	}
	return celToNative(out)
}

var (
	anySliceType = reflect.TypeOf([]any{})
	anyMapType   = reflect.TypeOf(map[string]any{})
)

// celToNative unwraps CEL lists and maps into plain Go values.
func celToNative(val ref.Val) (any, error) {
	switch val.(type) {
	case traits.Lister:
		return val.ConvertToNative(anySliceType)
	case traits.Mapper:
		return val.ConvertToNative(anyMapType)
	}
	return val.Value(), nil
}
