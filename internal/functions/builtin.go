package functions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/flowfunc/internal/values"
)

// BuiltinModule is the module name of the functions returned by Builtins.
const BuiltinModule = "builtins"

// Builtins returns the standard step functions, named "builtins.<name>".
func Builtins() []Invocable {
	b := func(name string, params []Param, fn Func) Invocable {
		return NewFunc(BuiltinModule+"."+name, params, fn)
	}
	return []Invocable{
		b("identity", []Param{Req("value")}, identity),
		b("length", []Param{Req("values")}, length),
		b("count", []Param{Req("values")}, length),
		b("sum", []Param{Req("values")}, sum),
		b("mean", []Param{Req("values")}, mean),
		b("join", []Param{Req("values"), Opt("sep")}, join),
		b("concat", []Param{Req("values")}, concat),
		b("split", []Param{Req("text"), Opt("sep")}, split),
		b("tokenize", []Param{Req("text")}, tokenize),
		b("upper", []Param{Req("text")}, upper),
		b("lower", []Param{Req("text")}, lower),
		b("add", []Param{Req("x"), Req("y")}, add),
		b("multiply", []Param{Req("x"), Opt("factor")}, multiply),
	}
}

func identity(_ context.Context, args map[string]any) (any, error) {
	return args["value"], nil
}

func length(_ context.Context, args map[string]any) (any, error) {
	if s, ok := args["values"].(string); ok {
		return len([]rune(s)), nil
	}
	list, err := values.ToSlice(args["values"])
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	return len(list), nil
}

func sum(_ context.Context, args map[string]any) (any, error) {
	list, err := values.ToSlice(args["values"])
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	total, integral, err := addAll(list)
	if err != nil {
		return nil, err
	}
	if integral {
		return int64(total), nil
	}
	return total, nil
}

func mean(_ context.Context, args map[string]any) (any, error) {
	list, err := values.ToSlice(args["values"])
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("mean of an empty list")
	}
	total, _, err := addAll(list)
	if err != nil {
		return nil, err
	}
	return total / float64(len(list)), nil
}

func addAll(list []any) (float64, bool, error) {
	total, integral := 0.0, true
	for i, v := range list {
		f, ok := values.ToFloat(v)
		if !ok {
			return 0, false, fmt.Errorf("values[%d]: %T is not a number", i, v)
		}
		integral = integral && values.IsInteger(v)
		total += f
	}
	return total, integral, nil
}

func join(_ context.Context, args map[string]any) (any, error) {
	list, err := values.ToSlice(args["values"])
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = fmt.Sprint(v)
	}
	sep, _ := args["sep"].(string)
	return strings.Join(parts, sep), nil
}

// concat flattens a list of lists one level. Non-list items are kept as is.
func concat(_ context.Context, args map[string]any) (any, error) {
	list, err := values.ToSlice(args["values"])
	if err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	out := make([]any, 0, len(list))
	for _, item := range list {
		inner, err := values.ToSlice(item)
		if err != nil {
			out = append(out, item)
			continue
		}
		out = append(out, inner...)
	}
	return out, nil
}

func split(_ context.Context, args map[string]any) (any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	sep, _ := args["sep"].(string)
	var parts []string
	if sep == "" {
		parts = strings.Fields(text)
	} else {
		parts = strings.Split(text, sep)
	}
	return toAnySlice(parts), nil
}

func tokenize(_ context.Context, args map[string]any) (any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	return toAnySlice(strings.Fields(strings.ToLower(text))), nil
}

func upper(_ context.Context, args map[string]any) (any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	return strings.ToUpper(text), nil
}

func lower(_ context.Context, args map[string]any) (any, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return nil, err
	}
	return strings.ToLower(text), nil
}

func add(_ context.Context, args map[string]any) (any, error) {
	return arithmetic(args["x"], args["y"], func(a, b float64) float64 { return a + b })
}

func multiply(_ context.Context, args map[string]any) (any, error) {
	factor, ok := args["factor"]
	if !ok || factor == nil {
		factor = 1
	}
	return arithmetic(args["x"], factor, func(a, b float64) float64 { return a * b })
}

func arithmetic(x, y any, op func(a, b float64) float64) (any, error) {
	a, ok := values.ToFloat(x)
	if !ok {
		return nil, fmt.Errorf("x: %T is not a number", x)
	}
	b, ok := values.ToFloat(y)
	if !ok {
		return nil, fmt.Errorf("%T is not a number", y)
	}
	r := op(a, b)
	if values.IsInteger(x) && values.IsInteger(y) {
		return int64(r), nil
	}
	return r, nil
}

func stringArg(args map[string]any, name string) (string, error) {
	s, ok := args[name].(string)
	if !ok {
		return "", fmt.Errorf("%s: expected a string, got %T", name, args[name])
	}
	return s, nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
