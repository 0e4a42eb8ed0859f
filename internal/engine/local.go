// Package engine runs compiled plans in process.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/rendis/flowfunc/internal/logging"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/internal/values"
	"github.com/rendis/flowfunc/pkg/schema"
)

// LocalOptions configures the in-process engine.
type LocalOptions struct {
	// Workers bounds the concurrent iterations of one mapped step.
	// Zero means runtime.NumCPU().
	Workers int
	Logger  *slog.Logger
}

// Local executes a DAG step by step in topological order. Mapped steps fan
// their iterations out on a bounded worker pool.
type Local struct {
	workers int
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]any
}

var _ pipeline.Engine = (*Local)(nil)

// NewLocal creates a Local engine.
func NewLocal(opts LocalOptions) *Local {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Local{
		workers: opts.Workers,
		logger:  opts.Logger,
		cache:   make(map[string]any),
	}
}

// Build wires the plan into a DAG.
func (l *Local) Build(plan *pipeline.CompiledPlan) (pipeline.Graph, error) {
	return ParseDAG(plan)
}

// Info reports the inputs of a graph built by this engine.
func (l *Local) Info(g pipeline.Graph) pipeline.GraphInfo {
	dag, ok := g.(*DAG)
	if !ok || dag == nil {
		return pipeline.GraphInfo{}
	}
	return pipeline.GraphInfo{
		Inputs:         slices.Clone(dag.Inputs),
		RequiredInputs: slices.Clone(dag.RequiredInputs),
	}
}

// Execute runs every step and returns the value of every output, keyed by
// qualified output name. params holds the graph inputs.
func (l *Local) Execute(ctx context.Context, g pipeline.Graph, params map[string]any) (pipeline.ResultMap, error) {
	dag, ok := g.(*DAG)
	if !ok || dag == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "graph of type %T was not built by the local engine", g)
	}

	produced := make(map[string]any, len(dag.Producers))
	results := make(pipeline.ResultMap, len(dag.Producers))

	for _, id := range dag.Sorted {
		if err := ctx.Err(); err != nil {
			return nil, schema.NewError(schema.ErrCodeExecution, "execution cancelled").WithCause(err)
		}
		node := dag.Nodes[id]

		args, err := arguments(node, produced, params)
		if err != nil {
			return nil, err
		}

		run := &stepRun{
			engine:  l,
			node:    node,
			debug:   flag(node.Step.Debug, dag.Plan.Options.Debug),
			profile: flag(node.Step.Profile, dag.Plan.Options.Profile),
		}
		outs, err := run.execute(logging.WithStep(ctx, id), args)
		if err != nil {
			return nil, err
		}
		for i, q := range node.Outputs {
			produced[q] = outs[i]
			results[q] = pipeline.Result{Output: outs[i]}
		}
	}
	return results, nil
}

// arguments collects the inputs of a step: produced values first, then
// graph parameters, then the step's defaults.
func arguments(node *Node, produced, params map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(node.Step.Arguments))
	var missing []string
	for _, arg := range node.Step.Arguments {
		q := node.Sources[arg]
		if v, ok := produced[q]; ok {
			args[arg] = v
			continue
		}
		if v, ok := params[q]; ok {
			args[arg] = v
			continue
		}
		if v, ok := node.Step.Defaults[arg]; ok {
			args[arg] = v
			continue
		}
		missing = append(missing, q)
	}
	if len(missing) > 0 {
		return nil, schema.NewErrorf(schema.ErrCodeMissingParams, "no value for inputs: %v", missing).
			WithStep(node.Step.StepName).
			WithDetails(map[string]any{"missing": missing})
	}
	return args, nil
}

func flag(step, pipelineWide *bool) bool {
	if step != nil {
		return *step
	}
	return pipelineWide != nil && *pipelineWide
}

// stepRun executes one node of the graph.
type stepRun struct {
	engine  *Local
	node    *Node
	debug   bool
	profile bool
}

func (r *stepRun) execute(ctx context.Context, args map[string]any) ([]any, error) {
	step := r.node.Step
	logger := r.engine.logger
	logger.DebugContext(ctx, "running step", slog.String("func", step.FuncRef), slog.String("mapspec", step.Mapspec))

	start := time.Now()
	var (
		outs  []any
		calls int
		err   error
	)
	if r.node.Spec == nil || len(r.node.Spec.OutputIndices()) == 0 {
		var out any
		out, err = r.call(ctx, args, nil)
		if err == nil {
			outs, err = splitOutputs(step, out)
		}
		calls = 1
	} else {
		outs, calls, err = r.mapped(ctx, args)
	}
	if err != nil {
		return nil, err
	}

	if r.profile {
		logger.InfoContext(ctx, "step profile",
			slog.String("func", step.FuncRef),
			slog.Int("calls", calls),
			slog.Duration("duration", time.Since(start)))
	}
	return outs, nil
}

// call invokes the step function once, consulting the memo when the step is cached.
func (r *stepRun) call(ctx context.Context, args map[string]any, index []int) (any, error) {
	step := r.node.Step
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if step.Func == nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "no callable bound for %s", step.FuncRef).WithStep(step.StepName)
	}

	var key string
	if step.Cache != nil && *step.Cache {
		key = cacheKey(step.FuncRef, args)
		if out, ok := r.engine.cached(key); ok {
			return out, nil
		}
	}

	out, err := step.Func.Call(ctx, args)
	if err != nil {
		details := map[string]any{"func": step.FuncRef}
		if index != nil {
			details["index"] = index
		}
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "%s failed", step.FuncRef).
			WithStep(step.StepName).
			WithDetails(details).
			WithCause(err)
	}

	if r.debug {
		r.engine.logger.InfoContext(ctx, "step call",
			slog.Any("index", index),
			slog.Any("args", args),
			slog.Any("result", out))
	}
	if key != "" {
		r.engine.store(key, out)
	}
	return out, nil
}

// mapped evaluates a step whose mapspec has indexed outputs. Each
// combination of output indices is one call; results are reshaped into
// nested lists following the output indices.
func (r *stepRun) mapped(ctx context.Context, args map[string]any) ([]any, int, error) {
	step := r.node.Step
	syms := r.node.Spec.OutputIndices()

	dims, err := r.dimensions(args, syms)
	if err != nil {
		return nil, 0, err
	}
	total := 1
	for _, d := range dims {
		total *= d
	}

	flat := make([][]any, len(step.OutputNames))
	for i := range flat {
		flat[i] = make([]any, total)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	pool := NewWorkerPool(r.engine.workers)
	defer pool.Shutdown()

	var (
		submitErr error
		failOnce  sync.Once
		failure   error
	)
	for n := 0; n < total; n++ {
		pos := unravel(n, dims)
		callArgs, err := r.iterationArgs(args, syms, pos)
		if err != nil {
			submitErr = err
			break
		}
		err = pool.Submit(ctx, func(ctx context.Context) error {
			out, err := r.call(ctx, callArgs, pos)
			if err == nil {
				var parts []any
				if parts, err = splitOutputs(step, out); err == nil {
					for o := range parts {
						flat[o][n] = parts[o]
					}
					return nil
				}
			}
			failOnce.Do(func() { failure = err })
			cancel()
			return err
		})
		if err != nil {
			submitErr = err
			break
		}
	}
	waitErr := pool.Wait()
	m := pool.Metrics()
	r.engine.logger.DebugContext(ctx, "mapped iterations finished",
		slog.Int("total", total),
		slog.Int64("completed", m.Completed),
		slog.Int64("failed", m.Failed))
	if waitErr != nil {
		if failure != nil {
			return nil, total, failure
		}
		return nil, total, waitErr
	}
	if submitErr != nil {
		return nil, total, submitErr
	}

	outs := make([]any, len(flat))
	for i, f := range flat {
		outs[i] = nest(f, dims)
	}
	return outs, total, nil
}

// dimensions returns the length of each output index. Inputs sharing an
// index must agree on its length, and every output index must be carried
// by at least one argument.
func (r *stepRun) dimensions(args map[string]any, syms []string) ([]int, error) {
	step := r.node.Step
	sizes := make(map[string]int, len(syms))
	owner := make(map[string]string, len(syms))
	carried := make(map[string]bool, len(syms))

	for _, arg := range step.Arguments {
		idx := leading(r.node.Indices[arg], syms)
		if len(idx) == 0 {
			continue
		}
		for _, sym := range idx {
			carried[sym] = true
		}
		shape, err := shapeOf(args[arg], len(idx))
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeExecution, "argument %q: %v", arg, err).WithStep(step.StepName)
		}
		for d, sym := range idx {
			if shape[d] < 0 {
				continue
			}
			if prev, ok := sizes[sym]; ok && prev != shape[d] {
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"arguments %q and %q share index %q but have lengths %d and %d",
					owner[sym], arg, sym, prev, shape[d]).WithStep(step.StepName)
			}
			sizes[sym] = shape[d]
			owner[sym] = arg
		}
	}

	dims := make([]int, len(syms))
	for i, sym := range syms {
		if !carried[sym] {
			return nil, schema.NewErrorf(schema.ErrCodeMapspec,
				"output index %q is not carried by any argument (mapspec %q)", sym, step.Mapspec).WithStep(step.StepName)
		}
		dims[i] = sizes[sym]
	}
	return dims, nil
}

// iterationArgs selects the elements of the indexed inputs at pos. Inputs
// indexed by a symbol the output does not carry are passed whole from that
// depth on.
func (r *stepRun) iterationArgs(args map[string]any, syms []string, pos []int) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for name, v := range args {
		for _, sym := range leading(r.node.Indices[name], syms) {
			list, err := values.ToSlice(v)
			if err != nil {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "argument %q: %v", name, err).WithStep(r.node.Step.StepName)
			}
			p := pos[slices.Index(syms, sym)]
			if p >= len(list) {
				return nil, schema.NewErrorf(schema.ErrCodeExecution,
					"argument %q is ragged: index %d out of range for length %d", name, p, len(list)).WithStep(r.node.Step.StepName)
			}
			v = list[p]
		}
		out[name] = v
	}
	return out, nil
}

// leading returns the prefix of idx whose symbols all appear in syms.
func leading(idx, syms []string) []string {
	for i, sym := range idx {
		if !slices.Contains(syms, sym) {
			return idx[:i]
		}
	}
	return idx
}

// shapeOf measures the first depth dimensions of a nested list. Dimensions
// below an empty list are reported as -1.
func shapeOf(v any, depth int) ([]int, error) {
	shape := make([]int, depth)
	cur := v
	for d := 0; d < depth; d++ {
		list, err := values.ToSlice(cur)
		if err != nil {
			return nil, err
		}
		shape[d] = len(list)
		if len(list) == 0 {
			for rest := d + 1; rest < depth; rest++ {
				shape[rest] = -1
			}
			break
		}
		cur = list[0]
	}
	return shape, nil
}

// unravel converts a row-major flat index into per-dimension positions.
func unravel(n int, dims []int) []int {
	pos := make([]int, len(dims))
	for i := len(dims) - 1; i >= 0; i-- {
		if dims[i] == 0 {
			continue
		}
		pos[i] = n % dims[i]
		n /= dims[i]
	}
	return pos
}

// nest reshapes a row-major flat slice into nested lists of the given dims.
func nest(flat []any, dims []int) any {
	if len(dims) <= 1 {
		out := make([]any, len(flat))
		copy(out, flat)
		return out
	}
	stride := 1
	for _, d := range dims[1:] {
		stride *= d
	}
	out := make([]any, dims[0])
	for i := range out {
		out[i] = nest(flat[i*stride:(i+1)*stride], dims[1:])
	}
	return out
}

// splitOutputs maps one call result onto the step outputs. A multi-output
// step returns a map keyed by output name or a list in output order.
func splitOutputs(step *pipeline.ResolvedStepOptions, out any) ([]any, error) {
	names := step.OutputNames
	if len(names) == 1 {
		return []any{out}, nil
	}
	if m, ok := out.(map[string]any); ok {
		parts := make([]any, len(names))
		for i, name := range names {
			v, ok := m[name]
			if !ok {
				return nil, schema.NewErrorf(schema.ErrCodeExecution, "result has no value for output %q", name).WithStep(step.StepName)
			}
			parts[i] = v
		}
		return parts, nil
	}
	if values.IsList(out) {
		list, err := values.ToSlice(out)
		if err == nil && len(list) == len(names) {
			return list, nil
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeExecution,
		"result of type %T cannot be split into outputs %v", out, names).WithStep(step.StepName)
}

func cacheKey(funcRef string, args map[string]any) string {
	data, err := json.Marshal(values.Plain(args))
	if err != nil {
		return ""
	}
	return funcRef + "\x00" + string(data)
}

func (l *Local) cached(key string) (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	v, ok := l.cache[key]
	return v, ok
}

func (l *Local) store(key string, v any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[key] = v
}
