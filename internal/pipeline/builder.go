package pipeline

import (
	"errors"
	"log/slog"
	"os"

	"github.com/rendis/flowfunc/internal/functions"
	"github.com/rendis/flowfunc/internal/mapspec"
	"github.com/rendis/flowfunc/pkg/schema"
)

// Builder compiles workflow definitions into plans. It performs no I/O.
type Builder struct {
	functions     functions.Resolver
	logger        *slog.Logger
	stepChain     []StepResolver
	pipelineChain []PipelineResolver
}

// NewBuilder creates a Builder resolving func references through fns.
func NewBuilder(fns functions.Resolver, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Builder{
		functions:     fns,
		logger:        logger,
		stepChain:     StepResolvers,
		pipelineChain: PipelineResolvers,
	}
}

// Build runs the step chain over every step in declaration order, then the
// pipeline chain once. Any failure aborts the whole build.
func (b *Builder) Build(wf *schema.WorkflowDefinition) (*CompiledPlan, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeBuild, "workflow definition is nil")
	}
	if len(wf.Spec.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeBuild, "workflow has no steps")
	}
	if err := checkStepNames(wf); err != nil {
		return nil, err
	}

	plan := &CompiledPlan{Name: wf.Name()}
	for i := range wf.Spec.Steps {
		step := &wf.Spec.Steps[i]
		resolved, err := ResolveStep(StepContext{Step: step, Workflow: wf, Functions: b.functions}, b.stepChain)
		if err != nil {
			return nil, wrapStepError(step.Name, err)
		}
		b.warnZip(step, resolved)
		b.logger.Debug("step resolved",
			slog.String("step", resolved.StepName),
			slog.String("func", resolved.FuncRef),
			slog.String("mapspec", resolved.Mapspec),
			slog.String("arguments", describeArgs(resolved)),
		)
		plan.Steps = append(plan.Steps, resolved)
	}

	opts, err := ResolvePipeline(wf, b.pipelineChain)
	if err != nil {
		return nil, err
	}
	plan.Options = opts

	if err := checkOutputNames(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// checkStepNames rejects empty and duplicate names before any step is resolved.
func checkStepNames(wf *schema.WorkflowDefinition) error {
	seen := make(map[string]int, len(wf.Spec.Steps))
	for i, step := range wf.Spec.Steps {
		if step.Name == "" {
			return schema.NewErrorf(schema.ErrCodeBuild, "spec.steps[%d]: name is required", i)
		}
		if first, dup := seen[step.Name]; dup {
			return schema.NewErrorf(schema.ErrCodeDuplicateStep,
				"duplicate step name %q (spec.steps[%d] and spec.steps[%d])", step.Name, first, i).
				WithStep(step.Name)
		}
		seen[step.Name] = i
	}
	return nil
}

// checkOutputNames rejects two steps producing the same qualified output.
func checkOutputNames(plan *CompiledPlan) error {
	producer := map[string]string{}
	for _, step := range plan.Steps {
		scope := plan.ScopeFor(step)
		for _, out := range step.OutputNames {
			name := Qualify(scope, out)
			if other, dup := producer[name]; dup {
				return schema.NewErrorf(schema.ErrCodeBuild,
					"output %q is produced by both %q and %q", name, other, step.StepName).
					WithStep(step.StepName)
			}
			producer[name] = step.StepName
		}
	}
	return nil
}

// wrapStepError makes sure the error names the step.
func wrapStepError(step string, err error) error {
	var fe *schema.FlowError
	if errors.As(err, &fe) && fe.StepName == step {
		return err
	}
	return schema.NewError(schema.ErrCodeBuild, "failed to build step").WithStep(step).WithCause(err)
}

func (b *Builder) warnZip(step *schema.StepDefinition, resolved *ResolvedStepOptions) {
	if resolved.MapMode != schema.MapModeZip || step.Options == nil || step.Options.Mapspec != "" {
		return
	}
	iterables, _ := mapspec.Classify(step.Consumes)
	if len(iterables) > 1 {
		b.logger.Warn("zip step iterates several sources; they must have equal length at execution time",
			slog.String("step", step.Name),
			slog.Int("iterables", len(iterables)),
		)
	}
}
