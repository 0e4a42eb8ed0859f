package validation

import (
	"fmt"
	"maps"
	"slices"

	"github.com/rendis/flowfunc/internal/mapspec"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

// WorkflowValidator orchestrates the checks run on a decoded definition:
// 1. Build (step and pipeline resolver chains)
// 2. Graph (engine wiring, cycles), when an engine is set
// 3. Lint (warnings that do not block a run)
type WorkflowValidator struct {
	builder PlanBuilder
	engine  pipeline.Engine
}

// NewWorkflowValidator creates a WorkflowValidator. engine may be nil to
// skip graph checks.
func NewWorkflowValidator(builder PlanBuilder, engine pipeline.Engine) *WorkflowValidator {
	return &WorkflowValidator{builder: builder, engine: engine}
}

// Validate dry-runs the build and returns every issue found. Build errors
// short-circuit: graph and lint stages are skipped.
func (wv *WorkflowValidator) Validate(wf *schema.WorkflowDefinition) *schema.ValidationResult {
	if wf == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "workflow definition is nil")
		return r
	}

	plan, err := wv.builder.Build(wf)
	if err != nil {
		return FromError(err)
	}

	result := &schema.ValidationResult{}
	var info *pipeline.GraphInfo
	if wv.engine != nil {
		graph, err := wv.engine.Build(plan)
		if err != nil {
			return FromError(err)
		}
		gi := wv.engine.Info(graph)
		info = &gi
	}

	lintZip(wf, result)
	lintArtifacts(wf, plan, result)
	if info != nil {
		lintParams(wf, plan, *info, result)
	}
	return result
}

// DefinitionLoader reads a workflow file.
type DefinitionLoader interface {
	Load(path string) (*schema.WorkflowDefinition, error)
}

// ValidateFile loads path and validates the result. A load failure is
// reported as issues and the returned definition is nil.
func (wv *WorkflowValidator) ValidateFile(loader DefinitionLoader, path string) (*schema.WorkflowDefinition, *schema.ValidationResult) {
	wf, err := loader.Load(path)
	if err != nil {
		return nil, FromError(err)
	}
	return wf, wv.Validate(wf)
}

// ValidateDefinition returns the result as a single error, nil when valid.
func (wv *WorkflowValidator) ValidateDefinition(wf *schema.WorkflowDefinition) error {
	return wv.Validate(wf).ToError()
}

func lintZip(wf *schema.WorkflowDefinition, result *schema.ValidationResult) {
	for i := range wf.Spec.Steps {
		step := &wf.Spec.Steps[i]
		if step.MapMode() != schema.MapModeZip || (step.Options != nil && step.Options.Mapspec != "") {
			continue
		}
		iterables, _ := mapspec.Classify(step.Consumes)
		if len(iterables) > 1 {
			result.AddWarning(fmt.Sprintf("spec/steps/%d", i), WarnZipLength,
				fmt.Sprintf("step %q zips %d sources; they must have equal length at run time", step.Name, len(iterables)))
		}
	}
}

func lintArtifacts(wf *schema.WorkflowDefinition, plan *pipeline.CompiledPlan, result *schema.ValidationResult) {
	outputs := map[string]bool{}
	for _, step := range plan.Steps {
		scope := plan.ScopeFor(step)
		for _, out := range step.OutputNames {
			outputs[out] = true
			outputs[pipeline.Qualify(scope, out)] = true
		}
	}
	for _, name := range wf.ArtifactNames() {
		if !outputs[name] && !outputs[pipeline.Qualify(plan.Options.Scope, name)] {
			result.AddWarning("spec/artifacts/"+name, WarnUnknownArtifact,
				fmt.Sprintf("artifact %q matches no step output and will be skipped", name))
		}
	}
}

func lintParams(wf *schema.WorkflowDefinition, plan *pipeline.CompiledPlan, info pipeline.GraphInfo, result *schema.ValidationResult) {
	inputs := make(map[string]bool, len(info.Inputs))
	for _, in := range info.Inputs {
		inputs[in] = true
	}
	for _, name := range slices.Sorted(maps.Keys(wf.Spec.Params)) {
		if !inputs[name] && !inputs[pipeline.Qualify(plan.Options.Scope, name)] {
			result.AddWarning("spec/params/"+name, WarnUnusedParam,
				fmt.Sprintf("param %q is not consumed by any step", name))
		}
	}
}
