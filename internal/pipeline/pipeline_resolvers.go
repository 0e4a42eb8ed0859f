package pipeline

import (
	"maps"
	"strings"

	"github.com/rendis/flowfunc/pkg/schema"
)

// PipelineResolver is one stage of the pipeline chain.
type PipelineResolver func(opts PipelineOptions, wf *schema.WorkflowDefinition) (PipelineOptions, error)

// PipelineResolvers is the fixed stage order of the pipeline chain.
var PipelineResolvers = []PipelineResolver{
	PassthroughOptions,
	ResolveDefaultResources,
	ResolvePipelineScope,
}

// ResolvePipeline folds the chain over the workflow.
func ResolvePipeline(wf *schema.WorkflowDefinition, chain []PipelineResolver) (PipelineOptions, error) {
	var opts PipelineOptions
	for _, stage := range chain {
		next, err := stage(opts, wf)
		if err != nil {
			return PipelineOptions{}, err
		}
		opts = next
	}
	return opts, nil
}

// PassthroughOptions copies the engine flags that are set on the workflow.
func PassthroughOptions(opts PipelineOptions, wf *schema.WorkflowDefinition) (PipelineOptions, error) {
	o := wf.Spec.Options
	if o == nil {
		return opts, nil
	}
	opts.Lazy = o.Lazy
	opts.Debug = o.Debug
	opts.Profile = o.Profile
	opts.CacheType = o.CacheType
	opts.CacheKwargs = maps.Clone(o.CacheKwargs)
	opts.ValidateTypeAnnotations = o.ValidateTypeAnnotations
	return opts, nil
}

// ResolveDefaultResources flattens the workflow-wide default resources.
func ResolveDefaultResources(opts PipelineOptions, wf *schema.WorkflowDefinition) (PipelineOptions, error) {
	if wf.Spec.Options == nil {
		return opts, nil
	}
	res, err := flattenResources(wf.Spec.Options.DefaultResources)
	if err != nil {
		return opts, err
	}
	opts.DefaultResources = res
	return opts, nil
}

// ResolvePipelineScope applies the workflow-wide scope.
func ResolvePipelineScope(opts PipelineOptions, wf *schema.WorkflowDefinition) (PipelineOptions, error) {
	scope := strings.TrimSpace(wf.Scope())
	if strings.Contains(scope, ".") {
		return opts, schema.NewErrorf(schema.ErrCodeBuild, "options.scope: %q must not contain '.'", scope)
	}
	opts.Scope = scope
	return opts, nil
}
