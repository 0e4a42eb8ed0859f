// Package pipeline compiles a workflow definition into the plan handed to an
// execution engine.
package pipeline

import (
	"context"
	"maps"
	"slices"

	"github.com/rendis/flowfunc/internal/functions"
	"github.com/rendis/flowfunc/pkg/schema"
)

// ResolvedStepOptions is everything an engine needs to construct one step.
// It is built by the step resolver chain and not modified afterwards.
type ResolvedStepOptions struct {
	StepName        string              `json:"step"`
	FuncRef         string              `json:"func"`
	Func            functions.Invocable `json:"-"`
	OutputNames     []string            `json:"output_name"`
	Arguments       []string            `json:"arguments"`
	Renames         map[string]string   `json:"renames,omitempty"`
	Defaults        map[string]any      `json:"defaults,omitempty"`
	MapMode         schema.MapMode      `json:"map_mode"`
	Mapspec         string              `json:"mapspec,omitempty"`
	Resources       map[string]any      `json:"resources,omitempty"`
	Scope           string              `json:"scope,omitempty"`
	Cache           *bool               `json:"cache,omitempty"`
	Debug           *bool               `json:"debug,omitempty"`
	Profile         *bool               `json:"profile,omitempty"`
	AdvancedOptions map[string]any      `json:"advanced_options,omitempty"`
}

// SourceFor returns the name argument arg is read from: its rename, or arg itself.
func (o *ResolvedStepOptions) SourceFor(arg string) string {
	if src, ok := o.Renames[arg]; ok {
		return src
	}
	return arg
}

// wires reports whether name is an argument or the source of one.
func (o *ResolvedStepOptions) wires(name string) bool {
	for _, arg := range o.Arguments {
		if arg == name || o.SourceFor(arg) == name {
			return true
		}
	}
	return false
}

// clone returns a copy whose maps and slices may be modified freely.
func (o ResolvedStepOptions) clone() ResolvedStepOptions {
	o.OutputNames = slices.Clone(o.OutputNames)
	o.Arguments = slices.Clone(o.Arguments)
	o.Renames = maps.Clone(o.Renames)
	o.Defaults = maps.Clone(o.Defaults)
	o.Resources = maps.Clone(o.Resources)
	o.AdvancedOptions = maps.Clone(o.AdvancedOptions)
	return o
}

// PipelineOptions are the pipeline-wide engine construction options.
type PipelineOptions struct {
	Lazy                    *bool          `json:"lazy,omitempty"`
	Debug                   *bool          `json:"debug,omitempty"`
	Profile                 *bool          `json:"profile,omitempty"`
	CacheType               string         `json:"cache_type,omitempty"`
	CacheKwargs             map[string]any `json:"cache_kwargs,omitempty"`
	ValidateTypeAnnotations *bool          `json:"validate_type_annotations,omitempty"`
	DefaultResources        map[string]any `json:"default_resources,omitempty"`
	Scope                   string         `json:"scope,omitempty"`
}

// CompiledPlan is the ordered list of resolved steps plus pipeline options.
type CompiledPlan struct {
	Name    string                 `json:"name"`
	Steps   []*ResolvedStepOptions `json:"steps"`
	Options PipelineOptions        `json:"options"`
}

// Step returns the resolved step with the given name.
func (p *CompiledPlan) Step(name string) (*ResolvedStepOptions, bool) {
	for _, s := range p.Steps {
		if s.StepName == name {
			return s, true
		}
	}
	return nil, false
}

// ScopeFor returns the effective scope of a step: its own, else the pipeline's.
func (p *CompiledPlan) ScopeFor(step *ResolvedStepOptions) string {
	if step.Scope != "" {
		return step.Scope
	}
	return p.Options.Scope
}

// Qualify prefixes name with scope, when one is set.
func Qualify(scope, name string) string {
	if scope == "" {
		return name
	}
	return scope + "." + name
}

// --- Engine contract ---

// Graph is an engine-specific executable graph built from a CompiledPlan.
type Graph any

// GraphInfo describes the inputs an executable graph expects.
type GraphInfo struct {
	Inputs         []string `json:"inputs"`
	RequiredInputs []string `json:"required_inputs"`
}

// Description is the JSON view of a plan together with its graph inputs.
type Description struct {
	*CompiledPlan
	GraphInfo
}

// Result is the value produced for one output.
type Result struct {
	Output any `json:"output"`
}

// ResultMap maps (scope-qualified) output names to results.
type ResultMap map[string]Result

// Engine builds and runs compiled plans.
type Engine interface {
	Build(plan *CompiledPlan) (Graph, error)
	Info(g Graph) GraphInfo
	Execute(ctx context.Context, g Graph, params map[string]any) (ResultMap, error)
}
