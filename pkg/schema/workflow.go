package schema

import (
	"sort"
)

// DefaultAPIVersion is written by scaffolding and assumed when a file omits apiVersion.
const DefaultAPIVersion = "flowfunc.dev/v1"

// KindPipeline is the only supported definition kind.
const KindPipeline = "Pipeline"

// WorkflowDefinition is the declarative workflow format read from YAML or JSON.
// Immutable once loaded.
type WorkflowDefinition struct {
	APIVersion string       `json:"apiVersion" yaml:"apiVersion"`
	Kind       string       `json:"kind" yaml:"kind"`
	Metadata   Metadata     `json:"metadata" yaml:"metadata"`
	Spec       WorkflowSpec `json:"spec" yaml:"spec"`
}

// Metadata identifies a workflow.
type Metadata struct {
	Name        string            `json:"name" yaml:"name"`
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Labels      map[string]string `json:"labels,omitempty" yaml:"labels,omitempty"`
}

// WorkflowSpec holds the steps and their shared configuration.
type WorkflowSpec struct {
	DefaultModule string               `json:"default_module,omitempty" yaml:"default_module,omitempty"`
	Options       *WorkflowOptions     `json:"options,omitempty" yaml:"options,omitempty"`
	Params        map[string]ParamSpec `json:"params,omitempty" yaml:"params,omitempty"`
	Steps         []StepDefinition     `json:"steps" yaml:"steps"`
	Artifacts     map[string]string    `json:"artifacts,omitempty" yaml:"artifacts,omitempty"`
}

// WorkflowOptions are pipeline-wide engine construction options.
type WorkflowOptions struct {
	Lazy                    *bool          `json:"lazy,omitempty" yaml:"lazy,omitempty"`
	Debug                   *bool          `json:"debug,omitempty" yaml:"debug,omitempty"`
	Profile                 *bool          `json:"profile,omitempty" yaml:"profile,omitempty"`
	CacheType               string         `json:"cache_type,omitempty" yaml:"cache_type,omitempty"`
	CacheKwargs             map[string]any `json:"cache_kwargs,omitempty" yaml:"cache_kwargs,omitempty"`
	ValidateTypeAnnotations *bool          `json:"validate_type_annotations,omitempty" yaml:"validate_type_annotations,omitempty"`
	DefaultResources        *Resources     `json:"default_resources,omitempty" yaml:"default_resources,omitempty"`
	Scope                   *string        `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// Resources describes compute requirements for a step.
type Resources struct {
	CPUs            *int           `json:"cpus,omitempty" yaml:"cpus,omitempty"`
	Memory          string         `json:"memory,omitempty" yaml:"memory,omitempty"`
	AdvancedOptions map[string]any `json:"advanced_options,omitempty" yaml:"advanced_options,omitempty"`
}

// StepDefinition describes a single step in a workflow.
type StepDefinition struct {
	Name        string         `json:"name" yaml:"name"`
	Func        string         `json:"func,omitempty" yaml:"func,omitempty"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Consumes    ArgumentList   `json:"consumes,omitempty" yaml:"consumes,omitempty"`
	Params      map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	Produces    OutputNames    `json:"produces,omitempty" yaml:"produces,omitempty"`
	Resources   *Resources     `json:"resources,omitempty" yaml:"resources,omitempty"`
	Options     *StepOptions   `json:"options,omitempty" yaml:"options,omitempty"`
}

// MapMode selects how a step iterates over its reference arguments.
type MapMode string

const (
	MapModeBroadcast MapMode = "broadcast"
	MapModeZip       MapMode = "zip"
	MapModeAggregate MapMode = "aggregate"
)

// Valid reports whether m is a known mode. The empty mode is valid and means broadcast.
func (m MapMode) Valid() bool {
	switch m {
	case "", MapModeBroadcast, MapModeZip, MapModeAggregate:
		return true
	}
	return false
}

// OrDefault returns m, or broadcast when m is empty.
func (m MapMode) OrDefault() MapMode {
	if m == "" {
		return MapModeBroadcast
	}
	return m
}

// StepOptions is the inline engine-options block of a step.
type StepOptions struct {
	MapMode         MapMode           `json:"map_mode,omitempty" yaml:"map_mode,omitempty"`
	Mapspec         string            `json:"mapspec,omitempty" yaml:"mapspec,omitempty"`
	Scope           *string           `json:"scope,omitempty" yaml:"scope,omitempty"`
	Cache           *bool             `json:"cache,omitempty" yaml:"cache,omitempty"`
	Debug           *bool             `json:"debug,omitempty" yaml:"debug,omitempty"`
	Profile         *bool             `json:"profile,omitempty" yaml:"profile,omitempty"`
	OutputName      OutputNames       `json:"output_name,omitempty" yaml:"output_name,omitempty"`
	Renames         map[string]string `json:"renames,omitempty" yaml:"renames,omitempty"`
	Defaults        map[string]any    `json:"defaults,omitempty" yaml:"defaults,omitempty"`
	AdvancedOptions map[string]any    `json:"advanced_options,omitempty" yaml:"advanced_options,omitempty"`
}

// ParamSpec is a workflow-level parameter default.
type ParamSpec struct {
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Name returns the workflow's metadata name.
func (d *WorkflowDefinition) Name() string {
	return d.Metadata.Name
}

// MapMode returns the step's map mode, defaulting to broadcast.
func (s *StepDefinition) MapMode() MapMode {
	if s.Options == nil {
		return MapModeBroadcast
	}
	return s.Options.MapMode.OrDefault()
}

// DeclaredOutputs returns the declared outputs of the step, falling back to the step name.
func (s *StepDefinition) DeclaredOutputs() []string {
	if s.Options != nil && len(s.Options.OutputName) > 0 {
		return s.Options.OutputName
	}
	if len(s.Produces) > 0 {
		return s.Produces
	}
	if s.Name != "" {
		return []string{s.Name}
	}
	return nil
}

// StepByName returns the step with the given name.
func (d *WorkflowDefinition) StepByName(name string) (*StepDefinition, bool) {
	for i := range d.Spec.Steps {
		if d.Spec.Steps[i].Name == name {
			return &d.Spec.Steps[i], true
		}
	}
	return nil, false
}

// ParamDefaults flattens spec.params to name -> value.
func (d *WorkflowDefinition) ParamDefaults() map[string]any {
	out := make(map[string]any, len(d.Spec.Params))
	for name, p := range d.Spec.Params {
		out[name] = p.Value
	}
	return out
}

// ArtifactNames returns the declared artifact names in sorted order.
func (d *WorkflowDefinition) ArtifactNames() []string {
	names := make([]string, 0, len(d.Spec.Artifacts))
	for name := range d.Spec.Artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Scope returns the workflow-wide scope, or "" when unset.
func (d *WorkflowDefinition) Scope() string {
	if d.Spec.Options == nil || d.Spec.Options.Scope == nil {
		return ""
	}
	return *d.Spec.Options.Scope
}
