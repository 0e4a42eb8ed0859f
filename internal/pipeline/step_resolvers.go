package pipeline

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/rendis/flowfunc/internal/functions"
	"github.com/rendis/flowfunc/internal/mapspec"
	"github.com/rendis/flowfunc/pkg/schema"
)

// StepContext is the read-only input shared by every step resolver.
type StepContext struct {
	Step      *schema.StepDefinition
	Workflow  *schema.WorkflowDefinition
	Functions functions.Resolver
}

// StepResolver is one stage of the step chain. It returns the updated
// options or an error naming the step and the field at fault.
type StepResolver func(opts ResolvedStepOptions, sc StepContext) (ResolvedStepOptions, error)

// StepResolvers is the fixed stage order; each stage depends on the ones before it.
var StepResolvers = []StepResolver{
	SeedInlineOptions,
	ResolveOutputName,
	ResolveFunc,
	ClassifyArguments,
	SynthesizeMapspec,
	MergeResources,
	ResolveScope,
}

// ResolveStep folds the chain over a single step.
func ResolveStep(sc StepContext, chain []StepResolver) (*ResolvedStepOptions, error) {
	opts := ResolvedStepOptions{StepName: sc.Step.Name}
	for _, stage := range chain {
		next, err := stage(opts.clone(), sc)
		if err != nil {
			return nil, err
		}
		opts = next
	}
	return &opts, nil
}

func stepError(sc StepContext, code, format string, args ...any) *schema.FlowError {
	return schema.NewErrorf(code, format, args...).WithStep(sc.Step.Name)
}

// SeedInlineOptions copies the step's inline options block.
func SeedInlineOptions(opts ResolvedStepOptions, sc StepContext) (ResolvedStepOptions, error) {
	opts.MapMode = schema.MapModeBroadcast
	o := sc.Step.Options
	if o == nil {
		return opts, nil
	}
	if !o.MapMode.Valid() {
		return opts, stepError(sc, schema.ErrCodeMapspec,
			"options.map_mode: unknown mode %q (expected broadcast, zip or aggregate)", o.MapMode)
	}
	opts.MapMode = o.MapMode.OrDefault()
	opts.Mapspec = strings.TrimSpace(o.Mapspec)
	opts.Renames = maps.Clone(o.Renames)
	opts.Defaults = maps.Clone(o.Defaults)
	opts.Cache = o.Cache
	opts.Debug = o.Debug
	opts.Profile = o.Profile
	opts.AdvancedOptions = maps.Clone(o.AdvancedOptions)
	return opts, nil
}

// ResolveOutputName uses the declared outputs, falling back to the step name.
func ResolveOutputName(opts ResolvedStepOptions, sc StepContext) (ResolvedStepOptions, error) {
	outputs := sc.Step.DeclaredOutputs()
	if len(outputs) == 0 {
		return opts, stepError(sc, schema.ErrCodeBuild, "output_name: no output declared and the step has no name")
	}
	seen := make(map[string]bool, len(outputs))
	for _, out := range outputs {
		if strings.TrimSpace(out) == "" {
			return opts, stepError(sc, schema.ErrCodeBuild, "output_name: empty output name")
		}
		if seen[out] {
			return opts, stepError(sc, schema.ErrCodeBuild, "output_name: %q declared twice", out)
		}
		seen[out] = true
	}
	opts.OutputNames = slices.Clone(outputs)
	return opts, nil
}

// ResolveFunc resolves the callable from func, or from default_module and the step name.
func ResolveFunc(opts ResolvedStepOptions, sc StepContext) (ResolvedStepOptions, error) {
	ref := strings.TrimSpace(sc.Step.Func)
	if ref == "" {
		module := sc.Workflow.Spec.DefaultModule
		switch {
		case module != "" && sc.Step.Name != "":
			ref = module + "." + sc.Step.Name
		case module == "" && sc.Step.Name == "":
			return opts, stepError(sc, schema.ErrCodeCallableNotFound,
				"func: no 'default_module' is specified in the workflow and 'name' is missing for the step")
		case module == "":
			return opts, stepError(sc, schema.ErrCodeCallableNotFound,
				"func: not set and no 'default_module' is specified in the workflow")
		default:
			return opts, stepError(sc, schema.ErrCodeCallableNotFound,
				"func: not set and 'name' is missing for the step")
		}
	}
	if sc.Functions == nil {
		return opts, stepError(sc, schema.ErrCodeCallableNotFound, "func: no function resolver configured for %q", ref)
	}
	inv, err := sc.Functions.Resolve(ref)
	if err != nil {
		return opts, stepError(sc, schema.ErrCodeCallableNotFound, "func: cannot resolve %q", ref).WithCause(err)
	}
	opts.FuncRef = ref
	opts.Func = inv
	return opts, nil
}

// ClassifyArguments turns consumes and params into renames and defaults.
// Values already seeded from the options block are kept.
func ClassifyArguments(opts ResolvedStepOptions, sc StepContext) (ResolvedStepOptions, error) {
	if opts.Renames == nil {
		opts.Renames = map[string]string{}
	}
	if opts.Defaults == nil {
		opts.Defaults = map[string]any{}
	}

	var args []string
	for _, arg := range sc.Step.Consumes {
		if _, dup := sc.Step.Params[arg.Name]; dup {
			return opts, stepError(sc, schema.ErrCodeInvalidArgument,
				"argument %q is declared in both consumes and params", arg.Name)
		}
		if err := checkProducer(sc, arg); err != nil {
			return opts, err
		}
		args = append(args, arg.Name)

		if !arg.Source.IsReference() {
			if _, seeded := opts.Defaults[arg.Name]; !seeded {
				opts.Defaults[arg.Name] = arg.Source.Value
			}
			continue
		}
		if _, seeded := opts.Renames[arg.Name]; seeded {
			continue
		}
		if arg.Source.Name != arg.Name {
			opts.Renames[arg.Name] = arg.Source.Name
		}
	}

	for _, name := range sortedKeys(sc.Step.Params) {
		args = append(args, name)
		if _, seeded := opts.Defaults[name]; !seeded {
			opts.Defaults[name] = sc.Step.Params[name]
		}
	}

	for _, name := range sortedKeys(opts.Renames) {
		if !slices.Contains(args, name) {
			args = append(args, name)
		}
	}
	for _, name := range sortedKeys(opts.Defaults) {
		if !slices.Contains(args, name) {
			args = append(args, name)
		}
	}

	if opts.Func != nil {
		if sig := opts.Func.Signature(); sig != nil {
			for _, name := range args {
				if !sig.Accepts(name) {
					return opts, stepError(sc, schema.ErrCodeInvalidArgument,
						"unknown argument %q for %s", name, opts.FuncRef)
				}
			}
			var missing []string
			for _, name := range sig.Required() {
				if !slices.Contains(args, name) {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				return opts, stepError(sc, schema.ErrCodeInvalidArgument,
					"missing required arguments for %s: %s", opts.FuncRef, strings.Join(missing, ", ")).
					WithDetails(map[string]any{"missing": missing})
			}
		}
	}

	opts.Arguments = args
	if len(opts.Renames) == 0 {
		opts.Renames = nil
	}
	if len(opts.Defaults) == 0 {
		opts.Defaults = nil
	}
	return opts, nil
}

func checkProducer(sc StepContext, arg schema.Argument) error {
	if arg.Source.Kind != schema.SourceProducer {
		return nil
	}
	if arg.Source.Step == sc.Step.Name {
		return stepError(sc, schema.ErrCodeInvalidArgument,
			"consumes.%s: step cannot consume its own output", arg.Name)
	}
	producer, ok := sc.Workflow.StepByName(arg.Source.Step)
	if !ok {
		return stepError(sc, schema.ErrCodeInvalidArgument,
			"consumes.%s: references unknown step %q", arg.Name, arg.Source.Step)
	}
	if !slices.Contains(producer.DeclaredOutputs(), arg.Source.Name) {
		return stepError(sc, schema.ErrCodeInvalidArgument,
			"consumes.%s: step %q does not produce %q", arg.Name, arg.Source.Step, arg.Source.Name)
	}
	return nil
}

// SynthesizeMapspec fills in the mapspec unless one was supplied. Every
// mapspec input must name an argument or the source an argument is read from.
func SynthesizeMapspec(opts ResolvedStepOptions, sc StepContext) (ResolvedStepOptions, error) {
	if opts.Mapspec == "" {
		spec, err := mapspec.Synthesize(mapspec.Request{
			Step:      sc.Step.Name,
			Arguments: wiredArguments(opts, sc.Step.Consumes),
			Outputs:   opts.OutputNames,
			Mode:      opts.MapMode,
		})
		if err != nil {
			return opts, err
		}
		opts.Mapspec = spec
	}
	if opts.Mapspec == "" {
		return opts, nil
	}

	parsed, err := mapspec.Parse(opts.Mapspec)
	if err != nil {
		return opts, stepError(sc, schema.ErrCodeMapspec, "options.mapspec: %s", err.Error())
	}
	for _, op := range parsed.Inputs {
		if !opts.wires(op.Name) {
			return opts, stepError(sc, schema.ErrCodeMapspec,
				"options.mapspec: input %q is neither an argument of the step nor its source (arguments: %s)",
				op.Name, strings.Join(opts.Arguments, ", "))
		}
	}
	return opts, nil
}

// wiredArguments returns consumes with each reference renamed to the
// source the argument is actually read from.
func wiredArguments(opts ResolvedStepOptions, consumes schema.ArgumentList) schema.ArgumentList {
	wired := make(schema.ArgumentList, len(consumes))
	for i, arg := range consumes {
		if arg.Source.IsReference() {
			arg.Source.Name = opts.SourceFor(arg.Name)
		}
		wired[i] = arg
	}
	return wired
}

// MergeResources overlays step resources on the workflow defaults.
func MergeResources(opts ResolvedStepOptions, sc StepContext) (ResolvedStepOptions, error) {
	var defaults *schema.Resources
	if o := sc.Workflow.Spec.Options; o != nil {
		defaults = o.DefaultResources
	}
	res, err := flattenResources(mergeResources(defaults, sc.Step.Resources))
	if err != nil {
		return opts, err.WithStep(sc.Step.Name)
	}
	opts.Resources = res
	return opts, nil
}

// ResolveScope applies the step's own scope.
func ResolveScope(opts ResolvedStepOptions, sc StepContext) (ResolvedStepOptions, error) {
	if o := sc.Step.Options; o != nil && o.Scope != nil {
		scope := strings.TrimSpace(*o.Scope)
		if strings.Contains(scope, ".") {
			return opts, stepError(sc, schema.ErrCodeBuild, "options.scope: %q must not contain '.'", scope)
		}
		opts.Scope = scope
	}
	return opts, nil
}

// --- resources ---

const (
	resourceCPUs   = "cpus"
	resourceMemory = "memory"
)

func mergeResources(base, override *schema.Resources) *schema.Resources {
	if base == nil && override == nil {
		return nil
	}
	merged := &schema.Resources{}
	if base != nil {
		*merged = *base
	}
	if override == nil {
		return merged
	}
	if override.CPUs != nil {
		merged.CPUs = override.CPUs
	}
	if override.Memory != "" {
		merged.Memory = override.Memory
	}
	if override.AdvancedOptions != nil {
		merged.AdvancedOptions = override.AdvancedOptions
	}
	return merged
}

// flattenResources emits cpus and memory, then splats advanced_options,
// whose keys may not reuse the named fields.
func flattenResources(r *schema.Resources) (map[string]any, *schema.FlowError) {
	if r == nil {
		return nil, nil
	}
	out := map[string]any{}
	if r.CPUs != nil {
		out[resourceCPUs] = *r.CPUs
	}
	if r.Memory != "" {
		out[resourceMemory] = r.Memory
	}
	for _, key := range sortedKeys(r.AdvancedOptions) {
		if key == resourceCPUs || key == resourceMemory {
			return nil, schema.NewErrorf(schema.ErrCodeResourceConflict,
				"resources.advanced_options: %q is reserved, set it as a named resource field", key)
		}
		out[key] = r.AdvancedOptions[key]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// describeArgs is used in log lines.
func describeArgs(opts *ResolvedStepOptions) string {
	parts := make([]string, len(opts.Arguments))
	for i, a := range opts.Arguments {
		parts[i] = fmt.Sprintf("%s<-%s", a, opts.SourceFor(a))
	}
	return strings.Join(parts, " ")
}
