package run

import (
	"encoding/json"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

// ParamProvider supplies the user parameters of a run. When both are set
// the file wins; with neither the run gets no parameters.
type ParamProvider struct {
	File   string
	Values map[string]any
}

// Load returns the user parameters from the winning source.
func (p ParamProvider) Load() (map[string]any, error) {
	if p.File != "" {
		return LoadParamsFile(p.File)
	}
	if p.Values != nil {
		return maps.Clone(p.Values), nil
	}
	return map[string]any{}, nil
}

// LoadParamsFile reads a .json, .yaml or .yml file holding one object.
func LoadParamsFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParam, "read params file %s", path).WithCause(err)
	}

	var out map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &out)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &out)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeParam, "params file %s: unsupported extension (want .json, .yaml or .yml)", path)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParam, "params file %s must hold an object", path).WithCause(err)
	}
	if out == nil {
		return nil, schema.NewErrorf(schema.ErrCodeParam, "params file %s must hold an object", path)
	}
	return out, nil
}

// ParseParamsJSON decodes an inline JSON object.
func ParseParamsJSON(s string) (map[string]any, error) {
	var out map[string]any
	if err := json.Unmarshal([]byte(s), &out); err != nil || out == nil {
		e := schema.NewError(schema.ErrCodeParam, "inline params must be a JSON object")
		if err != nil {
			e = e.WithCause(err)
		}
		return nil, e
	}
	return out, nil
}

// ApplyParamPairs layers key=value pairs over params. Values that parse as
// JSON keep their JSON type; anything else is a string.
func ApplyParamPairs(params map[string]any, pairs []string) (map[string]any, error) {
	out := maps.Clone(params)
	if out == nil {
		out = make(map[string]any, len(pairs))
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, schema.NewErrorf(schema.ErrCodeParam, "invalid param %q: want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

// ResolveParams merges workflow defaults with user parameters and checks
// the engine's required inputs. Unscoped user names are placed under the
// pipeline scope. User values win. The result holds only engine inputs.
func ResolveParams(
	user map[string]any,
	wf *schema.WorkflowDefinition,
	scope string,
	info pipeline.GraphInfo,
	logger *slog.Logger,
) (map[string]any, error) {
	merged := make(map[string]any, len(user))
	for name, v := range user {
		if scope != "" && !strings.Contains(name, ".") {
			name = pipeline.Qualify(scope, name)
		}
		merged[name] = v
	}

	defaults := wf.ParamDefaults()
	for _, input := range info.Inputs {
		if _, ok := merged[input]; ok {
			continue
		}
		if v, ok := lookupDefault(defaults, input); ok {
			merged[input] = v
		}
	}

	var missing []string
	for _, name := range info.RequiredInputs {
		if _, ok := merged[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, schema.NewErrorf(schema.ErrCodeMissingParams, "missing required params: %s", strings.Join(missing, ", ")).
			WithDetails(map[string]any{"missing": missing})
	}

	resolved := make(map[string]any, len(info.Inputs))
	for _, input := range info.Inputs {
		if v, ok := merged[input]; ok {
			resolved[input] = v
		}
	}
	for name := range merged {
		if _, ok := resolved[name]; !ok {
			logger.Debug("ignoring param not consumed by any step", slog.String("param", name))
		}
	}
	return resolved, nil
}

// lookupDefault finds the workflow default for a possibly scoped input:
// first under its full name, then under the name without its scope.
func lookupDefault(defaults map[string]any, input string) (any, bool) {
	if v, ok := defaults[input]; ok && v != nil {
		return v, true
	}
	if _, bare, scoped := strings.Cut(input, "."); scoped {
		if v, ok := defaults[bare]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
