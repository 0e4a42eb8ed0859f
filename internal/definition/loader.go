// Package definition reads workflow files into schema.WorkflowDefinition.
package definition

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowfunc/internal/validation"
	"github.com/rendis/flowfunc/pkg/schema"
)

// Extensions lists the file suffixes Load accepts.
var Extensions = []string{".yaml", ".yml", ".json"}

// Loader parses workflow files. JSON is read through the YAML decoder, so
// both formats share one code path. Safe for concurrent use.
type Loader struct {
	schema *validation.SchemaValidator
}

// NewLoader creates a Loader with the workflow schema compiled.
func NewLoader() (*Loader, error) {
	sv, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &Loader{schema: sv}, nil
}

// Load reads, schema-checks and decodes the workflow file at path.
func (l *Loader) Load(path string) (*schema.WorkflowDefinition, error) {
	if !supported(path) {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition,
			"unsupported workflow file %q: expected one of %s", path, strings.Join(Extensions, ", "))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, schema.NewErrorf(schema.ErrCodeDefinition, "workflow file %q does not exist", path)
		}
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "read workflow file %q", path).WithCause(err)
	}
	wf, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wf, nil
}

// Parse decodes a workflow document held in memory.
func (l *Loader) Parse(data []byte) (*schema.WorkflowDefinition, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "malformed workflow document").WithCause(err)
	}
	if _, ok := raw.(map[string]any); !ok {
		return nil, schema.NewError(schema.ErrCodeDefinition, "workflow document must be a mapping")
	}
	if err := l.schema.ValidateDocument(raw); err != nil {
		return nil, err
	}

	var wf schema.WorkflowDefinition
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, "invalid workflow document").WithCause(err)
	}
	if wf.APIVersion == "" {
		wf.APIVersion = schema.DefaultAPIVersion
	}
	if wf.Kind == "" {
		wf.Kind = schema.KindPipeline
	}
	return &wf, nil
}

func supported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
