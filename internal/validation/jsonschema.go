package validation

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowfunc/pkg/schema"
)

const workflowSchemaURL = "https://flowfunc.dev/schemas/workflow.json"

//go:embed workflow.schema.json
var workflowSchemaJSON string

// WorkflowSchema returns the JSON Schema workflow files are checked against.
func WorkflowSchema() string {
	return workflowSchemaJSON
}

// SchemaValidator checks raw workflow documents against the embedded JSON
// Schema (Draft 2020-12). A compiled schema is immutable, so it is safe for
// concurrent use.
type SchemaValidator struct {
	workflow *jsonschema.Schema
}

// NewSchemaValidator compiles the embedded workflow schema.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource(workflowSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}
	compiled, err := c.Compile(workflowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}
	return &SchemaValidator{workflow: compiled}, nil
}

// ValidateDocument validates a decoded workflow document, as produced by
// unmarshalling YAML or JSON into an any.
func (v *SchemaValidator) ValidateDocument(doc any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow document is empty")
	}
	jv, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow document is not representable as JSON").WithCause(err)
	}
	if err := v.workflow.Validate(jv); err != nil {
		return toFlowError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so that numbers become
// json.Number, which is what the jsonschema library expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError whose
// details list one violation per failing leaf.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}
	msg := violations[0].String()
	if len(violations) > 1 {
		msg = fmt.Sprintf("workflow document has %d schema violations", len(violations))
	}
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// Violation is one failing schema leaf.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (v Violation) String() string {
	return v.Path + ": " + v.Message
}

// collectViolations walks a ValidationError tree and returns its leaves
// ordered by instance location.
func collectViolations(verr *jsonschema.ValidationError) []Violation {
	var out []Violation
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, Violation{Path: pointer(e.InstanceLocation), Message: e.Error()})
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func pointer(loc []string) string {
	if len(loc) == 0 {
		return "/"
	}
	return "/" + strings.Join(loc, "/")
}
