package validation

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowfunc/internal/engine"
	"github.com/rendis/flowfunc/internal/functions"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

func decode(t *testing.T, doc string) any {
	t.Helper()
	var raw any
	require.NoError(t, yaml.Unmarshal([]byte(doc), &raw))
	return raw
}

func definition(t *testing.T, doc string) *schema.WorkflowDefinition {
	t.Helper()
	var wf schema.WorkflowDefinition
	require.NoError(t, yaml.Unmarshal([]byte(doc), &wf))
	return &wf
}

func newValidator(withEngine bool) *WorkflowValidator {
	logger := slog.New(slog.DiscardHandler)
	builder := pipeline.NewBuilder(functions.NewDefaultRegistry(), logger)
	if !withEngine {
		return NewWorkflowValidator(builder, nil)
	}
	return NewWorkflowValidator(builder, engine.NewLocal(engine.LocalOptions{Workers: 1, Logger: logger}))
}

func violationPaths(t *testing.T, err error) []string {
	t.Helper()
	var fe *schema.FlowError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	violations, ok := fe.Details["violations"].([]Violation)
	require.True(t, ok)
	paths := make([]string, len(violations))
	for i, v := range violations {
		paths[i] = v.Path
	}
	return paths
}

const validDoc = `
apiVersion: flowfunc.dev/v1
kind: Pipeline
metadata:
  name: word-count
  labels: {team: data}
spec:
  default_module: builtins
  options:
    default_resources: {cpus: 2, memory: 4GB}
  params:
    text: ["a b", "c"]
    sep: {value: " ", description: separator}
  steps:
    - name: tokenize
      consumes: {text: $global.text}
      produces: tokens
    - name: count
      consumes: {values: steps.tokenize.produces.tokens}
      produces: n
      options: {map_mode: aggregate}
  artifacts:
    n: n.json
`

// --- SchemaValidator ---

func TestNewSchemaValidator(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)
	assert.NotNil(t, v.workflow)
	assert.Contains(t, WorkflowSchema(), "https://flowfunc.dev/schemas/workflow.json")
}

func TestValidateDocument_Valid(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)
	assert.NoError(t, v.ValidateDocument(decode(t, validDoc)))
}

func TestValidateDocument_Nil(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)
	err = v.ValidateDocument(nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeValidation))
}

func TestValidateDocument_Violations(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)

	tests := []struct {
		name string
		doc  string
		path string
	}{
		{
			name: "missing spec",
			doc:  `metadata: {name: x}`,
			path: "/",
		},
		{
			name: "bad workflow name",
			doc:  "metadata: {name: Word Count}\nspec: {steps: [{name: a}]}",
			path: "/metadata/name",
		},
		{
			name: "bad api version",
			doc:  "apiVersion: v1\nmetadata: {name: x}\nspec: {steps: [{name: a}]}",
			path: "/apiVersion",
		},
		{
			name: "no steps",
			doc:  "metadata: {name: x}\nspec: {steps: []}",
			path: "/spec/steps",
		},
		{
			name: "unknown map mode",
			doc:  "metadata: {name: x}\nspec: {steps: [{name: a, options: {map_mode: fanout}}]}",
			path: "/spec/steps/0/options/map_mode",
		},
		{
			name: "unknown step field",
			doc:  "metadata: {name: x}\nspec: {steps: [{name: a, depends_on: [b]}]}",
			path: "/spec/steps/0",
		},
		{
			name: "non-positive cpus",
			doc:  "metadata: {name: x}\nspec: {steps: [{name: a, resources: {cpus: 0}}]}",
			path: "/spec/steps/0/resources/cpus",
		},
		{
			name: "produces not a name",
			doc:  "metadata: {name: x}\nspec: {steps: [{name: a, produces: 3}]}",
			path: "/spec/steps/0/produces",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateDocument(decode(t, tc.doc))
			require.Error(t, err)
			assert.Contains(t, violationPaths(t, err), tc.path)
		})
	}
}

func TestValidateDocument_ConcurrentUse(t *testing.T) {
	v, err := NewSchemaValidator()
	require.NoError(t, err)
	doc := decode(t, validDoc)

	done := make(chan error, 16)
	for range 16 {
		go func() { done <- v.ValidateDocument(doc) }()
	}
	for range 16 {
		assert.NoError(t, <-done)
	}
}

// --- FromError ---

func TestFromError(t *testing.T) {
	assert.True(t, FromError(nil).Valid())

	r := FromError(errors.New("boom"))
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "boom", r.Errors[0].Message)

	r = FromError(schema.NewError(schema.ErrCodeCallableNotFound, "no such func").WithStep("count"))
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "steps/count", r.Errors[0].Path)
	assert.Equal(t, schema.ErrCodeCallableNotFound, r.Errors[0].Code)

	v, err := NewSchemaValidator()
	require.NoError(t, err)
	verr := v.ValidateDocument(decode(t, "metadata: {name: X}\nspec: {steps: [{name: a, bogus: 1}]}"))
	r = FromError(verr)
	assert.GreaterOrEqual(t, len(r.Errors), 2)
	for _, issue := range r.Errors {
		assert.Equal(t, schema.SeverityError, issue.Severity)
	}
}

// --- WorkflowValidator ---

func TestValidate_Valid(t *testing.T) {
	r := newValidator(true).Validate(definition(t, validDoc))
	assert.True(t, r.Valid(), r.Report())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, WarnUnusedParam, r.Warnings[0].Code)
	assert.Equal(t, "spec/params/sep", r.Warnings[0].Path)
}

func TestValidate_Nil(t *testing.T) {
	r := newValidator(false).Validate(nil)
	assert.False(t, r.Valid())
}

func TestValidate_BuildErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		code string
	}{
		{
			name: "unknown callable",
			doc:  "metadata: {name: x}\nspec: {steps: [{name: a, func: nowhere.fn}]}",
			code: schema.ErrCodeCallableNotFound,
		},
		{
			name: "duplicate step",
			doc:  "metadata: {name: x}\nspec: {default_module: builtins, steps: [{name: identity}, {name: identity}]}",
			code: schema.ErrCodeDuplicateStep,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := newValidator(false).Validate(definition(t, tc.doc))
			require.False(t, r.Valid())
			assert.Equal(t, tc.code, r.Errors[0].Code)
			assert.Error(t, newValidator(false).ValidateDefinition(definition(t, tc.doc)))
		})
	}
}

func TestValidate_GraphCycle(t *testing.T) {
	doc := `
metadata: {name: loop}
spec:
  steps:
    - {name: a, func: "expr:y", consumes: {y: steps.b.produces.y}, produces: x, options: {map_mode: aggregate}}
    - {name: b, func: "expr:x", consumes: {x: steps.a.produces.x}, produces: y, options: {map_mode: aggregate}}
`
	r := newValidator(true).Validate(definition(t, doc))
	require.False(t, r.Valid())
	assert.Equal(t, schema.ErrCodeCycleDetected, r.Errors[0].Code)

	// Without an engine the cycle is not detected.
	assert.True(t, newValidator(false).Validate(definition(t, doc)).Valid())
}

func TestValidate_Warnings(t *testing.T) {
	doc := `
metadata: {name: zipped}
spec:
  steps:
    - name: sum
      func: "expr:x + y"
      consumes: {x: $global.xs, y: $global.ys}
      options: {map_mode: zip}
  artifacts:
    sum: sum.json
    missing: missing.json
`
	r := newValidator(false).Validate(definition(t, doc))
	assert.True(t, r.Valid())

	codes := map[string]string{}
	for _, w := range r.Warnings {
		codes[w.Code] = w.Path
	}
	assert.Equal(t, "spec/steps/0", codes[WarnZipLength])
	assert.Equal(t, "spec/artifacts/missing", codes[WarnUnknownArtifact])
}

type loaderFunc func(path string) (*schema.WorkflowDefinition, error)

func (f loaderFunc) Load(path string) (*schema.WorkflowDefinition, error) { return f(path) }

func TestValidateFile(t *testing.T) {
	v := newValidator(true)

	wf, r := v.ValidateFile(loaderFunc(func(string) (*schema.WorkflowDefinition, error) {
		return definition(t, validDoc), nil
	}), "wc.yaml")
	require.NotNil(t, wf)
	assert.True(t, r.Valid())

	wf, r = v.ValidateFile(loaderFunc(func(path string) (*schema.WorkflowDefinition, error) {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "%s does not exist", path)
	}), "gone.yaml")
	assert.Nil(t, wf)
	require.Len(t, r.Errors, 1)
	assert.Equal(t, schema.ErrCodeDefinition, r.Errors[0].Code)
	assert.Contains(t, r.Errors[0].Message, "gone.yaml")
}
