package definition

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowfunc/internal/engine"
	"github.com/rendis/flowfunc/internal/functions"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

func write(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	require.NoError(t, err)
	return l
}

const yamlDoc = `
metadata: {name: scale}
spec:
  params:
    factor: 3
  steps:
    - name: scaled
      func: "expr:x * factor"
      consumes:
        x: $global.xs
        factor: $global.factor
      options: {map_mode: zip}
`

// --- Load ---

func TestLoad_YAML(t *testing.T) {
	wf, err := newLoader(t).Load(write(t, "wf.yaml", yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, "scale", wf.Name())
	assert.Equal(t, schema.DefaultAPIVersion, wf.APIVersion)
	assert.Equal(t, schema.KindPipeline, wf.Kind)
	require.Len(t, wf.Spec.Steps, 1)
	assert.Equal(t, []string{"x", "factor"}, wf.Spec.Steps[0].Consumes.Names())
	assert.Equal(t, schema.GlobalRef("xs"), wf.Spec.Steps[0].Consumes[0].Source)
	assert.Equal(t, 3, wf.Spec.Params["factor"].Value)
}

func TestLoad_JSONKeepsConsumesOrder(t *testing.T) {
	doc := `{
  "apiVersion": "flowfunc.dev/v1beta1",
  "metadata": {"name": "ordered"},
  "spec": {
    "steps": [
      {"name": "s", "func": "expr:z + a", "consumes": {"z": 1, "a": "steps.p.produces.a"}}
    ]
  }
}`
	wf, err := newLoader(t).Load(write(t, "wf.JSON", doc))
	require.NoError(t, err)
	assert.Equal(t, "flowfunc.dev/v1beta1", wf.APIVersion)
	assert.Equal(t, []string{"z", "a"}, wf.Spec.Steps[0].Consumes.Names())
	assert.Equal(t, schema.ProducerRef("p", "a"), wf.Spec.Steps[0].Consumes[1].Source)
}

func TestLoad_Errors(t *testing.T) {
	l := newLoader(t)

	tests := []struct {
		name string
		path string
		code string
	}{
		{"unsupported suffix", write(t, "wf.toml", "x = 1"), schema.ErrCodeDefinition},
		{"missing file", filepath.Join(t.TempDir(), "nope.yaml"), schema.ErrCodeDefinition},
		{"malformed", write(t, "wf.yaml", "metadata: [unclosed"), schema.ErrCodeDefinition},
		{"not a mapping", write(t, "wf.yml", "- a\n- b\n"), schema.ErrCodeDefinition},
		{"schema violation", write(t, "wf.yaml", "metadata: {name: x}\nspec: {steps: []}"), schema.ErrCodeValidation},
		{"duplicate consumes", write(t, "wf.yaml", "metadata: {name: x}\nspec: {steps: [{name: a, consumes: {x: 1, x: 2}}]}"), schema.ErrCodeDefinition},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := l.Load(tc.path)
			require.Error(t, err)
			assert.True(t, schema.HasCode(err, tc.code), err.Error())
		})
	}
}

// --- Scaffold ---

func TestWorkflowName(t *testing.T) {
	assert.Equal(t, "word-count", WorkflowName("Word Count"))
	assert.Equal(t, "etl-v2", WorkflowName("__ETL v2!"))
	assert.Equal(t, "workflow", WorkflowName("???"))
}

func TestScaffold_RoundTrip(t *testing.T) {
	data, err := Scaffold("My Pipeline")
	require.NoError(t, err)

	wf, err := newLoader(t).Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "my-pipeline", wf.Name())
	assert.Equal(t, []string{"counts", "total"}, wf.ArtifactNames())

	logger := slog.New(slog.DiscardHandler)
	plan, err := pipeline.NewBuilder(functions.NewDefaultRegistry(), logger).Build(wf)
	require.NoError(t, err)

	eng := engine.NewLocal(engine.LocalOptions{Workers: 2, Logger: logger})
	g, err := eng.Build(plan)
	require.NoError(t, err)
	res, err := eng.Execute(context.Background(), g, wf.ParamDefaults())
	require.NoError(t, err)
	assert.Equal(t, []any{2, 5}, res["counts"].Output)
	assert.EqualValues(t, 7, res["total"].Output)
}
