package run

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func workflow(t *testing.T, doc string) *schema.WorkflowDefinition {
	t.Helper()
	var wf schema.WorkflowDefinition
	require.NoError(t, yaml.Unmarshal([]byte(doc), &wf))
	return &wf
}

var discard = slog.New(slog.DiscardHandler)

// --- ParamProvider ---

func TestParamProvider_FileWins(t *testing.T) {
	path := writeFile(t, "p.json", `{"text": ["from file"]}`)
	got, err := ParamProvider{File: path, Values: map[string]any{"text": "inline"}}.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": []any{"from file"}}, got)
}

func TestParamProvider_ValuesThenEmpty(t *testing.T) {
	got, err := ParamProvider{Values: map[string]any{"a": 1}}.Load()
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, got)

	got, err = ParamProvider{}.Load()
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.NotNil(t, got)
}

func TestLoadParamsFile_Formats(t *testing.T) {
	got, err := LoadParamsFile(writeFile(t, "p.yaml", "text: [a, b]\nn: 3\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": []any{"a", "b"}, "n": 3}, got)

	_, err = LoadParamsFile(writeFile(t, "p.json", `[1, 2]`))
	assert.True(t, schema.HasCode(err, schema.ErrCodeParam))

	_, err = LoadParamsFile(writeFile(t, "p.yml", ""))
	assert.Error(t, err)

	_, err = LoadParamsFile(writeFile(t, "p.toml", "a = 1"))
	assert.Error(t, err)

	_, err = LoadParamsFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestParseParamsJSON(t *testing.T) {
	got, err := ParseParamsJSON(`{"x": [1, 2]}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": []any{1.0, 2.0}}, got)

	_, err = ParseParamsJSON(`"scalar"`)
	assert.Error(t, err)
	_, err = ParseParamsJSON(`null`)
	assert.Error(t, err)
}

func TestApplyParamPairs(t *testing.T) {
	got, err := ApplyParamPairs(map[string]any{"a": 1}, []string{"b=2", `c=["x"]`, "d=hello world", "a=override"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"a": "override",
		"b": 2.0,
		"c": []any{"x"},
		"d": "hello world",
	}, got)

	_, err = ApplyParamPairs(nil, []string{"novalue"})
	assert.Error(t, err)
	_, err = ApplyParamPairs(nil, []string{"=1"})
	assert.Error(t, err)
}

// --- ResolveParams ---

func TestResolveParams_MissingRequiredListsAll(t *testing.T) {
	wf := workflow(t, `spec: {params: {}}`)
	info := pipeline.GraphInfo{Inputs: []string{"x", "y", "z"}, RequiredInputs: []string{"y", "x"}}

	_, err := ResolveParams(map[string]any{}, wf, "", info, discard)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeMissingParams))
	assert.Contains(t, err.Error(), "x, y")

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, []string{"x", "y"}, fe.Details["missing"])
}

func TestResolveParams_DefaultSatisfiesRequired(t *testing.T) {
	wf := workflow(t, `spec: {params: {x: 5, unused: 1}}`)
	info := pipeline.GraphInfo{Inputs: []string{"x"}, RequiredInputs: []string{"x"}}

	got, err := ResolveParams(nil, wf, "", info, discard)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 5}, got)
}

func TestResolveParams_UserWinsAndFiltersToInputs(t *testing.T) {
	wf := workflow(t, `spec: {params: {x: 5}}`)
	info := pipeline.GraphInfo{Inputs: []string{"x"}, RequiredInputs: []string{"x"}}

	got, err := ResolveParams(map[string]any{"x": 7, "extra": true}, wf, "", info, discard)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"x": 7}, got)
}

func TestResolveParams_Scoped(t *testing.T) {
	wf := workflow(t, `spec: {params: {x: {value: 1, description: base}, y: 2}}`)
	info := pipeline.GraphInfo{
		Inputs:         []string{"exp.x", "exp.y", "other.z"},
		RequiredInputs: []string{"exp.x", "exp.y", "other.z"},
	}

	got, err := ResolveParams(map[string]any{"y": 20, "other.z": 3}, wf, "exp", info, discard)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"exp.x": 1, "exp.y": 20, "other.z": 3}, got)
}

func TestResolveParams_NilDefaultIsNotAValue(t *testing.T) {
	wf := workflow(t, `spec: {params: {x: {value: null}}}`)
	info := pipeline.GraphInfo{Inputs: []string{"x"}, RequiredInputs: []string{"x"}}
	_, err := ResolveParams(nil, wf, "", info, discard)
	assert.Error(t, err)
}
