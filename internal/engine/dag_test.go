package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

func TestParseDAG_Diamond(t *testing.T) {
	plan := compile(t, nil, `
spec:
  steps:
    - {name: a, func: "expr:1"}
    - {name: b, func: "expr:a + 1", consumes: {a: steps.a.produces.a}, options: {map_mode: aggregate}}
    - {name: c, func: "expr:a + 2", consumes: {a: steps.a.produces.a}, options: {map_mode: aggregate}}
    - name: d
      func: "expr:b + c"
      consumes: {b: steps.b.produces.b, c: steps.c.produces.c}
      options: {mapspec: "b, c -> d"}
`)
	dag, err := ParseDAG(plan)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b", "c", "d"}, dag.Sorted)
	assert.Equal(t, [][]string{{"a"}, {"b", "c"}, {"d"}}, dag.Levels)
	assert.ElementsMatch(t, []string{"b", "c"}, dag.Edges["d"])
	assert.ElementsMatch(t, []string{"b", "c"}, dag.Reverse["a"])
	assert.Equal(t, "a", dag.Producers["a"])
	assert.Empty(t, dag.Inputs)

	res, err := newTestEngine().Execute(t.Context(), dag, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, res["d"].Output)
}

func TestParseDAG_DeclarationOrderIndependent(t *testing.T) {
	plan := compile(t, nil, `
spec:
  steps:
    - {name: late, func: "expr:x", consumes: {x: steps.early.produces.early}, options: {map_mode: aggregate}}
    - {name: early, func: "expr:1"}
`)
	dag, err := ParseDAG(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, dag.Sorted)
}

func TestParseDAG_Cycle(t *testing.T) {
	plan := compile(t, nil, `
spec:
  steps:
    - {name: a, func: "expr:y", consumes: {y: steps.b.produces.y}, produces: x, options: {map_mode: aggregate}}
    - {name: b, func: "expr:x", consumes: {x: steps.a.produces.x}, produces: y, options: {map_mode: aggregate}}
`)
	_, err := ParseDAG(plan)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
}

func TestParseDAG_InputsAndDefaults(t *testing.T) {
	plan := compile(t, nil, `
spec:
  steps:
    - name: scaled
      func: "expr:x * factor"
      consumes: {x: $global.xs, factor: 2}
    - name: shifted
      func: "expr:x + offset"
      consumes: {x: $global.xs, offset: $global.offset}
      options: {map_mode: zip}
`)
	dag, err := ParseDAG(plan)
	require.NoError(t, err)
	assert.Equal(t, []string{"factor", "offset", "xs"}, dag.Inputs)
	assert.Equal(t, []string{"offset", "xs"}, dag.RequiredInputs)
	assert.Equal(t, []string{"i"}, dag.Nodes["scaled"].Indices["x"])
	assert.Equal(t, "xs", dag.Nodes["scaled"].Sources["x"])
}

func TestParseDAG_ScopedProducerFallback(t *testing.T) {
	plan := compile(t, nil, `
spec:
  steps:
    - {name: base, func: "expr:1", produces: seed}
    - name: scoped
      func: "expr:seed + 1"
      consumes: {seed: steps.base.produces.seed}
      options: {scope: exp, map_mode: aggregate}
`)
	dag, err := ParseDAG(plan)
	require.NoError(t, err)
	assert.Equal(t, "seed", dag.Nodes["scoped"].Sources["seed"])
	assert.Equal(t, []string{"exp.scoped"}, dag.Nodes["scoped"].Outputs)
	assert.Equal(t, []string{"base"}, dag.Edges["scoped"])
}

func TestParseDAG_InvalidPlans(t *testing.T) {
	_, err := ParseDAG(nil)
	assert.Error(t, err)

	_, err = ParseDAG(&pipeline.CompiledPlan{})
	assert.Error(t, err)

	dup := &pipeline.CompiledPlan{Steps: []*pipeline.ResolvedStepOptions{
		{StepName: "a", OutputNames: []string{"a"}},
		{StepName: "a", OutputNames: []string{"b"}},
	}}
	_, err = ParseDAG(dup)
	assert.True(t, schema.HasCode(err, schema.ErrCodeDuplicateStep))

	self := &pipeline.CompiledPlan{Steps: []*pipeline.ResolvedStepOptions{
		{StepName: "a", OutputNames: []string{"x"}, Arguments: []string{"x"}},
	}}
	_, err = ParseDAG(self)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCycleDetected))
}
