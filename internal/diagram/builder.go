package diagram

import (
	"fmt"
	"strings"

	"github.com/rendis/flowfunc/internal/engine"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

// inputPrefix keeps input node IDs apart from step names.
const inputPrefix = "input:"

// Build constructs a DiagramModel from a compiled plan. It uses
// engine.ParseDAG for topology: pipeline inputs form the first level, steps
// follow in their topological levels. wf supplies parameter defaults and
// artifact names and may be nil.
func Build(plan *pipeline.CompiledPlan, wf *schema.WorkflowDefinition) (*DiagramModel, error) {
	dag, err := engine.ParseDAG(plan)
	if err != nil {
		return nil, fmt.Errorf("diagram: parse DAG: %w", err)
	}

	var (
		defaults  map[string]any
		artifacts = map[string]bool{}
	)
	if wf != nil {
		defaults = wf.ParamDefaults()
		for _, name := range wf.ArtifactNames() {
			artifacts[name] = true
			artifacts[pipeline.Qualify(plan.Options.Scope, name)] = true
		}
	}

	model := &DiagramModel{Title: plan.Name}
	if model.Title == "" {
		model.Title = "Workflow"
	}

	required := make(map[string]bool, len(dag.RequiredInputs))
	for _, in := range dag.RequiredInputs {
		required[in] = true
	}
	var inputLevel []string
	for _, in := range dag.Inputs {
		node := &Node{ID: inputPrefix + in, Label: in, Kind: NodeKindInput, Required: required[in]}
		if v, ok := lookupDefault(defaults, in, plan.Options.Scope); ok {
			node.Detail = fmt.Sprintf("= %v", v)
			node.Required = false
		}
		model.Nodes = append(model.Nodes, node)
		inputLevel = append(inputLevel, node.ID)
	}
	if len(inputLevel) > 0 {
		model.Levels = append(model.Levels, inputLevel)
	}

	for _, id := range dag.Sorted {
		n := dag.Nodes[id]
		node := &Node{
			ID:      id,
			Label:   id,
			Detail:  n.Step.FuncRef,
			Mapspec: n.Step.Mapspec,
			Kind:    NodeKindStep,
			Outputs: n.Outputs,
		}
		if n.Spec != nil && len(n.Spec.OutputIndices()) > 0 {
			node.Kind = NodeKindMapped
		}
		for _, out := range n.Outputs {
			if artifacts[out] {
				node.Artifact = true
			}
		}
		model.Nodes = append(model.Nodes, node)
		model.Edges = append(model.Edges, stepEdges(dag, n)...)
	}
	model.Levels = append(model.Levels, dag.Levels...)
	return model, nil
}

// stepEdges returns one edge per argument, in argument order.
func stepEdges(dag *engine.DAG, n *engine.Node) []Edge {
	var edges []Edge
	for _, arg := range n.Step.Arguments {
		src := n.Sources[arg]
		label := src
		if src != arg && src != pipeline.Qualify(n.Scope, arg) {
			label = src + " as " + arg
		}
		from := inputPrefix + src
		if producer, ok := dag.Producers[src]; ok {
			from = producer
		}
		edges = append(edges, Edge{From: from, To: n.Step.StepName, Label: label})
	}
	return edges
}

func lookupDefault(defaults map[string]any, name, scope string) (any, bool) {
	if v, ok := defaults[name]; ok && v != nil {
		return v, true
	}
	if bare, ok := strings.CutPrefix(name, scope+"."); ok && scope != "" {
		if v, ok := defaults[bare]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}
