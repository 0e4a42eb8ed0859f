package engine

import (
	"sort"

	"github.com/rendis/flowfunc/internal/mapspec"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

// Node is one step of the graph with its wiring resolved to qualified names.
type Node struct {
	Step    *pipeline.ResolvedStepOptions
	Scope   string
	Spec    *mapspec.Spec       // nil when the step is called once
	Sources map[string]string   // argument -> qualified source name
	Indices map[string][]string // argument -> index symbols from the mapspec
	Outputs []string            // qualified output names
}

// DAG is the executable graph built from a CompiledPlan. Edges are derived
// from the wiring: a step depends on every step producing one of its sources.
type DAG struct {
	Plan      *pipeline.CompiledPlan
	Nodes     map[string]*Node
	Edges     map[string][]string // step -> steps it depends on
	Reverse   map[string][]string // step -> steps depending on it
	Producers map[string]string   // qualified output -> step
	Sorted    []string            // topological order
	Levels    [][]string          // steps whose dependencies are all in earlier levels

	Inputs         []string
	RequiredInputs []string
}

// ParseDAG wires a plan into a DAG, sorts it topologically with Kahn's
// algorithm, detects cycles and computes the graph inputs.
func ParseDAG(plan *pipeline.CompiledPlan) (*DAG, error) {
	if plan == nil {
		return nil, schema.NewError(schema.ErrCodeBuild, "plan is nil")
	}
	if len(plan.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeBuild, "plan has no steps")
	}

	dag := &DAG{
		Plan:      plan,
		Nodes:     make(map[string]*Node, len(plan.Steps)),
		Edges:     make(map[string][]string, len(plan.Steps)),
		Reverse:   make(map[string][]string, len(plan.Steps)),
		Producers: make(map[string]string),
	}

	// First pass: register steps and their outputs.
	for _, step := range plan.Steps {
		if _, exists := dag.Nodes[step.StepName]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateStep, "duplicate step name: %s", step.StepName)
		}
		node := &Node{Step: step, Scope: plan.ScopeFor(step)}
		for _, out := range step.OutputNames {
			q := pipeline.Qualify(node.Scope, out)
			if other, dup := dag.Producers[q]; dup {
				return nil, schema.NewErrorf(schema.ErrCodeBuild, "output %q is produced by both %q and %q", q, other, step.StepName)
			}
			dag.Producers[q] = step.StepName
			node.Outputs = append(node.Outputs, q)
		}
		if step.Mapspec != "" {
			spec, err := mapspec.Parse(step.Mapspec)
			if err != nil {
				return nil, schema.NewError(schema.ErrCodeMapspec, err.Error()).WithStep(step.StepName)
			}
			node.Spec = spec
		}
		dag.Nodes[step.StepName] = node
	}

	// Second pass: resolve sources, build adjacency lists and collect inputs.
	inputs := map[string]bool{}
	required := map[string]bool{}
	for _, step := range plan.Steps {
		node := dag.Nodes[step.StepName]
		node.Sources = make(map[string]string, len(step.Arguments))
		node.Indices = make(map[string][]string, len(step.Arguments))
		seen := map[string]bool{}

		for _, arg := range step.Arguments {
			src := step.SourceFor(arg)
			q := pipeline.Qualify(node.Scope, src)
			producer, produced := dag.Producers[q]
			if !produced {
				if p, ok := dag.Producers[src]; ok {
					q, producer, produced = src, p, true
				}
			}
			node.Sources[arg] = q

			if node.Spec != nil {
				if op, ok := node.Spec.Input(src); ok {
					node.Indices[arg] = op.Indices
				} else if op, ok := node.Spec.Input(arg); ok {
					node.Indices[arg] = op.Indices
				}
			}

			if produced {
				if producer == step.StepName {
					return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "step %s consumes its own output %q", step.StepName, q)
				}
				if !seen[producer] {
					seen[producer] = true
					dag.Edges[step.StepName] = append(dag.Edges[step.StepName], producer)
					dag.Reverse[producer] = append(dag.Reverse[producer], step.StepName)
				}
				continue
			}

			inputs[q] = true
			if _, hasDefault := step.Defaults[arg]; !hasDefault {
				required[q] = true
			}
		}
	}
	dag.Inputs = sortedSet(inputs)
	dag.RequiredInputs = sortedSet(required)

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		inDegree[id] = len(dag.Edges[id])
	}

	// Seed with roots in declaration order for deterministic ordering.
	var queue []string
	for _, step := range plan.Steps {
		if inDegree[step.StepName] == 0 {
			queue = append(queue, step.StepName)
		}
	}

	sorted := make([]string, 0, len(dag.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		sorted = append(sorted, id)

		for _, dep := range dag.Reverse[id] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(dag.Nodes) {
		return nil, schema.NewError(schema.ErrCodeCycleDetected, "workflow wiring contains a cycle")
	}

	dag.Sorted = sorted
	dag.Levels = computeLevels(dag)
	return dag, nil
}

// computeLevels groups steps by topological depth.
func computeLevels(dag *DAG) [][]string {
	depth := make(map[string]int, len(dag.Nodes))
	maxLevel := 0
	for _, id := range dag.Sorted {
		d := 0
		for _, dep := range dag.Edges[id] {
			if depth[dep]+1 > d {
				d = depth[dep] + 1
			}
		}
		depth[id] = d
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Sorted {
		levels[depth[id]] = append(levels[depth[id]], id)
	}
	return levels
}

func sortedSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
