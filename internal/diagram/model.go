// Package diagram draws the wiring of a compiled workflow as Mermaid, ASCII
// or Graphviz images.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindInput  NodeKind = "input"  // pipeline parameter
	NodeKindStep   NodeKind = "step"   // called once
	NodeKindMapped NodeKind = "mapped" // called once per element
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one pipeline input or step.
type Node struct {
	ID       string
	Label    string
	Detail   string // func reference, or the default for an input
	Mapspec  string
	Kind     NodeKind
	Required bool     // inputs without a default
	Outputs  []string // qualified output names
	Artifact bool     // an output is persisted as an artifact
}

// Edge carries a value from a producer to a consuming step.
type Edge struct {
	From  string
	To    string
	Label string
}

// Node returns the node with the given ID, or nil.
func (m *DiagramModel) Node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
