package diagram

import (
	"fmt"
	"strings"
)

var mermaidIDReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_", ":", "__", "$", "")

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if model.Title != "" {
		fmt.Fprintf(&b, "    %%%% %s\n", model.Title)
	}

	for _, node := range model.Nodes {
		fmt.Fprintf(&b, "    %s\n", mermaidNodeDef(node))
	}

	for _, edge := range model.Edges {
		label := ""
		if edge.Label != "" {
			label = fmt.Sprintf("|%q|", edge.Label)
		}
		fmt.Fprintf(&b, "    %s -->%s %s\n", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
	}

	b.WriteString("\n")
	b.WriteString("    classDef input fill:#f4f4f4,stroke:#999,color:#333\n")
	b.WriteString("    classDef required fill:#fff4d6,stroke:#b7791a,color:#333\n")
	b.WriteString("    classDef mapped fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef artifact stroke:#2d6a2d,stroke-width:3px\n")

	for _, node := range model.Nodes {
		for _, cls := range mermaidClasses(node) {
			fmt.Fprintf(&b, "    class %s %s\n", mermaidSafeID(node.ID), cls)
		}
	}
	return b.String()
}

// mermaidNodeDef returns a Mermaid node definition with the shape for its kind.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := nodeLabel(node, "<br/>")

	switch node.Kind {
	case NodeKindInput:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindMapped:
		return fmt.Sprintf("%s[[%q]]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

func mermaidClasses(node *Node) []string {
	var classes []string
	switch {
	case node.Kind == NodeKindInput && node.Required:
		classes = append(classes, "required")
	case node.Kind == NodeKindInput:
		classes = append(classes, "input")
	case node.Kind == NodeKindMapped:
		classes = append(classes, "mapped")
	}
	if node.Artifact {
		classes = append(classes, "artifact")
	}
	return classes
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
func mermaidSafeID(id string) string {
	return mermaidIDReplacer.Replace(id)
}

// nodeLabel joins the label with the node's detail and mapspec lines.
// Double quotes are swapped for single ones so the label survives %q.
func nodeLabel(node *Node, sep string) string {
	parts := []string{node.Label}
	if node.Detail != "" {
		parts = append(parts, node.Detail)
	}
	if node.Mapspec != "" {
		parts = append(parts, node.Mapspec)
	}
	return strings.ReplaceAll(strings.Join(parts, sep), `"`, "'")
}
