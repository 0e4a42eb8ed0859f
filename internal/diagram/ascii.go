package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// kindTag returns a short ASCII indicator for a node.
func kindTag(node *Node) string {
	switch {
	case node.Kind == NodeKindInput && node.Required:
		return "[REQ]"
	case node.Kind == NodeKindInput:
		return "[IN]"
	case node.Kind == NodeKindMapped:
		return "[MAP]"
	default:
		return ""
	}
}

// RenderASCII renders a DiagramModel as a text diagram: one row of boxes
// per level, followed by the edge list.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			if node := model.Node(nodeID); node != nil {
				boxes = append(boxes, makeBox(node))
			}
		}
		renderBoxRow(&b, boxes)
		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	if len(model.Edges) > 0 {
		b.WriteString("\n--- wiring ---\n")
		for _, edge := range model.Edges {
			fmt.Fprintf(&b, "  %s ─→ %s (%s)\n", displayID(edge.From), edge.To, edge.Label)
		}
	}
	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	label := node.Label
	if tag := kindTag(node); tag != "" {
		label += " " + tag
	}
	if node.Artifact {
		label += " *"
	}
	contentLines := []string{label}
	if node.Detail != "" {
		contentLines = append(contentLines, node.Detail)
	}
	if node.Mapspec != "" {
		contentLines = append(contentLines, node.Mapspec)
	}

	maxLen := 0
	for _, line := range contentLines {
		maxLen = max(maxLen, utf8.RuneCountInString(line))
	}
	width := maxLen + 4 // 2 border + 2 padding

	lines := make([]string, 0, len(contentLines)+2)
	lines = append(lines, "┌"+strings.Repeat("─", width-2)+"┐")
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-utf8.RuneCountInString(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", width-2)+"┘")

	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side, top-aligned.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	maxHeight := 0
	for _, box := range boxes {
		maxHeight = max(maxHeight, len(box.lines))
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ")
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// displayID strips the input prefix from a node ID.
func displayID(id string) string {
	return strings.TrimPrefix(id, inputPrefix)
}
