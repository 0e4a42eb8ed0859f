package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderMermaid(t *testing.T) {
	out := RenderMermaid(buildModel(t))

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% word-count")
	assert.Contains(t, out, `input__text(["text"])`)
	assert.Contains(t, out, `tokenize[["tokenize<br/>builtins.tokenize<br/>text[i] -> tokens[i]"]]`)
	assert.Contains(t, out, `count["count<br/>builtins.count<br/>tokens[i] -> n"]`)
	assert.Contains(t, out, `tokenize -->|"tokens as values"| count`)
	assert.Contains(t, out, "class input__text required")
	assert.Contains(t, out, "class input__sep input")
	assert.Contains(t, out, "class tokenize mapped")
	assert.Contains(t, out, "class count artifact")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "input__exp_xs", mermaidSafeID("input:exp.xs"))
	assert.Equal(t, "word_count", mermaidSafeID("word count"))
	assert.Equal(t, "a_b", mermaidSafeID("a-b"))
}

func TestNodeLabel_Quotes(t *testing.T) {
	n := &Node{Label: "s", Detail: `expr:x + "!"`}
	assert.Equal(t, "s\nexpr:x + '!'", nodeLabel(n, "\n"))
}
