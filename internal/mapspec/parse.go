package mapspec

import (
	"fmt"
	"slices"
	"strings"
)

// Operand is one name in a mapspec with its index symbols.
type Operand struct {
	Name    string
	Indices []string
}

func (o Operand) String() string {
	if len(o.Indices) == 0 {
		return o.Name
	}
	return fmt.Sprintf("%s[%s]", o.Name, strings.Join(o.Indices, ","))
}

// Spec is a parsed mapspec expression.
type Spec struct {
	Inputs  []Operand
	Outputs []Operand
}

func (s *Spec) String() string {
	in := make([]string, len(s.Inputs))
	for i, op := range s.Inputs {
		in[i] = op.String()
	}
	out := make([]string, len(s.Outputs))
	for i, op := range s.Outputs {
		out[i] = op.String()
	}
	return strings.Join(in, ", ") + " -> " + strings.Join(out, ", ")
}

// Input returns the operand for the named input.
func (s *Spec) Input(name string) (Operand, bool) {
	for _, op := range s.Inputs {
		if op.Name == name {
			return op, true
		}
	}
	return Operand{}, false
}

// OutputIndices returns the index symbols of the outputs. All outputs of
// a mapspec share the same indices.
func (s *Spec) OutputIndices() []string {
	if len(s.Outputs) == 0 {
		return nil
	}
	return s.Outputs[0].Indices
}

// Parse reads an expression of the form "a[i], b[j], c -> out[i,j]".
func Parse(expr string) (*Spec, error) {
	lhs, rhs, ok := strings.Cut(expr, "->")
	if !ok {
		return nil, fmt.Errorf("mapspec %q: missing \"->\"", expr)
	}

	inputs, err := parseOperands(lhs)
	if err != nil {
		return nil, fmt.Errorf("mapspec %q: inputs: %w", expr, err)
	}
	outputs, err := parseOperands(rhs)
	if err != nil {
		return nil, fmt.Errorf("mapspec %q: outputs: %w", expr, err)
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("mapspec %q: no outputs", expr)
	}
	for _, op := range outputs[1:] {
		if !slices.Equal(op.Indices, outputs[0].Indices) {
			return nil, fmt.Errorf("mapspec %q: outputs must share the same indices", expr)
		}
	}

	known := map[string]bool{}
	for _, op := range inputs {
		for _, idx := range op.Indices {
			known[idx] = true
		}
	}
	for _, idx := range outputs[0].Indices {
		if !known[idx] {
			return nil, fmt.Errorf("mapspec %q: output index %q does not appear in any input", expr, idx)
		}
	}

	return &Spec{Inputs: inputs, Outputs: outputs}, nil
}

// parseOperands splits a comma-separated operand list, ignoring commas inside brackets.
func parseOperands(s string) ([]Operand, error) {
	var parts []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced \"]\"")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced \"[\"")
	}
	parts = append(parts, s[start:])

	var ops []Operand
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		op, err := parseOperand(p)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseOperand(s string) (Operand, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 {
		return Operand{Name: s}, nil
	}
	if !strings.HasSuffix(s, "]") {
		return Operand{}, fmt.Errorf("operand %q: trailing characters after \"]\"", s)
	}
	name := strings.TrimSpace(s[:open])
	if name == "" {
		return Operand{}, fmt.Errorf("operand %q: missing name", s)
	}
	var indices []string
	for _, idx := range strings.Split(s[open+1:len(s)-1], ",") {
		idx = strings.TrimSpace(idx)
		if idx == "" {
			return Operand{}, fmt.Errorf("operand %q: empty index", s)
		}
		indices = append(indices, idx)
	}
	return Operand{Name: name, Indices: indices}, nil
}
