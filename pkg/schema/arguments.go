package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	globalRefPrefix   = "$global."
	producerRefPrefix = "steps."
	producerRefInfix  = "produces"
)

// SourceKind tags an ArgumentSource.
type SourceKind string

const (
	SourceLiteral  SourceKind = "literal"
	SourceGlobal   SourceKind = "global"
	SourceProducer SourceKind = "producer"
)

// ArgumentSource is where a step argument takes its value from: a literal
// embedded in the definition, a workflow-level parameter, or another step's output.
// It is decided once when the definition is decoded.
type ArgumentSource struct {
	Kind  SourceKind
	Value any    // literal value
	Name  string // parameter name or producer output name
	Step  string // producer step name
}

// Literal returns a literal source.
func Literal(v any) ArgumentSource {
	return ArgumentSource{Kind: SourceLiteral, Value: v}
}

// GlobalRef returns a reference to a workflow-level parameter.
func GlobalRef(name string) ArgumentSource {
	return ArgumentSource{Kind: SourceGlobal, Name: name}
}

// ProducerRef returns a reference to an output of another step.
func ProducerRef(step, output string) ArgumentSource {
	return ArgumentSource{Kind: SourceProducer, Step: step, Name: output}
}

// ParseSource classifies a raw consumes value. Strings of the form
// "$global.<name>" and "steps.<step>.produces.<output>" are references,
// a {value: ...} mapping is unwrapped, anything else is a literal.
func ParseSource(v any) ArgumentSource {
	switch val := v.(type) {
	case string:
		if name, ok := strings.CutPrefix(val, globalRefPrefix); ok && name != "" {
			return GlobalRef(name)
		}
		if strings.HasPrefix(val, producerRefPrefix) {
			parts := strings.Split(val, ".")
			if len(parts) == 4 && parts[2] == producerRefInfix && parts[1] != "" && parts[3] != "" {
				return ProducerRef(parts[1], parts[3])
			}
		}
		return Literal(val)
	case map[string]any:
		if inner, ok := val["value"]; ok && len(val) == 1 {
			return ParseSource(inner)
		}
	}
	return Literal(v)
}

// IsReference reports whether the source is a global or producer reference.
func (s ArgumentSource) IsReference() bool {
	return s.Kind == SourceGlobal || s.Kind == SourceProducer
}

// Raw returns the source in its definition form.
func (s ArgumentSource) Raw() any {
	switch s.Kind {
	case SourceGlobal:
		return globalRefPrefix + s.Name
	case SourceProducer:
		return fmt.Sprintf("%s%s.%s.%s", producerRefPrefix, s.Step, producerRefInfix, s.Name)
	}
	return s.Value
}

func (s ArgumentSource) String() string {
	return fmt.Sprint(s.Raw())
}

// Argument is one consumes entry.
type Argument struct {
	Name   string
	Source ArgumentSource
}

// ArgumentList is an ordered consumes mapping. Declaration order drives
// index symbol assignment, so it survives decoding from both YAML and JSON.
type ArgumentList []Argument

// Get returns the source bound to name.
func (l ArgumentList) Get(name string) (ArgumentSource, bool) {
	for _, a := range l {
		if a.Name == name {
			return a.Source, true
		}
	}
	return ArgumentSource{}, false
}

// Names returns the argument names in declaration order.
func (l ArgumentList) Names() []string {
	names := make([]string, len(l))
	for i, a := range l {
		names[i] = a.Name
	}
	return names
}

func (l *ArgumentList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("consumes must be a mapping, got %s", nodeKindName(node.Kind))
	}
	out := make(ArgumentList, 0, len(node.Content)/2)
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return fmt.Errorf("consumes key at line %d: %w", node.Content[i].Line, err)
		}
		if seen[name] {
			return fmt.Errorf("consumes: duplicate argument %q", name)
		}
		seen[name] = true
		var raw any
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("consumes.%s: %w", name, err)
		}
		out = append(out, Argument{Name: name, Source: ParseSource(raw)})
	}
	*l = out
	return nil
}

func (l *ArgumentList) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*l = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("consumes must be an object")
	}
	out := ArgumentList{}
	seen := map[string]bool{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, _ := keyTok.(string)
		if seen[name] {
			return fmt.Errorf("consumes: duplicate argument %q", name)
		}
		seen[name] = true
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("consumes.%s: %w", name, err)
		}
		out = append(out, Argument{Name: name, Source: ParseSource(raw)})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*l = out
	return nil
}

func (l ArgumentList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, a := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(a.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(a.Source.Raw())
		if err != nil {
			return nil, fmt.Errorf("consumes.%s: %w", a.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (l ArgumentList) MarshalYAML() (any, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, a := range l {
		key := &yaml.Node{Kind: yaml.ScalarNode, Value: a.Name}
		val := &yaml.Node{}
		if err := val.Encode(a.Source.Raw()); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, key, val)
	}
	return node, nil
}

// OutputNames accepts either a single name or a list of names.
type OutputNames []string

func (o *OutputNames) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		*o = OutputNames{s}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*o = list
		return nil
	}
	return fmt.Errorf("output names must be a string or a list of strings")
}

func (o *OutputNames) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*o = OutputNames{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("output names must be a string or a list of strings")
	}
	*o = list
	return nil
}

var paramSpecKeys = map[string]bool{"value": true, "description": true, "type": true}

// isStructuredParam reports whether m is a {value, description, type} block
// rather than a mapping literal used as a shorthand default.
func isStructuredParam(m map[string]any) bool {
	if _, ok := m["value"]; !ok {
		return false
	}
	for k := range m {
		if !paramSpecKeys[k] {
			return false
		}
	}
	return true
}

func paramFromRaw(raw any) ParamSpec {
	m, ok := raw.(map[string]any)
	if !ok || !isStructuredParam(m) {
		return ParamSpec{Value: raw}
	}
	p := ParamSpec{Value: m["value"]}
	p.Description, _ = m["description"].(string)
	p.Type, _ = m["type"].(string)
	return p
}

func (p *ParamSpec) UnmarshalYAML(node *yaml.Node) error {
	var raw any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	*p = paramFromRaw(raw)
	return nil
}

func (p *ParamSpec) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*p = paramFromRaw(raw)
	return nil
}

func nodeKindName(k yaml.Kind) string {
	switch k {
	case yaml.SequenceNode:
		return "sequence"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	case yaml.DocumentNode:
		return "document"
	}
	return "mapping"
}
