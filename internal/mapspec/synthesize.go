// Package mapspec builds and parses the index-annotated wiring expressions
// that tell the execution engine how a step iterates over its inputs.
package mapspec

import (
	"fmt"
	"strings"

	"github.com/rendis/flowfunc/pkg/schema"
)

// Alphabet is the ordered set of index symbols handed out to iterable arguments.
const Alphabet = "ijklmnopqrstuvwxyz"

// MaxIterables is the largest number of iterables a broadcast step may declare.
const MaxIterables = len(Alphabet)

// Request is everything the synthesizer looks at for one step.
type Request struct {
	Step      string
	Arguments schema.ArgumentList
	Outputs   []string
	Mode      schema.MapMode
	Explicit  string
}

// Synthesize returns the mapspec for a step, or "" when none is needed.
// An explicit mapspec is returned verbatim. Steps without reference
// arguments or without outputs get no mapspec.
func Synthesize(req Request) (string, error) {
	if req.Explicit != "" {
		return req.Explicit, nil
	}
	if len(req.Outputs) == 0 {
		return "", nil
	}

	iterables, constants := Classify(req.Arguments)
	if len(iterables) == 0 {
		return "", nil
	}

	var inputs []string
	var outIndex string

	switch req.Mode.OrDefault() {
	case schema.MapModeBroadcast:
		if len(iterables) > MaxIterables {
			return "", schema.NewErrorf(schema.ErrCodeMapspec,
				"broadcast supports at most %d iterable arguments, got %d", MaxIterables, len(iterables)).
				WithStep(req.Step)
		}
		symbols := make([]string, len(iterables))
		for k, arg := range iterables {
			symbols[k] = string(Alphabet[k])
			inputs = append(inputs, fmt.Sprintf("%s[%s]", arg.Source.Name, symbols[k]))
		}
		outIndex = strings.Join(symbols, ",")

	case schema.MapModeZip:
		sym := string(Alphabet[0])
		for _, arg := range iterables {
			inputs = append(inputs, fmt.Sprintf("%s[%s]", arg.Source.Name, sym))
		}
		outIndex = sym

	case schema.MapModeAggregate:
		if len(iterables) != 1 {
			return "", schema.NewErrorf(schema.ErrCodeMapspec,
				"aggregate mode requires exactly one iterable argument, got %d (%s)",
				len(iterables), strings.Join(iterables.Names(), ", ")).
				WithStep(req.Step)
		}
		inputs = append(inputs, fmt.Sprintf("%s[%s]", iterables[0].Source.Name, string(Alphabet[0])))

	default:
		return "", schema.NewErrorf(schema.ErrCodeMapspec, "unknown map_mode %q", req.Mode).WithStep(req.Step)
	}

	for _, arg := range constants {
		inputs = append(inputs, arg.Name)
	}

	outputs := make([]string, len(req.Outputs))
	for k, name := range req.Outputs {
		if outIndex == "" {
			outputs[k] = name
			continue
		}
		outputs[k] = fmt.Sprintf("%s[%s]", name, outIndex)
	}

	return strings.Join(inputs, ", ") + " -> " + strings.Join(outputs, ", "), nil
}

// Classify splits arguments into iterables (references) and constants
// (literals), each in declaration order.
func Classify(args schema.ArgumentList) (iterables, constants schema.ArgumentList) {
	for _, arg := range args {
		if arg.Source.IsReference() {
			iterables = append(iterables, arg)
		} else {
			constants = append(constants, arg)
		}
	}
	return iterables, constants
}
