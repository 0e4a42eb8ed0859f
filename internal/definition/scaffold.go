package definition

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/flowfunc/pkg/schema"
)

var invalidNameChars = regexp.MustCompile(`[^a-z0-9-]+`)

// WorkflowName lowercases s and replaces anything outside [a-z0-9-] with
// dashes so that it is accepted as metadata.name.
func WorkflowName(s string) string {
	name := invalidNameChars.ReplaceAllString(strings.ToLower(s), "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return "workflow"
	}
	return name
}

// Scaffold returns a runnable starter workflow named after name: it splits
// a list of texts into tokens, counts them per text and sums the counts.
func Scaffold(name string) ([]byte, error) {
	wf := schema.WorkflowDefinition{
		APIVersion: schema.DefaultAPIVersion,
		Kind:       schema.KindPipeline,
		Metadata: schema.Metadata{
			Name:        WorkflowName(name),
			Version:     "0.1.0",
			Description: "Counts the words of every text and in total.",
		},
		Spec: schema.WorkflowSpec{
			DefaultModule: "builtins",
			Params: map[string]schema.ParamSpec{
				"texts": {
					Value:       []any{"hello world", "flowfunc maps steps over lists"},
					Description: "texts to count words in",
					Type:        "array",
				},
			},
			Steps: []schema.StepDefinition{
				{
					Name:     "tokenize",
					Consumes: schema.ArgumentList{{Name: "text", Source: schema.GlobalRef("texts")}},
					Produces: schema.OutputNames{"tokens"},
				},
				{
					Name:     "count",
					Consumes: schema.ArgumentList{{Name: "values", Source: schema.ProducerRef("tokenize", "tokens")}},
					Produces: schema.OutputNames{"counts"},
				},
				{
					Name:     "total",
					Func:     "builtins.sum",
					Consumes: schema.ArgumentList{{Name: "values", Source: schema.ProducerRef("count", "counts")}},
					Produces: schema.OutputNames{"total"},
					Options:  &schema.StepOptions{MapMode: schema.MapModeAggregate},
				},
			},
			Artifacts: map[string]string{
				"counts": "counts.json",
				"total":  "total.txt",
			},
		},
	}

	var buf bytes.Buffer
	buf.WriteString("# Run with: flowfunc run <this file>\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "encode scaffold").WithCause(err)
	}
	if err := enc.Close(); err != nil {
		return nil, schema.NewError(schema.ErrCodeSerialization, "encode scaffold").WithCause(err)
	}
	return buf.Bytes(), nil
}
