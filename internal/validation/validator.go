// Package validation checks workflow files before they are run: the raw
// document against a JSON Schema, then the decoded definition by building it.
package validation

import (
	"errors"

	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

// Warning codes.
const (
	WarnZipLength       = "ZIP_LENGTH"
	WarnUnusedParam     = "UNUSED_PARAM"
	WarnUnknownArtifact = "UNKNOWN_ARTIFACT"
)

// PlanBuilder compiles a definition. *pipeline.Builder satisfies it.
type PlanBuilder interface {
	Build(wf *schema.WorkflowDefinition) (*pipeline.CompiledPlan, error)
}

// FromError turns a load or build error into a ValidationResult, expanding
// schema violations into one issue each.
func FromError(err error) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if err == nil {
		return result
	}

	var fe *schema.FlowError
	if !errors.As(err, &fe) {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := fe.Details["violations"].([]Violation); ok {
		for _, v := range violations {
			result.AddError(v.Path, fe.Code, v.Message)
		}
		return result
	}

	path := "/"
	if fe.StepName != "" {
		path = "steps/" + fe.StepName
	}
	msg := fe.Message
	if fe.Cause != nil {
		msg += ": " + fe.Cause.Error()
	}
	result.AddError(path, fe.Code, msg)
	return result
}
