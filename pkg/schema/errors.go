package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	// Build errors: malformed workflow, always fatal to the build.
	ErrCodeBuild            = "BUILD_ERROR"
	ErrCodeDuplicateStep    = "DUPLICATE_STEP"
	ErrCodeCallableNotFound = "CALLABLE_NOT_FOUND"
	ErrCodeInvalidArgument  = "INVALID_ARGUMENT"
	ErrCodeResourceConflict = "RESOURCE_CONFLICT"
	ErrCodeMapspec          = "MAPSPEC_ERROR"
	ErrCodeCycleDetected    = "CYCLE_DETECTED"

	// Parameter errors: fatal before execution.
	ErrCodeParam         = "PARAM_ERROR"
	ErrCodeMissingParams = "MISSING_PARAMS"

	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodePersistence       = "PERSISTENCE_ERROR"
	ErrCodeSerialization     = "SERIALIZATION_ERROR"
	ErrCodeDefinition        = "DEFINITION_ERROR"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeRunFailed         = "RUN_FAILED"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeStore             = "STORE_ERROR"
)

// FlowError is the structured error type for all flowfunc operations.
type FlowError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	StepName string         `json:"step_name,omitempty"`
	Cause    error          `json:"-"`
}

func (e *FlowError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	if e.StepName != "" {
		return fmt.Sprintf("[%s] step %s: %s", e.Code, e.StepName, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *FlowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new FlowError.
func NewError(code, message string) *FlowError {
	return &FlowError{Code: code, Message: message}
}

// NewErrorf creates a new FlowError with a formatted message.
func NewErrorf(code, format string, args ...any) *FlowError {
	return &FlowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithStep attaches a step name to the error.
func (e *FlowError) WithStep(stepName string) *FlowError {
	e.StepName = stepName
	return e
}

// WithCause attaches an underlying cause.
func (e *FlowError) WithCause(err error) *FlowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *FlowError) WithDetails(details map[string]any) *FlowError {
	e.Details = details
	return e
}

// HasCode reports whether any FlowError in err's chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var fe *FlowError
		if !errors.As(err, &fe) {
			return false
		}
		if fe.Code == code {
			return true
		}
		err = fe.Cause
	}
	return false
}
