package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// ValidationSeverity tells blocking issues from advisory ones.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a workflow file. Path points into
// the document, e.g. "spec/steps/2/consumes".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// StepIndex returns the index of the step the issue points into.
func (i ValidationIssue) StepIndex() (int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimPrefix(i.Path, "/"), "spec/steps/")
	if !ok {
		return 0, false
	}
	idx, _, _ := strings.Cut(rest, "/")
	n, err := strconv.Atoi(idx)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func (i ValidationIssue) String() string {
	if i.Path == "" || i.Path == "/" {
		return fmt.Sprintf("%s [%s] %s", i.Severity, i.Code, i.Message)
	}
	return fmt.Sprintf("%s %s [%s] %s", i.Severity, i.Path, i.Code, i.Message)
}

// ValidationResult collects the issues of one workflow file. It is valid
// while it holds no errors; warnings never block a run.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

func (r *ValidationResult) Valid() bool { return len(r.Errors) == 0 }

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// HasCode reports whether any error or warning carries code.
func (r *ValidationResult) HasCode(code string) bool {
	for _, list := range [][]ValidationIssue{r.Errors, r.Warnings} {
		for _, issue := range list {
			if issue.Code == code {
				return true
			}
		}
	}
	return false
}

// Report renders one issue per line, errors first.
func (r *ValidationResult) Report() string {
	var b strings.Builder
	for _, list := range [][]ValidationIssue{r.Errors, r.Warnings} {
		for _, issue := range list {
			b.WriteString(issue.String())
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// maxErrorsInMessage bounds how many errors ToError spells out.
const maxErrorsInMessage = 3

// ToError returns nil for a valid result, otherwise a VALIDATION_ERROR
// naming the first errors and carrying every issue in its details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msgs := make([]string, 0, maxErrorsInMessage)
	for _, issue := range r.Errors[:min(len(r.Errors), maxErrorsInMessage)] {
		msgs = append(msgs, issue.Message)
	}
	msg := strings.Join(msgs, "; ")
	if extra := len(r.Errors) - len(msgs); extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", extra)
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
