package run

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/rendis/flowfunc/pkg/schema"
)

// ValidTransitions defines the allowed run status transitions.
var ValidTransitions = map[schema.RunStatus][]schema.RunStatus{
	schema.RunStatusPending: {schema.RunStatusRunning},
	schema.RunStatusRunning: {schema.RunStatusSuccess, schema.RunStatusFailed},
}

// OutputDirName is the directory under a run directory holding artifacts.
const OutputDirName = "outputs"

// TransitionHook is called after a run status transition.
type TransitionHook func(from, to schema.RunStatus)

// StateTracker records the lifecycle and timing of one run. It owns exactly
// one summary and is not safe for concurrent mutation.
type StateTracker struct {
	summary *schema.Summary
	now     func() time.Time
	hooks   []TransitionHook
}

// NewStateTracker creates a tracker for runID in the pending state.
func NewStateTracker(runID string) *StateTracker {
	return &StateTracker{
		summary: &schema.Summary{RunID: runID, Status: schema.RunStatusPending},
		now:     time.Now,
	}
}

// OnTransition registers a hook called after every transition.
func (t *StateTracker) OnTransition(hook TransitionHook) {
	t.hooks = append(t.hooks, hook)
}

// Status returns the current run status.
func (t *StateTracker) Status() schema.RunStatus {
	return t.summary.Status
}

// Summary returns a copy of the current summary.
func (t *StateTracker) Summary() *schema.Summary {
	return t.summary.Clone()
}

// StartRun moves the run to running, records the start time and creates the
// output directory. Re-creating an existing directory is not an error.
func (t *StateTracker) StartRun(workflowName, runDir, workflowFile string) error {
	if err := t.transition(schema.RunStatusRunning); err != nil {
		return err
	}
	start := t.now()
	t.summary.StartTime = &start
	t.summary.WorkflowName = workflowName
	t.summary.WorkflowFile = workflowFile
	t.summary.RunDir = runDir
	t.summary.OutputDir = filepath.Join(runDir, OutputDirName)

	if err := os.MkdirAll(t.summary.OutputDir, 0o755); err != nil {
		return schema.NewErrorf(schema.ErrCodePersistence, "create output directory %s", t.summary.OutputDir).WithCause(err)
	}
	return nil
}

// UpdateUserParams records the parameters supplied by the caller.
func (t *StateTracker) UpdateUserParams(params map[string]any) error {
	if err := t.requireRunning("update user params"); err != nil {
		return err
	}
	t.summary.UserParams = maps.Clone(params)
	return nil
}

// UpdateResolvedParams records the parameters handed to the engine.
func (t *StateTracker) UpdateResolvedParams(params map[string]any) error {
	if err := t.requireRunning("update resolved params"); err != nil {
		return err
	}
	t.summary.ResolvedParams = maps.Clone(params)
	return nil
}

// UpdateArtifacts records the artifact manifest.
func (t *StateTracker) UpdateArtifacts(artifacts map[string]string) error {
	if err := t.requireRunning("update artifacts"); err != nil {
		return err
	}
	t.summary.Artifacts = maps.Clone(artifacts)
	return nil
}

// CompleteRun moves the run to a terminal status and records the end time.
// errMessage is recorded when non-empty.
func (t *StateTracker) CompleteRun(status schema.RunStatus, errMessage string) error {
	if !status.IsTerminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot complete run with non-terminal status %s", status)
	}
	if err := t.transition(status); err != nil {
		return err
	}
	end := t.now()
	t.summary.EndTime = &end
	if errMessage != "" {
		t.summary.ErrorMessage = errMessage
	}
	return nil
}

func (t *StateTracker) requireRunning(op string) error {
	if t.summary.Status != schema.RunStatusRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "cannot %s: run is %s", op, t.summary.Status).
			WithDetails(map[string]any{"run_id": t.summary.RunID})
	}
	return nil
}

func (t *StateTracker) transition(to schema.RunStatus) error {
	from := t.summary.Status
	if !slices.Contains(ValidTransitions[from], to) {
		return schema.NewError(schema.ErrCodeInvalidTransition, fmt.Sprintf("invalid run transition: %s -> %s", from, to)).
			WithDetails(map[string]any{"run_id": t.summary.RunID, "from": string(from), "to": string(to)})
	}
	t.summary.Status = to
	for _, hook := range t.hooks {
		hook(from, to)
	}
	return nil
}
