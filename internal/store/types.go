package store

import (
	"time"

	"github.com/rendis/flowfunc/pkg/schema"
)

// StageRecord is a persisted stage event with its per-run sequence number.
type StageRecord struct {
	schema.StageEvent
	Sequence int64 `json:"sequence"`
}

// StageState is the replayed state of one stage of a run.
type StageState struct {
	Stage       schema.Stage  `json:"stage"`
	Status      string        `json:"status"` // running, completed, failed
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	Duration    time.Duration `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// Stage status values.
const (
	StageRunning   = "running"
	StageCompleted = "completed"
	StageFailed    = "failed"
)

// ScheduledRun is a cron-triggered workflow run.
type ScheduledRun struct {
	ID             string           `json:"id"`
	WorkflowFile   string           `json:"workflow_file"`
	RunName        string           `json:"run_name,omitempty"`
	CronExpression string           `json:"cron_expression"`
	Params         map[string]any   `json:"params,omitempty"`
	Enabled        bool             `json:"enabled"`
	LastRunAt      *time.Time       `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time       `json:"next_run_at,omitempty"`
	LastRunID      string           `json:"last_run_id,omitempty"`
	LastRunStatus  schema.RunStatus `json:"last_run_status,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
}

// --- Filter and update types ---

// RunFilter specifies criteria for listing runs. Results are newest first.
type RunFilter struct {
	Workflow string            `json:"workflow,omitempty"`
	Status   *schema.RunStatus `json:"status,omitempty"`
	Since    *time.Time        `json:"since,omitempty"`
	Limit    int               `json:"limit,omitempty"`
	Offset   int               `json:"offset,omitempty"`
}

// ScheduledRunFilter specifies criteria for listing scheduled runs.
type ScheduledRunFilter struct {
	Enabled *bool `json:"enabled,omitempty"`
	Limit   int   `json:"limit,omitempty"`
}

// ScheduledRunUpdate specifies mutable fields of a scheduled run.
type ScheduledRunUpdate struct {
	Enabled       *bool             `json:"enabled,omitempty"`
	LastRunAt     *time.Time        `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time        `json:"next_run_at,omitempty"`
	LastRunID     *string           `json:"last_run_id,omitempty"`
	LastRunStatus *schema.RunStatus `json:"last_run_status,omitempty"`
}
