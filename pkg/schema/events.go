package schema

import "time"

// RunStatus represents the lifecycle state of a run.
type RunStatus string

const (
	RunStatusPending RunStatus = "pending"
	RunStatusRunning RunStatus = "running"
	RunStatusSuccess RunStatus = "success"
	RunStatusFailed  RunStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSuccess || s == RunStatusFailed
}

// Stage names the coordinator's run stages, in execution order.
type Stage string

const (
	StageLoadDefinition   Stage = "load_definition"
	StageSetupEnvironment Stage = "setup_environment"
	StageBuildPipeline    Stage = "build_pipeline"
	StageLoadParams       Stage = "load_params"
	StageResolveParams    Stage = "resolve_params"
	StageExecute          Stage = "execute"
	StagePersistArtifacts Stage = "persist_artifacts"
	StageComplete         Stage = "complete"
)

// Stages lists every stage in execution order.
var Stages = []Stage{
	StageLoadDefinition,
	StageSetupEnvironment,
	StageBuildPipeline,
	StageLoadParams,
	StageResolveParams,
	StageExecute,
	StagePersistArtifacts,
	StageComplete,
}

// StageEventType distinguishes stage start from stage end.
type StageEventType string

const (
	EventStageStarted   StageEventType = "stage_started"
	EventStageCompleted StageEventType = "stage_completed"
	EventStageFailed    StageEventType = "stage_failed"
)

// StageEvent reports progress of one stage of one run.
type StageEvent struct {
	RunID     string         `json:"run_id"`
	Stage     Stage          `json:"stage"`
	Type      StageEventType `json:"type"`
	Duration  time.Duration  `json:"duration,omitempty"`
	Error     string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}
