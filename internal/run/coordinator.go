// Package run drives one run of a workflow through its lifecycle: load,
// build, resolve parameters, execute, persist artifacts and summarize.
package run

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rendis/flowfunc/internal/logging"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/internal/serializer"
	"github.com/rendis/flowfunc/pkg/schema"
)

// tracerName is the instrumentation scope of run spans.
const tracerName = "flowfunc/run"

// DefaultRunsRoot is where run directories are created when none is configured.
const DefaultRunsRoot = ".flowfunc_runs"

// DefinitionLoader reads a workflow file.
type DefinitionLoader interface {
	Load(path string) (*schema.WorkflowDefinition, error)
}

// PlanBuilder compiles a workflow definition.
type PlanBuilder interface {
	Build(wf *schema.WorkflowDefinition) (*pipeline.CompiledPlan, error)
}

// Recorder keeps the history of completed runs.
type Recorder interface {
	RecordRun(ctx context.Context, s *schema.Summary) error
}

// StageObserver receives stage progress events.
type StageObserver func(schema.StageEvent)

// Deps wires the coordinator's collaborators. Loader, Builder and Engine
// are required.
type Deps struct {
	Loader      DefinitionLoader
	Builder     PlanBuilder
	Engine      pipeline.Engine
	Serializers SerializerLookup
	Recorder    Recorder
	Observer    StageObserver
	Tracer      trace.Tracer
	Logger      *slog.Logger
	RunsRoot    string
	Now         func() time.Time
}

// Request describes one run.
type Request struct {
	WorkflowFile string
	RunName      string
	ParamsFile   string
	Params       map[string]any

	// Observer receives this run's stage events after Deps.Observer.
	Observer StageObserver
}

// RunContext carries the state of one run from stage to stage.
type RunContext struct {
	Request    Request
	RunID      string
	Definition *schema.WorkflowDefinition
	RunDir     string
	Plan       *pipeline.CompiledPlan
	Graph      pipeline.Graph
	Info       pipeline.GraphInfo
	UserParams map[string]any
	Params     map[string]any
	Results    pipeline.ResultMap
	Tracker    *StateTracker
}

// Coordinator runs workflows. It holds no per-run state, so concurrent
// Execute calls are independent.
type Coordinator struct {
	deps Deps
}

type stageFunc func(ctx context.Context, rc *RunContext) error

// NewCoordinator creates a Coordinator, filling defaults for optional deps.
func NewCoordinator(deps Deps) *Coordinator {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	if deps.RunsRoot == "" {
		deps.RunsRoot = DefaultRunsRoot
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Serializers == nil {
		deps.Serializers = serializer.NewRegistry()
	}
	return &Coordinator{deps: deps}
}

// Execute runs every stage in order. It returns the final summary and, on
// failure, a RUN_FAILED error carrying the run id. The summary is written to
// disk whenever the run reached the running state.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*schema.Summary, error) {
	rc := &RunContext{
		Request: req,
		RunID:   NewRunID(req.RunName, c.deps.Now()),
	}
	rc.Tracker = NewStateTracker(rc.RunID)
	rc.Tracker.now = c.deps.Now

	ctx = logging.WithRunID(ctx, rc.RunID)
	ctx, span := c.deps.Tracer.Start(ctx, "flowfunc.run",
		trace.WithAttributes(
			attribute.String("flowfunc.run_id", rc.RunID),
			attribute.String("flowfunc.workflow_file", req.WorkflowFile),
		),
	)
	defer span.End()

	rc.Tracker.OnTransition(func(from, to schema.RunStatus) {
		c.deps.Logger.DebugContext(ctx, "run status changed", slog.String("from", string(from)), slog.String("to", string(to)))
	})

	if err := c.stage(ctx, rc, schema.StageLoadDefinition, c.loadDefinition); err != nil {
		summary := rc.Tracker.Summary()
		summary.WorkflowFile = req.WorkflowFile
		summary.Status = schema.RunStatusFailed
		summary.ErrorMessage = err.Error()
		c.endSpan(span, err)
		return summary, runFailed(rc.RunID, err)
	}
	ctx = logging.WithWorkflow(ctx, rc.Definition.Name())
	span.SetAttributes(attribute.String("flowfunc.workflow", rc.Definition.Name()))

	stages := []struct {
		stage schema.Stage
		fn    stageFunc
	}{
		{schema.StageSetupEnvironment, c.setupEnvironment},
		{schema.StageBuildPipeline, c.buildPipeline},
		{schema.StageLoadParams, c.loadParams},
		{schema.StageResolveParams, c.resolveParams},
		{schema.StageExecute, c.execute},
		{schema.StagePersistArtifacts, c.persistArtifacts},
	}

	var runErr error
	for _, s := range stages {
		if runErr = c.stage(ctx, rc, s.stage, s.fn); runErr != nil {
			break
		}
	}

	summary := c.complete(ctx, rc, runErr)
	c.endSpan(span, runErr)
	if runErr != nil {
		return summary, runFailed(rc.RunID, runErr)
	}
	return summary, nil
}

// stage runs one stage inside its own span, reporting start and end.
func (c *Coordinator) stage(ctx context.Context, rc *RunContext, stage schema.Stage, fn stageFunc) error {
	ctx = logging.WithStage(ctx, string(stage))
	ctx, span := c.deps.Tracer.Start(ctx, "flowfunc.stage."+string(stage))
	defer span.End()

	start := c.deps.Now()
	c.emit(rc, schema.StageEvent{RunID: rc.RunID, Stage: stage, Type: schema.EventStageStarted, Timestamp: start})
	c.deps.Logger.DebugContext(ctx, "stage started")

	err := fn(ctx, rc)
	elapsed := c.deps.Now().Sub(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.deps.Logger.ErrorContext(ctx, "stage failed", slog.Duration("duration", elapsed), slog.String("error", err.Error()))
		c.emit(rc, schema.StageEvent{RunID: rc.RunID, Stage: stage, Type: schema.EventStageFailed, Duration: elapsed, Error: err.Error(), Timestamp: c.deps.Now()})
		return err
	}

	span.SetStatus(codes.Ok, "")
	c.deps.Logger.DebugContext(ctx, "stage completed", slog.Duration("duration", elapsed))
	c.emit(rc, schema.StageEvent{RunID: rc.RunID, Stage: stage, Type: schema.EventStageCompleted, Duration: elapsed, Timestamp: c.deps.Now()})
	return nil
}

func (c *Coordinator) emit(rc *RunContext, ev schema.StageEvent) {
	if c.deps.Observer != nil {
		c.deps.Observer(ev)
	}
	if rc.Request.Observer != nil {
		rc.Request.Observer(ev)
	}
}

func (c *Coordinator) endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// --- Stages ---

func (c *Coordinator) loadDefinition(_ context.Context, rc *RunContext) error {
	wf, err := c.deps.Loader.Load(rc.Request.WorkflowFile)
	if err != nil {
		return err
	}
	rc.Definition = wf
	return nil
}

func (c *Coordinator) setupEnvironment(ctx context.Context, rc *RunContext) error {
	rc.RunDir = RunDir(c.deps.RunsRoot, rc.Definition.Name(), rc.RunID)
	if err := rc.Tracker.StartRun(rc.Definition.Name(), rc.RunDir, rc.Request.WorkflowFile); err != nil {
		return err
	}
	c.deps.Logger.InfoContext(ctx, "run started", slog.String("run_dir", rc.RunDir))
	return nil
}

func (c *Coordinator) buildPipeline(_ context.Context, rc *RunContext) error {
	plan, err := c.deps.Builder.Build(rc.Definition)
	if err != nil {
		return err
	}
	graph, err := c.deps.Engine.Build(plan)
	if err != nil {
		return err
	}
	rc.Plan = plan
	rc.Graph = graph
	rc.Info = c.deps.Engine.Info(graph)
	return nil
}

func (c *Coordinator) loadParams(_ context.Context, rc *RunContext) error {
	params, err := ParamProvider{File: rc.Request.ParamsFile, Values: rc.Request.Params}.Load()
	if err != nil {
		return err
	}
	rc.UserParams = params
	return rc.Tracker.UpdateUserParams(params)
}

func (c *Coordinator) resolveParams(ctx context.Context, rc *RunContext) error {
	resolved, err := ResolveParams(rc.UserParams, rc.Definition, rc.Plan.Options.Scope, rc.Info, logging.LogWith(ctx, c.deps.Logger))
	if err != nil {
		return err
	}
	rc.Params = resolved
	return rc.Tracker.UpdateResolvedParams(resolved)
}

func (c *Coordinator) execute(ctx context.Context, rc *RunContext) error {
	results, err := c.deps.Engine.Execute(ctx, rc.Graph, rc.Params)
	if err != nil {
		return err
	}
	rc.Results = results
	return nil
}

func (c *Coordinator) persistArtifacts(ctx context.Context, rc *RunContext) error {
	if len(rc.Definition.Spec.Artifacts) == 0 {
		return nil
	}
	persister := &ArtifactPersister{Serializers: c.deps.Serializers, Logger: logging.LogWith(ctx, c.deps.Logger)}
	manifest := persister.Persist(rc.Definition.Spec.Artifacts, rc.Results, rc.Plan.Options.Scope, rc.Tracker.summary.OutputDir)
	return rc.Tracker.UpdateArtifacts(manifest)
}

// complete finalizes the tracker, writes summary.json and records the run.
// It runs after every other stage regardless of their outcome.
func (c *Coordinator) complete(ctx context.Context, rc *RunContext, runErr error) *schema.Summary {
	_ = c.stage(ctx, rc, schema.StageComplete, func(ctx context.Context, rc *RunContext) error {
		if rc.Tracker.Status() != schema.RunStatusRunning {
			return nil
		}
		status, msg := schema.RunStatusSuccess, ""
		if runErr != nil {
			status, msg = schema.RunStatusFailed, runErr.Error()
		}
		if err := rc.Tracker.CompleteRun(status, msg); err != nil {
			return err
		}

		summary := rc.Tracker.Summary()
		if path, err := WriteSummary(summary); err != nil {
			c.deps.Logger.ErrorContext(ctx, "failed to write summary", slog.String("error", err.Error()))
		} else {
			c.deps.Logger.InfoContext(ctx, "run finished",
				slog.String("status", string(summary.Status)),
				slog.String("summary", path))
		}

		if c.deps.Recorder != nil {
			if err := c.deps.Recorder.RecordRun(ctx, summary); err != nil {
				c.deps.Logger.WarnContext(ctx, "failed to record run history", slog.String("error", err.Error()))
			}
		}
		return nil
	})

	summary := rc.Tracker.Summary()
	if summary.Status == schema.RunStatusPending {
		// Never started: nothing on disk to describe.
		summary.Status = schema.RunStatusFailed
		if rc.Definition != nil {
			summary.WorkflowName = rc.Definition.Name()
		}
		summary.WorkflowFile = rc.Request.WorkflowFile
		if runErr != nil {
			summary.ErrorMessage = runErr.Error()
		}
	}
	return summary
}

func runFailed(runID string, err error) error {
	return schema.NewErrorf(schema.ErrCodeRunFailed, "run %s failed", runID).
		WithDetails(map[string]any{"run_id": runID}).
		WithCause(err)
}
