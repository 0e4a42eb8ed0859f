package run

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gopkg.in/yaml.v3"

	"github.com/rendis/flowfunc/internal/engine"
	"github.com/rendis/flowfunc/internal/functions"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/pkg/schema"
)

const wordCountDoc = `
metadata: {name: word count}
spec:
  default_module: builtins
  params:
    text: ["hello world", "go"]
  steps:
    - name: tokenize
      consumes: {text: $global.text}
      produces: tokens
    - name: count
      consumes: {values: steps.tokenize.produces.tokens}
      produces: n
      options: {map_mode: aggregate}
  artifacts:
    tokens: tokens.json
    n: n.txt
`

// staticLoader serves in-memory documents by path.
type staticLoader map[string]string

func (l staticLoader) Load(path string) (*schema.WorkflowDefinition, error) {
	doc, ok := l[path]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDefinition, "no such workflow %s", path)
	}
	var wf schema.WorkflowDefinition
	if err := yaml.Unmarshal([]byte(doc), &wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeDefinition, err.Error())
	}
	return &wf, nil
}

type mockRecorder struct {
	mu   sync.Mutex
	runs []*schema.Summary
	err  error
}

func (m *mockRecorder) RecordRun(_ context.Context, s *schema.Summary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, s)
	return m.err
}

type eventLog struct {
	mu     sync.Mutex
	events []schema.StageEvent
}

func (e *eventLog) observe(ev schema.StageEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) types(stage schema.Stage) []schema.StageEventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []schema.StageEventType
	for _, ev := range e.events {
		if ev.Stage == stage {
			out = append(out, ev.Type)
		}
	}
	return out
}

func newCoordinator(t *testing.T, docs staticLoader, mutate func(*Deps)) (*Coordinator, string) {
	t.Helper()
	reg := functions.NewDefaultRegistry()
	require.NoError(t, reg.RegisterFunc("test.fail", []functions.Param{functions.Opt("x")},
		func(context.Context, map[string]any) (any, error) { return nil, errors.New("kaboom") }))

	root := t.TempDir()
	deps := Deps{
		Loader:   docs,
		Builder:  pipeline.NewBuilder(reg, discard),
		Engine:   engine.NewLocal(engine.LocalOptions{Workers: 2, Logger: discard}),
		Logger:   discard,
		RunsRoot: root,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return NewCoordinator(deps), root
}

// --- Success ---

func TestCoordinator_WordCount(t *testing.T) {
	rec := &mockRecorder{}
	events := &eventLog{}
	c, root := newCoordinator(t, staticLoader{"wc.yaml": wordCountDoc}, func(d *Deps) {
		d.Recorder = rec
		d.Observer = events.observe
	})

	summary, err := c.Execute(context.Background(), Request{WorkflowFile: "wc.yaml"})
	require.NoError(t, err)

	assert.Equal(t, schema.RunStatusSuccess, summary.Status)
	assert.Equal(t, "word count", summary.WorkflowName)
	assert.Equal(t, filepath.Join(root, "word_count", summary.RunID), summary.RunDir)
	assert.Equal(t, map[string]any{"text": []any{"hello world", "go"}}, summary.ResolvedParams)
	assert.Empty(t, summary.UserParams)
	assert.NotNil(t, summary.DurationSeconds())

	tokens, err := os.ReadFile(filepath.Join(summary.OutputDir, "tokens.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `[["hello","world"],["go"]]`, string(tokens))
	n, err := os.ReadFile(filepath.Join(summary.OutputDir, "n.txt"))
	require.NoError(t, err)
	assert.Equal(t, "2\n", string(n))
	assert.Len(t, summary.Artifacts, 2)

	onDisk, err := ReadSummary(summary.RunDir)
	require.NoError(t, err)
	assert.Equal(t, summary.RunID, onDisk.RunID)
	assert.Equal(t, schema.RunStatusSuccess, onDisk.Status)

	require.Len(t, rec.runs, 1)
	assert.Equal(t, summary.RunID, rec.runs[0].RunID)

	for _, st := range schema.Stages {
		assert.Equal(t, []schema.StageEventType{schema.EventStageStarted, schema.EventStageCompleted}, events.types(st), st)
	}
}

func TestCoordinator_UserParamsWin(t *testing.T) {
	c, _ := newCoordinator(t, staticLoader{"wc.yaml": wordCountDoc}, nil)
	summary, err := c.Execute(context.Background(), Request{
		WorkflowFile: "wc.yaml",
		RunName:      "custom name",
		Params:       map[string]any{"text": []any{"a b c"}},
	})
	require.NoError(t, err)
	assert.Regexp(t, `^custom_name_\d{8}_\d{6}_[0-9a-f]{6}$`, summary.RunID)
	assert.Equal(t, map[string]any{"text": []any{"a b c"}}, summary.UserParams)
	assert.Equal(t, map[string]any{"text": []any{"a b c"}}, summary.ResolvedParams)
}

func TestCoordinator_ParamsFile(t *testing.T) {
	c, _ := newCoordinator(t, staticLoader{"wc.yaml": wordCountDoc}, nil)
	summary, err := c.Execute(context.Background(), Request{
		WorkflowFile: "wc.yaml",
		ParamsFile:   writeFile(t, "p.json", `{"text": ["x"]}`),
		Params:       map[string]any{"text": []any{"ignored"}},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": []any{"x"}}, summary.ResolvedParams)
}

// --- Failures ---

func TestCoordinator_ExecuteFailureWritesSummary(t *testing.T) {
	doc := `
metadata: {name: fragile}
spec:
  steps:
    - {name: seed, func: "expr:1"}
    - name: explode
      func: test.fail
      consumes: {x: steps.seed.produces.seed}
      options: {map_mode: aggregate}
  artifacts:
    seed: seed.json
`
	events := &eventLog{}
	c, _ := newCoordinator(t, staticLoader{"f.yaml": doc}, func(d *Deps) { d.Observer = events.observe })

	summary, err := c.Execute(context.Background(), Request{WorkflowFile: "f.yaml"})
	require.Error(t, err)

	assert.True(t, schema.HasCode(err, schema.ErrCodeRunFailed))
	assert.True(t, schema.HasCode(err, schema.ErrCodeExecution))
	assert.Contains(t, err.Error(), summary.RunID)

	assert.Equal(t, schema.RunStatusFailed, summary.Status)
	assert.Contains(t, summary.ErrorMessage, "kaboom")
	assert.FileExists(t, filepath.Join(summary.RunDir, SummaryFile))
	assert.NoFileExists(t, filepath.Join(summary.OutputDir, "seed.json"))
	assert.Empty(t, summary.Artifacts)

	onDisk, err := ReadSummary(summary.RunDir)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, onDisk.Status)
	assert.NotEmpty(t, onDisk.ErrorMessage)

	assert.Equal(t, []schema.StageEventType{schema.EventStageStarted, schema.EventStageFailed}, events.types(schema.StageExecute))
	assert.Empty(t, events.types(schema.StagePersistArtifacts))
	assert.Equal(t, []schema.StageEventType{schema.EventStageStarted, schema.EventStageCompleted}, events.types(schema.StageComplete))
}

func TestCoordinator_RequestObserver(t *testing.T) {
	global, perRun := &eventLog{}, &eventLog{}
	c, _ := newCoordinator(t, staticLoader{"wc.yaml": wordCountDoc}, func(d *Deps) { d.Observer = global.observe })

	summary, err := c.Execute(context.Background(), Request{WorkflowFile: "wc.yaml", Observer: perRun.observe})
	require.NoError(t, err)

	assert.Equal(t, global.events, perRun.events)
	require.NotEmpty(t, perRun.events)
	assert.Equal(t, summary.RunID, perRun.events[0].RunID)
}

func TestCoordinator_MissingParam(t *testing.T) {
	doc := `
metadata: {name: needs-x}
spec:
  steps:
    - {name: double, func: "expr:x * 2", consumes: {x: $global.x}, options: {map_mode: aggregate}}
`
	c, _ := newCoordinator(t, staticLoader{"x.yaml": doc}, nil)
	summary, err := c.Execute(context.Background(), Request{WorkflowFile: "x.yaml"})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeMissingParams))
	assert.Contains(t, err.Error(), `x`)
	assert.Equal(t, schema.RunStatusFailed, summary.Status)
	assert.FileExists(t, filepath.Join(summary.RunDir, SummaryFile))
}

func TestCoordinator_LoadFailureCreatesNothing(t *testing.T) {
	rec := &mockRecorder{}
	c, root := newCoordinator(t, staticLoader{}, func(d *Deps) { d.Recorder = rec })

	summary, err := c.Execute(context.Background(), Request{WorkflowFile: "missing.yaml"})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeDefinition))
	assert.Equal(t, schema.RunStatusFailed, summary.Status)
	assert.Equal(t, "missing.yaml", summary.WorkflowFile)
	assert.NotEmpty(t, summary.ErrorMessage)
	assert.Empty(t, summary.RunDir)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Empty(t, rec.runs)
}

func TestCoordinator_BuildFailure(t *testing.T) {
	doc := `
metadata: {name: bad}
spec:
  steps:
    - {name: a, func: nowhere.fn}
`
	c, _ := newCoordinator(t, staticLoader{"bad.yaml": doc}, nil)
	summary, err := c.Execute(context.Background(), Request{WorkflowFile: "bad.yaml"})
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeCallableNotFound))
	assert.Equal(t, schema.RunStatusFailed, summary.Status)
	assert.FileExists(t, filepath.Join(summary.RunDir, SummaryFile))
}

func TestCoordinator_RecorderFailureIsNotFatal(t *testing.T) {
	rec := &mockRecorder{err: errors.New("db locked")}
	c, _ := newCoordinator(t, staticLoader{"wc.yaml": wordCountDoc}, func(d *Deps) { d.Recorder = rec })
	summary, err := c.Execute(context.Background(), Request{WorkflowFile: "wc.yaml"})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusSuccess, summary.Status)
	assert.Len(t, rec.runs, 1)
}

// --- Concurrency ---

func TestCoordinator_ConcurrentRunsUseDistinctDirectories(t *testing.T) {
	c, root := newCoordinator(t, staticLoader{"wc.yaml": wordCountDoc}, nil)

	const runs = 2
	dirs := make([]string, runs)
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := c.Execute(context.Background(), Request{WorkflowFile: "wc.yaml"})
			assert.NoError(t, err)
			dirs[i] = s.RunDir
		}()
	}
	wg.Wait()

	assert.NotEqual(t, dirs[0], dirs[1])
	entries, err := os.ReadDir(filepath.Join(root, "word_count"))
	require.NoError(t, err)
	assert.Len(t, entries, runs)
	for _, d := range dirs {
		assert.FileExists(t, filepath.Join(d, SummaryFile))
	}
}

// --- Tracing ---

func TestCoordinator_StageSpans(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	c, _ := newCoordinator(t, staticLoader{}, func(d *Deps) { d.Tracer = tp.Tracer("test") })

	_, err := c.Execute(context.Background(), Request{WorkflowFile: "nope.yaml"})
	require.Error(t, err)

	spans := sr.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "flowfunc.stage.load_definition", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "flowfunc.run", spans[1].Name())
	assert.Equal(t, spans[1].SpanContext().SpanID(), spans[0].Parent().SpanID())
}
