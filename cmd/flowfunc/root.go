package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"

	"github.com/rendis/flowfunc/internal/config"
	"github.com/rendis/flowfunc/internal/definition"
	"github.com/rendis/flowfunc/internal/engine"
	"github.com/rendis/flowfunc/internal/functions"
	"github.com/rendis/flowfunc/internal/logging"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/internal/run"
	"github.com/rendis/flowfunc/internal/store"
	"github.com/rendis/flowfunc/internal/validation"
	"github.com/rendis/flowfunc/pkg/schema"
)

// cli holds the global flags and the state loaded before every command.
type cli struct {
	errOut io.Writer

	configPath string
	logLevel   string
	logFormat  string
	runsDir    string

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	c := &cli{errOut: errOut}

	root := &cobra.Command{
		Use:           "flowfunc",
		Short:         "Compile declarative workflow files into mapped function pipelines and run them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.setup(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.StringVar(&c.configPath, "config", "", "config file (default: ./flowfunc.{yaml,toml,json} when present)")
	flags.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&c.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&c.runsDir, "runs-dir", "", "directory holding run directories")

	root.AddCommand(
		newRunCmd(c),
		newValidateCmd(c),
		newDescribeCmd(c),
		newGraphCmd(c),
		newNewCmd(c),
		newRunsCmd(c),
		newScheduleCmd(c),
		newSchedulerCmd(c),
		newMCPCmd(c),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration, applies flag overrides and installs the
// default logger.
func (c *cli) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = c.logFormat
	}
	if flags.Changed("runs-dir") {
		cfg.RunsDirectory = c.runsDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	c.cfg = cfg
	c.logger = logging.New(c.errOut, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(c.logger)
	return nil
}

// app is the wired set of components a command works with.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	loader    *definition.Loader
	builder   *pipeline.Builder
	engine    *engine.Local
	validator *validation.WorkflowValidator
	store     store.Store // nil when history is disabled
}

// newApp wires the components. The history store is opened only when
// withHistory is set and history is enabled in the configuration.
func (c *cli) newApp(ctx context.Context, withHistory bool) (*app, error) {
	loader, err := definition.NewLoader()
	if err != nil {
		return nil, err
	}
	builder := pipeline.NewBuilder(functions.NewDefaultRegistry(), c.logger)
	eng := engine.NewLocal(engine.LocalOptions{Workers: c.cfg.Workers, Logger: c.logger})

	a := &app{
		cfg:       c.cfg,
		logger:    c.logger,
		loader:    loader,
		builder:   builder,
		engine:    eng,
		validator: validation.NewWorkflowValidator(builder, eng),
	}
	if path := c.cfg.HistoryPath(); withHistory && path != "" {
		st, err := openHistory(ctx, path)
		if err != nil {
			return nil, err
		}
		a.store = st
	}
	return a, nil
}

// coordinator returns a run coordinator recording into the history store
// when one is open.
func (a *app) coordinator() *run.Coordinator {
	deps := run.Deps{
		Loader:   a.loader,
		Builder:  a.builder,
		Engine:   a.engine,
		Logger:   a.logger,
		RunsRoot: a.cfg.RunsDirectory,
	}
	if a.store != nil {
		deps.Recorder = a.store
		deps.Observer = store.NewEventLog(a.store, a.logger).Observe
	}
	return run.NewCoordinator(deps)
}

// compile loads and builds a workflow file.
func (a *app) compile(path string) (*schema.WorkflowDefinition, *pipeline.CompiledPlan, error) {
	wf, err := a.loader.Load(path)
	if err != nil {
		return nil, nil, err
	}
	plan, err := a.builder.Build(wf)
	if err != nil {
		return nil, nil, err
	}
	return wf, plan, nil
}

// openHistory opens (and migrates) the run-history database, creating its
// directory when needed.
func openHistory(ctx context.Context, path string) (*store.LibSQLStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	return store.Open(ctx, path)
}

// history returns the store or an error explaining that history is off.
func (a *app) history() (store.Store, error) {
	if a.store == nil {
		return nil, fmt.Errorf("run history is disabled (set history: true in the config)")
	}
	return a.store, nil
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}
