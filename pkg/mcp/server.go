// Package mcp exposes flowfunc over the Model Context Protocol: validate,
// describe, run and diagram workflow files and browse run history.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/internal/run"
	"github.com/rendis/flowfunc/internal/store"
	"github.com/rendis/flowfunc/internal/validation"
	"github.com/rendis/flowfunc/pkg/schema"
)

// Runner executes one workflow run. *run.Coordinator satisfies it.
type Runner interface {
	Execute(ctx context.Context, req run.Request) (*schema.Summary, error)
}

// FlowfuncServerDeps holds the dependencies for creating a FlowfuncServer.
// Store is optional; without it flowfunc.runs reports that history is off.
type FlowfuncServerDeps struct {
	Loader  run.DefinitionLoader
	Builder validation.PlanBuilder
	Engine  pipeline.Engine
	Runner  Runner
	Store   store.Store
	Logger  *slog.Logger
	Version string
}

// FlowfuncServer wraps an MCP server with flowfunc tool handlers.
type FlowfuncServer struct {
	loader    run.DefinitionLoader
	builder   validation.PlanBuilder
	engine    pipeline.Engine
	validator *validation.WorkflowValidator
	runner    Runner
	store     store.Store
	events    *store.EventLog
	sessions  *SessionRegistry
	notifier  RunNotifier
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowfuncServer creates a FlowfuncServer with all 5 tools registered.
func NewFlowfuncServer(deps FlowfuncServerDeps) *FlowfuncServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &FlowfuncServer{
		loader:    deps.Loader,
		builder:   deps.Builder,
		engine:    deps.Engine,
		validator: validation.NewWorkflowValidator(deps.Builder, deps.Engine),
		runner:    deps.Runner,
		store:     deps.Store,
		sessions:  NewSessionRegistry(),
		logger:    logger,
	}
	if deps.Store != nil {
		s.events = store.NewEventLog(deps.Store, logger)
	}

	hooks := &server.Hooks{}
	hooks.AddOnUnregisterSession(func(_ context.Context, session server.ClientSession) {
		s.sessions.Remove(session.SessionID())
	})

	mcpSrv := server.NewMCPServer(
		"flowfunc",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithHooks(hooks),
		server.WithInstructions("flowfunc compiles declarative workflow files into mapped function pipelines and runs them. Use flowfunc.validate to check a workflow file, flowfunc.describe to see the compiled plan and its inputs, flowfunc.run to execute it, flowfunc.runs to browse run history and flowfunc.diagram to draw the wiring."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowfuncServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowfuncServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowfuncServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: describeTool(), Handler: s.handleDescribe},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: runsTool(), Handler: s.handleRuns},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func validateTool() mcp.Tool {
	return mcp.NewTool("flowfunc.validate",
		mcp.WithDescription("Validate a workflow file against the schema and compile it without running"),
		mcp.WithString("workflow_file", mcp.Required(), mcp.Description("Path to a .yaml, .yml or .json workflow file")),
	)
}

func describeTool() mcp.Tool {
	return mcp.NewTool("flowfunc.describe",
		mcp.WithDescription("Describe the compiled plan of a workflow: steps, wiring, mapspecs and pipeline inputs"),
		mcp.WithString("workflow_file", mcp.Required(), mcp.Description("Path to a .yaml, .yml or .json workflow file")),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("flowfunc.run",
		mcp.WithDescription("Run a workflow file and return its run summary"),
		mcp.WithString("workflow_file", mcp.Required(), mcp.Description("Path to a .yaml, .yml or .json workflow file")),
		mcp.WithObject("params", mcp.Description("Parameter overrides, layered on the workflow's params")),
		mcp.WithString("params_file", mcp.Description("Path to a .json, .yaml or .yml params file")),
		mcp.WithString("run_name", mcp.Description("Prefix for the generated run id")),
	)
}

func runsTool() mcp.Tool {
	return mcp.NewTool("flowfunc.runs",
		mcp.WithDescription("List recorded runs, or show one run with its stage history"),
		mcp.WithString("run_id", mcp.Description("Show this run instead of listing")),
		mcp.WithString("workflow", mcp.Description("Only runs of this workflow name")),
		mcp.WithString("status", mcp.Enum("running", "success", "failed"), mcp.Description("Only runs with this status")),
		mcp.WithString("since", mcp.Description("Only runs started at or after this RFC 3339 time")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 20)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("flowfunc.diagram",
		mcp.WithDescription("Draw the wiring of a workflow. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("workflow_file", mcp.Required(), mcp.Description("Path to a .yaml, .yml or .json workflow file")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
