package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowfunc/internal/diagram"
	"github.com/rendis/flowfunc/internal/pipeline"
	"github.com/rendis/flowfunc/internal/run"
	"github.com/rendis/flowfunc/internal/store"
	"github.com/rendis/flowfunc/pkg/schema"
)

const defaultRunsLimit = 20

// handleValidate checks a workflow file and reports errors and warnings.
func (s *FlowfuncServer) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("workflow_file")
	if err != nil {
		return mcp.NewToolResultError("workflow_file is required"), nil
	}

	_, result := s.validator.ValidateFile(s.loader, path)
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

// handleDescribe returns the compiled plan and its graph inputs.
func (s *FlowfuncServer) handleDescribe(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("workflow_file")
	if err != nil {
		return mcp.NewToolResultError("workflow_file is required"), nil
	}

	_, plan, compileErr := s.compile(path)
	if compileErr != nil {
		return mcp.NewToolResultError(compileErr.Error()), nil
	}
	graph, buildErr := s.engine.Build(plan)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("graph build failed: %v", buildErr)), nil
	}
	return marshalResult(pipeline.Description{CompiledPlan: plan, GraphInfo: s.engine.Info(graph)})
}

// handleRun executes a workflow file. Stage events are pushed to the
// calling session while the run is in progress.
func (s *FlowfuncServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("workflow_file")
	if err != nil {
		return mcp.NewToolResultError("workflow_file is required"), nil
	}
	if s.runner == nil {
		return mcp.NewToolResultError("runs are not enabled on this server"), nil
	}

	runReq := run.Request{
		WorkflowFile: path,
		RunName:      req.GetString("run_name", ""),
		ParamsFile:   req.GetString("params_file", ""),
		Params:       mcp.ParseStringMap(req, "params", nil),
	}
	sessionID := sessionIDFromContext(ctx)
	if sessionID != "" {
		runReq.Observer = func(ev schema.StageEvent) {
			s.sessions.Register(ev.RunID, sessionID)
			if notifyErr := s.notifier.Notify(ctx, ev); notifyErr != nil {
				s.logger.Warn("failed to push stage event",
					slog.String("run_id", ev.RunID),
					slog.String("error", notifyErr.Error()))
			}
		}
	}

	summary, runErr := s.runner.Execute(ctx, runReq)
	if summary != nil {
		s.sessions.Forget(summary.RunID)
	}
	if runErr != nil {
		if summary == nil {
			return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
		}
		// The summary of a failed run is still useful to the caller.
		res, marshalErr := marshalResult(summary)
		if marshalErr == nil && res != nil {
			res.IsError = true
		}
		return res, marshalErr
	}
	return marshalResult(summary)
}

// handleRuns lists recorded runs or shows one run with its stage history.
func (s *FlowfuncServer) handleRuns(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("run history is disabled"), nil
	}

	if runID := req.GetString("run_id", ""); runID != "" {
		summary, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
		stages, err := s.events.Replay(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("stage history failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"run": summary, "stages": stages})
	}

	filter := store.RunFilter{
		Workflow: req.GetString("workflow", ""),
		Limit:    req.GetInt("limit", defaultRunsLimit),
	}
	if status := req.GetString("status", ""); status != "" {
		rs := schema.RunStatus(status)
		filter.Status = &rs
	}
	if since := req.GetString("since", ""); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filter.Since = &t
		}
	}

	runs, err := s.store.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs})
}

// handleDiagram draws the wiring of a workflow file in the requested format.
func (s *FlowfuncServer) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("workflow_file")
	if err != nil {
		return mcp.NewToolResultError("workflow_file is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}

	wf, plan, compileErr := s.compile(path)
	if compileErr != nil {
		return mcp.NewToolResultError(compileErr.Error()), nil
	}
	model, buildErr := diagram.Build(plan, wf)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", buildErr)), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, imgErr := diagram.RenderImage(ctx, model, diagram.FormatPNG)
		if imgErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", imgErr)), nil
		}
		return mcp.NewToolResultImage(model.Title, base64.StdEncoding.EncodeToString(png), "image/png"), nil
	}
}

// --- Internal helpers ---

// compile loads and builds a workflow file.
func (s *FlowfuncServer) compile(path string) (*schema.WorkflowDefinition, *pipeline.CompiledPlan, error) {
	wf, err := s.loader.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("load failed: %w", err)
	}
	plan, err := s.builder.Build(wf)
	if err != nil {
		return nil, nil, fmt.Errorf("build failed: %w", err)
	}
	return wf, plan, nil
}

func sessionIDFromContext(ctx context.Context) string {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		return session.SessionID()
	}
	return ""
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
