// Package mcp exposes the engine catalog and run control as MCP tools, so
// agent hosts can launch compositions and inspect their episodes.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/lattice"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Server wraps the Lattice Engine and exposes it as an MCP Server.
type Server struct {
	engine    *lattice.Engine
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP Server instance.
func NewServer(engine *lattice.Engine) *Server {
	s := &Server{
		engine:    engine,
		mcpServer: server.NewMCPServer("lattice-mcp", lattice.Version),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE starts the server on the given port using SSE.
func (s *Server) ServeSSE(ctx context.Context, port int) error {
	addr := fmt.Sprintf(":%d", port)
	baseURL := fmt.Sprintf("http://localhost:%d", port)

	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", sseServer.SSEHandler())
	mux.Handle("/message", sseServer.MessageHandler())

	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func toolJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal failed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) registerTools() {
	// TOOL: list_primitives
	s.mcpServer.AddTool(mcp.NewTool("list_primitives",
		mcp.WithDescription("List the registered primitive ids with their declared contracts."),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		type entry struct {
			ID          string `json:"id"`
			Description string `json:"description,omitempty"`
			CostTokens  int64  `json:"cost_tokens,omitempty"`
		}
		var out []entry
		for _, id := range s.engine.Primitives() {
			p, err := s.engine.Primitive(id)
			if err != nil {
				continue
			}
			out = append(out, entry{ID: p.ID, Description: p.Description, CostTokens: p.CostTokens})
		}
		return toolJSON(out)
	})

	// TOOL: describe_composition
	s.mcpServer.AddTool(mcp.NewTool("describe_composition",
		mcp.WithDescription("Return the full operator graph of a registered composition."),
		mcp.WithString("composition_id", mcp.Required(), mcp.Description("The composition to describe")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("composition_id", "")
		comp, err := s.engine.Describe(id)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("describe failed: %v", err)), nil
		}
		return toolJSON(comp)
	})

	// TOOL: run_composition
	s.mcpServer.AddTool(mcp.NewTool("run_composition",
		mcp.WithDescription("Execute a composition to completion or suspension and return the run outcome."),
		mcp.WithString("composition_id", mcp.Required(), mcp.Description("The composition to run")),
		mcp.WithString("inputs", mcp.Description("JSON object of run inputs (optional)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id := request.GetString("composition_id", "")

		inputs := make(map[string]any)
		if raw := request.GetString("inputs", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &inputs); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid inputs: %v", err)), nil
			}
		}

		run, err := s.engine.Start(id, inputs)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", err)), nil
		}
		if _, err := run.Wait(ctx); err != nil {
			slog.Warn("mcp run finished with error", "run_id", run.ID(), "error", err)
		}

		state := run.State()
		score := run.Health()
		return toolJSON(map[string]any{
			"run_id":       run.ID(),
			"status":       state.Status,
			"outputs":      state.Outputs,
			"health":       score.Overall,
			"pending_gate": state.PendingGate,
		})
	})

	// TOOL: submit_decision
	s.mcpServer.AddTool(mcp.NewTool("submit_decision",
		mcp.WithDescription("Approve or reject a suspended run awaiting human review."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("The suspended run")),
		mcp.WithBoolean("approved", mcp.Required(), mcp.Description("Whether the review approves continuation")),
		mcp.WithString("decision", mcp.Description("JSON object with extra decision fields (optional)")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID := request.GetString("run_id", "")
		run, ok := s.engine.Run(runID)
		if !ok {
			return mcp.NewToolResultError(fmt.Sprintf("run %q not found", runID)), nil
		}

		decision := make(map[string]any)
		if raw := request.GetString("decision", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &decision); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("invalid decision: %v", err)), nil
			}
		}
		decision["approved"] = request.GetBool("approved", false)

		if err := run.Resume(ctx, decision); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("resume failed: %v", err)), nil
		}
		if _, err := run.Wait(ctx); err != nil {
			slog.Warn("mcp resumed run finished with error", "run_id", run.ID(), "error", err)
		}
		return toolJSON(map[string]any{"run_id": run.ID(), "status": run.Status()})
	})

	// TOOL: get_episode
	s.mcpServer.AddTool(mcp.NewTool("get_episode",
		mcp.WithDescription("Return the recorded episode of a run: steps, rollbacks, usage, outcome."),
		mcp.WithString("run_id", mcp.Required(), mcp.Description("The run whose episode to fetch")),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID := request.GetString("run_id", "")
		ep := s.engine.Episode(runID)
		if ep == nil {
			return mcp.NewToolResultError(fmt.Sprintf("no episode for run %q", runID)), nil
		}
		return toolJSON(ep)
	})
}

func (s *Server) registerResources() {
	// EXPOSE: lattice://catalog
	s.mcpServer.AddResource(mcp.NewResource("lattice://catalog", "Registered Compositions and Primitives",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		catalog := map[string]any{
			"compositions": s.engine.Compositions(),
			"primitives":   s.engine.Primitives(),
		}
		data, err := json.Marshal(catalog)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal catalog: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "lattice://catalog",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
