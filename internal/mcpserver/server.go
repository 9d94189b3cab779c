// Package mcpserver exposes the template service as Model Context Protocol
// tools so an assistant can search, inspect and regenerate templates.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/nethalo/sqlforge/internal/model"
	"github.com/nethalo/sqlforge/internal/output"
	"github.com/nethalo/sqlforge/internal/service"
	"github.com/nethalo/sqlforge/internal/store"
)

// Version is reported to MCP clients during initialization.
var Version = "dev"

// Backend is the part of the service the tools call.
type Backend interface {
	Search(ctx context.Context, text string, tier model.Tier) ([]store.Summary, error)
	List(ctx context.Context, tier model.Tier, limit int) ([]store.Summary, error)
	GetDetails(ctx context.Context, identifier string) (*service.Details, error)
	Regenerate(ctx context.Context, req service.RegenerateRequest) (*service.RegenerateResult, error)
	History(ctx context.Context, identifier string) ([]model.HistoryRecord, error)
	Status(ctx context.Context) (*service.Status, error)
}

// Server registers the template tools on an MCP server.
type Server struct {
	backend Backend
	logger  *slog.Logger
	format  string
	mcp     *server.MCPServer
}

// New builds the MCP server. format selects how tool results are rendered
// ("plain", "markdown" or "json").
func New(backend Backend, format string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if format == "" || format == "text" {
		format = "plain"
	}
	s := &Server{backend: backend, logger: logger, format: format}

	s.mcp = server.NewMCPServer(
		"sqlforge",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)
	s.registerTools()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// ServeStdio serves MCP over stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	s.logger.Info("mcp server listening", "transport", "stdio")
	return server.ServeStdio(s.mcp)
}

// ServeSSE serves MCP over server-sent events on addr until ctx is cancelled.
func (s *Server) ServeSSE(ctx context.Context, addr string) error {
	sse := server.NewSSEServer(s.mcp)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("mcp server listening", "transport", "sse", "addr", addr)
		errCh <- sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sse.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerTools() {
	s.mcp.AddTool(mcp.NewTool("search_queries",
		mcp.WithDescription("Search stored query templates by keyword. Matches the question, description, entities and tags."),
		mcp.WithString("search_text", mcp.Required(), mcp.Description("Keyword, e.g. 'trips per station'")),
		mcp.WithString("tier", mcp.Description("Optional complexity filter: A (single entity), B (two entities), C (three or more)")),
	), s.handleSearch)

	s.mcp.AddTool(mcp.NewTool("get_query_details",
		mcp.WithDescription("Show the structure of a template: fixed joins, editable WHERE conditions and select column presets. Call this before modify_where_conditions."),
		mcp.WithString("query_id", mcp.Required(), mcp.Description("Template identifier")),
	), s.handleDetails)

	s.mcp.AddTool(mcp.NewTool("modify_where_conditions",
		mcp.WithDescription("Create a new SQL statement from a template by replacing its WHERE conditions. Joins are never changed."),
		mcp.WithString("query_id", mcp.Required(), mcp.Description("Identifier of the template to derive from")),
		mcp.WithString("new_conditions", mcp.Required(),
			mcp.Description(`JSON array of conditions: [{"column": "t.col", "operator": "=", "value": "'x'", "type": "filter"}]`)),
		mcp.WithString("user_question", mcp.Description("The natural language question being answered")),
		mcp.WithString("category", mcp.Description("Select column preset, e.g. all, basic, detail"), mcp.DefaultString(model.DefaultCategory)),
	), s.handleModify)

	s.mcp.AddTool(mcp.NewTool("list_queries",
		mcp.WithDescription("List the most recent templates."),
		mcp.WithString("tier", mcp.Description("Optional complexity filter: A, B or C")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of templates"), mcp.DefaultNumber(service.DefaultListLimit)),
	), s.handleList)

	s.mcp.AddTool(mcp.NewTool("check_system_status",
		mcp.WithDescription("Report template, derived template and history counts."),
	), s.handleStatus)

	s.mcp.AddTool(mcp.NewTool("query_history",
		mcp.WithDescription("Show archived versions of a template, newest first."),
		mcp.WithString("query_id", mcp.Required(), mcp.Description("Template identifier")),
	), s.handleHistory)
}

func (s *Server) handleSearch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	text := stringArg(args, "search_text", "")
	tier, err := tierArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	items, err := s.backend.Search(ctx, text, tier)
	if err != nil {
		return s.toolError("search_queries", err), nil
	}
	return s.render(func(r output.Renderer) {
		r.RenderTemplates(fmt.Sprintf("Templates matching %q", text), items)
	}), nil
}

func (s *Server) handleDetails(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(arguments(req), "query_id", "")
	if id == "" {
		return mcp.NewToolResultError("query_id is required"), nil
	}
	d, err := s.backend.GetDetails(ctx, id)
	if err != nil {
		return s.toolError("get_query_details", err), nil
	}
	return s.render(func(r output.Renderer) { r.RenderDetails(d) }), nil
}

func (s *Server) handleModify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	id := stringArg(args, "query_id", "")
	if id == "" {
		return mcp.NewToolResultError("query_id is required"), nil
	}
	preds, err := ParseConditions(stringArg(args, "new_conditions", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	res, err := s.backend.Regenerate(ctx, service.RegenerateRequest{
		Identifier: id,
		Predicates: preds,
		Question:   stringArg(args, "user_question", ""),
		Category:   stringArg(args, "category", model.DefaultCategory),
	})
	if err != nil {
		return s.toolError("modify_where_conditions", err), nil
	}
	s.logger.Info("template regenerated", "parent", res.ParentIdentifier, "id", res.Identifier)
	return s.render(func(r output.Renderer) { r.RenderRegenerate(res) }), nil
}

func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(req)
	tier, err := tierArg(args)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	limit := service.DefaultListLimit
	if v, ok := args["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	items, err := s.backend.List(ctx, tier, limit)
	if err != nil {
		return s.toolError("list_queries", err), nil
	}
	return s.render(func(r output.Renderer) { r.RenderTemplates("Recent templates", items) }), nil
}

func (s *Server) handleStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := s.backend.Status(ctx)
	if err != nil {
		return s.toolError("check_system_status", err), nil
	}
	return s.render(func(r output.Renderer) { r.RenderStatus(st) }), nil
}

func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := stringArg(arguments(req), "query_id", "")
	if id == "" {
		return mcp.NewToolResultError("query_id is required"), nil
	}
	records, err := s.backend.History(ctx, id)
	if err != nil {
		return s.toolError("query_history", err), nil
	}
	return s.render(func(r output.Renderer) { r.RenderHistory(id, records) }), nil
}

func (s *Server) render(fn func(output.Renderer)) *mcp.CallToolResult {
	var buf bytes.Buffer
	fn(output.NewRenderer(s.format, &buf))
	return mcp.NewToolResultText(buf.String())
}

// toolError reports caller mistakes back to the client and logs the rest.
func (s *Server) toolError(tool string, err error) *mcp.CallToolResult {
	var verr *model.ValidationError
	switch {
	case errors.Is(err, model.ErrNotFound), errors.As(err, &verr):
		s.logger.Debug("tool rejected request", "tool", tool, "error", err)
	default:
		s.logger.Error("tool failed", "tool", tool, "error", err)
	}
	return mcp.NewToolResultError(err.Error())
}

// ParseConditions decodes the JSON array accepted by modify_where_conditions.
func ParseConditions(raw string) ([]model.Predicate, error) {
	if raw == "" {
		return nil, errors.New("new_conditions is required")
	}
	var preds []model.Predicate
	if err := json.Unmarshal([]byte(raw), &preds); err != nil {
		return nil, fmt.Errorf("new_conditions must be a JSON array of conditions: %w", err)
	}
	return preds, nil
}

func arguments(req mcp.CallToolRequest) map[string]any {
	args, _ := any(req.Params.Arguments).(map[string]any)
	return args
}

func stringArg(args map[string]any, key, def string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return def
}

func tierArg(args map[string]any) (model.Tier, error) {
	raw := stringArg(args, "tier", "")
	if raw == "" {
		return "", nil
	}
	tier, ok := model.ParseTier(raw)
	if !ok {
		return "", fmt.Errorf("unknown tier %q: want A, B or C", raw)
	}
	return tier, nil
}
