// Package mcp exposes the patch engine as Model Context Protocol tools, so
// external agents can read canvases and propose transformation programs.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/easel/internal/logging"
	"github.com/aretw0/easel/pkg/agent"
	"github.com/aretw0/easel/pkg/canvas"
	"github.com/aretw0/easel/pkg/domain"
	"github.com/aretw0/easel/pkg/patch"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// DefaultSessionID is used by propose_transform when the caller names none.
const DefaultSessionID = "mcp"

// CanvasArgs selects a canvas.
type CanvasArgs struct {
	CanvasID string `json:"canvas_id"`
}

// ProgramArgs carries a transformation program.
type ProgramArgs struct {
	CanvasID  string `json:"canvas_id"`
	SessionID string `json:"session_id,omitempty"`
	Program   string `json:"program"`
}

// PatchArgs selects a patch.
type PatchArgs struct {
	PatchID string `json:"patch_id"`
}

// TemplatesResponse lists the node templates.
type TemplatesResponse struct {
	Templates []domain.Template `json:"templates" jsonschema_description:"Node templates available on canvases"`
}

// PatchResponse is a proposed or resolved patch.
type PatchResponse struct {
	Patch    *domain.Patch     `json:"patch" jsonschema_description:"The patch and its current state"`
	Summary  *domain.GraphDiff `json:"summary,omitempty" jsonschema_description:"What accepting the patch changes"`
	Language string            `json:"language,omitempty"`
}

// Server wraps the canvas services as an MCP server.
type Server struct {
	canvases  *canvas.Service
	patches   *patch.Manager
	agent     *agent.Orchestrator
	language  string
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithLanguage names the program language in tool descriptions.
func WithLanguage(language string) Option {
	return func(s *Server) {
		s.language = language
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(canvases *canvas.Service, patches *patch.Manager, orch *agent.Orchestrator, version string, opts ...Option) *Server {
	s := &Server{
		canvases: canvases,
		patches:  patches,
		agent:    orch,
		language: "javascript",
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mcpServer = server.NewMCPServer("easel-mcp", strings.TrimSpace(version))
	s.registerTools()
	s.registerResources()
	return s
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves over SSE on addr until ctx ends.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP Server listening (SSE)", "address", addr)
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

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool("get_canvas",
		mcp.WithDescription("Get the full graph of a canvas: nodes, handles, edges and the templates they use."),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Canvas ID")),
		mcp.WithOutputSchema[domain.Graph](),
	), mcp.NewStructuredToolHandler(s.handleGetCanvas))

	s.mcpServer.AddTool(mcp.NewTool("list_templates",
		mcp.WithDescription("List the node templates with their fixed ports and default config."),
		mcp.WithOutputSchema[TemplatesResponse](),
	), mcp.NewStructuredToolHandler(s.handleListTemplates))

	programDesc := fmt.Sprintf("A %s transformation program. It receives nodes, edges, handles, templates "+
		"and generateId, and returns the complete {nodes, edges, handles} of the canvas.", s.language)

	s.mcpServer.AddTool(mcp.NewTool("dry_run_transform",
		mcp.WithDescription("Run a transformation program against a canvas and report what would change, without proposing anything."),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Canvas ID")),
		mcp.WithString("program", mcp.Required(), mcp.Description(programDesc)),
		mcp.WithOutputSchema[canvas.Result](),
	), mcp.NewStructuredToolHandler(s.handleDryRun))

	s.mcpServer.AddTool(mcp.NewTool("propose_transform",
		mcp.WithDescription("Run a transformation program and propose its result as a patch for a human to review. "+
			"The canvas stays locked to the session until the patch is accepted, rejected or expires."),
		mcp.WithString("canvas_id", mcp.Required(), mcp.Description("Canvas ID")),
		mcp.WithString("program", mcp.Required(), mcp.Description(programDesc)),
		mcp.WithString("session_id", mcp.Description("Agent session ID (default: "+DefaultSessionID+")")),
		mcp.WithOutputSchema[PatchResponse](),
	), mcp.NewStructuredToolHandler(s.handlePropose))

	s.mcpServer.AddTool(mcp.NewTool("get_patch",
		mcp.WithDescription("Get a patch and its review state."),
		mcp.WithString("patch_id", mcp.Required(), mcp.Description("Patch ID")),
		mcp.WithOutputSchema[PatchResponse](),
	), mcp.NewStructuredToolHandler(s.handleGetPatch))
}

func (s *Server) handleGetCanvas(ctx context.Context, request mcp.CallToolRequest, args CanvasArgs) (domain.Graph, error) {
	if args.CanvasID == "" {
		return domain.Graph{}, errors.New("canvas_id is required")
	}
	g, err := s.canvases.Get(ctx, args.CanvasID)
	if err != nil {
		return domain.Graph{}, fmt.Errorf("get canvas failed: %w", err)
	}
	return *g, nil
}

func (s *Server) handleListTemplates(ctx context.Context, request mcp.CallToolRequest, args map[string]any) (TemplatesResponse, error) {
	return TemplatesResponse{Templates: s.canvases.Catalog().List()}, nil
}

func (s *Server) handleDryRun(ctx context.Context, request mcp.CallToolRequest, args ProgramArgs) (canvas.Result, error) {
	if args.CanvasID == "" || strings.TrimSpace(args.Program) == "" {
		return canvas.Result{}, errors.New("canvas_id and program are required")
	}
	res, err := s.agent.DryRun(ctx, args.CanvasID, args.Program)
	if err != nil {
		return canvas.Result{}, programError(err)
	}
	return *res, nil
}

func (s *Server) handlePropose(ctx context.Context, request mcp.CallToolRequest, args ProgramArgs) (PatchResponse, error) {
	if args.CanvasID == "" || strings.TrimSpace(args.Program) == "" {
		return PatchResponse{}, errors.New("canvas_id and program are required")
	}
	sessionID := args.SessionID
	if sessionID == "" {
		sessionID = DefaultSessionID
	}
	p, err := s.agent.Submit(ctx, args.CanvasID, sessionID, args.Program)
	if err != nil {
		s.logger.Warn("MCP propose rejected", "canvas_id", args.CanvasID, "session_id", sessionID, "err", err)
		return PatchResponse{}, programError(err)
	}
	s.logger.Info("MCP proposed patch", "canvas_id", args.CanvasID, "session_id", sessionID, "patch_id", p.ID)
	return PatchResponse{Patch: p, Summary: p.Summary, Language: s.language}, nil
}

func (s *Server) handleGetPatch(ctx context.Context, request mcp.CallToolRequest, args PatchArgs) (PatchResponse, error) {
	if args.PatchID == "" {
		return PatchResponse{}, errors.New("patch_id is required")
	}
	p, err := s.patches.Get(ctx, args.PatchID)
	if err != nil {
		return PatchResponse{}, fmt.Errorf("get patch failed: %w", err)
	}
	return PatchResponse{Patch: p, Summary: p.Summary}, nil
}

// programError turns retryable failures into the diagnostic an agent can
// act on.
func programError(err error) error {
	if domain.Retryable(err) {
		return fmt.Errorf("program rejected: %s", domain.Diagnostic(err))
	}
	return err
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource("easel://templates", "Node Templates",
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.Marshal(s.canvases.Catalog().List())
		if err != nil {
			return nil, fmt.Errorf("failed to encode templates: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      "easel://templates",
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}
