// Package mcp exposes the human review queue to reviewer tooling over the
// Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/google/uuid"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/VoiceForge/internal/domain/defect"
	"github.com/Strob0t/VoiceForge/internal/domain/execution"
	"github.com/Strob0t/VoiceForge/internal/domain/review"
	"github.com/Strob0t/VoiceForge/internal/middleware"
)

// ReviewQueue is the subset of the review queue service the tools call.
type ReviewQueue interface {
	Next(ctx context.Context, reviewerID, languagePref string) (*review.QueueItem, error)
	Claim(ctx context.Context, itemID, reviewerID string) (bool, error)
	Release(ctx context.Context, itemID string) (bool, error)
	Complete(ctx context.Context, itemID, reviewerID string, req review.CompleteRequest) (bool, error)
	Detail(ctx context.Context, itemID string) (*review.Detail, error)
	Stats(ctx context.Context) (review.Stats, error)
}

// ExecutionReader returns execution summaries.
type ExecutionReader interface {
	Summary(ctx context.Context, executionID string) (*execution.Summary, error)
}

// DefectLister lists filed defects.
type DefectLister interface {
	ListDefects(ctx context.Context, scenarioID string) ([]defect.Defect, error)
}

// ServerConfig holds listener and identity settings.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the services behind the tools. Nil deps make their tools
// answer with an error result.
type ServerDeps struct {
	Reviews    ReviewQueue
	Executions ExecutionReader
	Defects    DefectLister
}

// Server serves MCP over streamable HTTP.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer

	mu      sync.Mutex
	httpSrv *http.Server
}

// NewServer creates a Server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(true),
			mcpserver.WithResourceCapabilities(false, false),
		),
	}
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying protocol server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the HTTP handler serving the MCP endpoint, behind API key
// auth when one is configured.
func (s *Server) Handler() http.Handler {
	streamable := mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithHTTPContextFunc(tenantFromRequest),
	)
	return AuthMiddleware(s.cfg.APIKey, streamable)
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	srv := &http.Server{Handler: s.Handler()}

	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server error", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String())
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	slog.Info("mcp server stopping")
	return srv.Shutdown(ctx)
}

// tenantFromRequest scopes tool calls to the X-Tenant-ID header. Values that
// are not UUIDs fall back to the default tenant.
func tenantFromRequest(ctx context.Context, r *http.Request) context.Context {
	tid := r.Header.Get("X-Tenant-ID")
	if _, err := uuid.Parse(tid); err != nil {
		tid = middleware.DefaultTenantID
	}
	return middleware.WithTenantID(ctx, tid)
}
