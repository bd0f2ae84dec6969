// Package mcpserver publishes the case catalog over the Model Context
// Protocol.
//
// Tools of the active tool package are registered as MCP tools; the two case
// resources are always served under the servicenow:// scheme:
//
//	servicenow://cases                          list, default window
//	servicenow://cases?limit=5&state=1          list with filters
//	servicenow://cases/{case_id}                single case by number or sys_id
//
// Every invocation gets a fresh invocation id, is logged and is counted in
// the casemcp_operations_* metrics.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/RaikaSurendra/servicenow-case-mcp/internal/cases"
	"github.com/RaikaSurendra/servicenow-case-mcp/internal/config"
)

// ServerName is advertised to MCP clients during initialization.
const ServerName = "servicenow-case-mcp"

// Executor runs a catalog operation. *cases.Translator implements it.
type Executor interface {
	Execute(ctx context.Context, def cases.Definition, params map[string]any) (cases.Result, error)
}

// Server wraps an mcp.Server populated from a case registry.
type Server struct {
	mcp      *mcp.Server
	registry *cases.Registry
	exec     Executor
	logger   *slog.Logger

	pkg      string
	packages []string
	tools    []string
}

// New builds the MCP server for the given registry. Tools are filtered by
// cfg.ToolPackage; resources are registered unconditionally.
func New(reg *cases.Registry, exec Executor, cfg config.MCPConfig, version string, logger *slog.Logger) (*Server, error) {
	if reg == nil || exec == nil {
		return nil, errors.New("mcpserver: registry and executor are required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    ServerName,
			Version: version,
		}, nil),
		registry: reg,
		exec:     exec,
		logger:   logger.With("component", "mcp-server"),
	}

	var all []string
	for _, def := range reg.Definitions(cases.KindTool) {
		all = append(all, def.Name)
	}
	sel := selectPackage(cfg, all)
	if sel.unknown != "" {
		s.logger.Warn("unknown tool package, loading none",
			"requested", sel.unknown,
			"available", sel.available,
		)
	}
	s.pkg = sel.name
	s.packages = sel.available

	if err := s.registerTools(sel.tools); err != nil {
		return nil, err
	}
	if err := s.registerResources(); err != nil {
		return nil, err
	}

	s.logger.Info("mcp server configured",
		"tool_package", s.pkg,
		"tools", s.tools,
	)
	return s, nil
}

// MCP returns the underlying protocol server.
func (s *Server) MCP() *mcp.Server { return s.mcp }

// ToolPackage returns the name of the loaded tool package.
func (s *Server) ToolPackage() string { return s.pkg }

// Tools returns the names of the registered tools in registration order.
func (s *Server) Tools() []string { return append([]string(nil), s.tools...) }

// RunStdio serves a single session over stdin/stdout until ctx is done or
// the client disconnects.
func (s *Server) RunStdio(ctx context.Context) error {
	s.logger.Info("serving mcp over stdio")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp stdio session: %w", err)
	}
	return nil
}

// Handler returns the streamable HTTP handler for this server.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcp
	}, nil)
}

// ServeHTTP listens on addr and serves the streamable HTTP transport until
// ctx is cancelled.
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("serving mcp over http", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("mcp http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down mcp http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
