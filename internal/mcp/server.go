// Package mcp exposes graph queries as Model Context Protocol tools.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/repository"
	"github.com/mvp-joe/lattice/internal/search"
)

const (
	DefaultName    = "lattice"
	DefaultVersion = "dev"
)

// Config wires the server to its data sources. Store is required; Symbols
// and Repositories are optional and enrich search_symbols and get_stats.
// search_content is registered only with a Content index.
type Config struct {
	Name         string
	Version      string
	Store        *graph.Store
	Symbols      *search.SymbolIndex
	Repositories *repository.Manager
	Content      *search.ContentIndex
	Logger       *slog.Logger
}

// Server owns the MCP tool registry.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	metrics *ToolMetrics
	mcp     *server.MCPServer
}

// NewServer registers every tool.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("graph store is required")
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.Version == "" {
		cfg.Version = DefaultVersion
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		metrics: NewToolMetrics(),
		mcp: server.NewMCPServer(
			cfg.Name,
			cfg.Version,
			server.WithToolCapabilities(true),
		),
	}

	q := graph.NewQuery(cfg.Store)
	AddFindDependenciesTool(s.mcp, q, s.metrics)
	AddFindReferencesTool(s.mcp, q, s.metrics)
	AddFindPathTool(s.mcp, q, s.metrics)
	AddDetectCyclesTool(s.mcp, q, s.metrics)
	AddSearchSymbolsTool(s.mcp, q, cfg.Symbols, s.metrics)
	AddGetStatsTool(s.mcp, cfg.Store, cfg.Repositories, cfg.Content, s.metrics)
	if cfg.Content != nil {
		AddSearchContentTool(s.mcp, cfg.Content, s.metrics)
	}
	return s, nil
}

// MCP returns the underlying server, for registering extra tools or tests.
func (s *Server) MCP() *server.MCPServer { return s.mcp }

// Metrics returns the per-tool call counters.
func (s *Server) Metrics() *ToolMetrics { return s.metrics }

// Serve speaks MCP over the given streams until ctx is cancelled or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("mcp.serve", "name", s.cfg.Name, "version", s.cfg.Version)
	stdio := server.NewStdioServer(s.mcp)
	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	s.logger.Info("mcp.stopped")
	return nil
}
