package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/repository"
	"github.com/mvp-joe/lattice/internal/search"
)

type statsRequest struct {
	RepoID string `json:"repo_id"`
}

type statsResponse struct {
	Graph        graph.Stats                 `json:"graph"`
	Repositories []repository.RepositoryInfo `json:"repositories,omitempty"`
	Aggregate    *repository.AggregateStats  `json:"aggregate,omitempty"`
	Content      *search.ContentStats        `json:"content,omitempty"`
}

// AddGetStatsTool registers get_stats. Repository lifecycle and health, and
// content index counts, are included when available.
func AddGetStatsTool(s *server.MCPServer, store *graph.Store, repos *repository.Manager, content *search.ContentIndex, m *ToolMetrics) {
	tool := newTool("get_stats",
		"Report graph size (nodes, edges, files, nodes by kind) and, when available, repository state and health and indexed content counts.",
		mcp.WithString("repo_id",
			mcp.Description("Report one repository instead of the whole graph")),
	)
	s.AddTool(tool, instrument("get_stats", m, createGetStatsHandler(store, repos, content)))
}

func createGetStatsHandler(store *graph.Store, repos *repository.Manager, content *search.ContentIndex) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req statsRequest
		if res := bindArguments(request, &req); res != nil {
			return res, nil
		}

		var resp statsResponse
		if req.RepoID != "" {
			resp.Graph = store.RepoStats(req.RepoID)
		} else {
			resp.Graph = store.Stats()
		}

		if repos != nil {
			if req.RepoID != "" {
				info, err := repos.Status(req.RepoID)
				if err != nil {
					return mcp.NewToolResultError(err.Error()), nil
				}
				resp.Repositories = []repository.RepositoryInfo{info}
			} else {
				resp.Repositories = repos.List()
				agg := repos.Stats()
				resp.Aggregate = &agg
			}
		}
		if content != nil {
			st := content.Stats(req.RepoID)
			resp.Content = &st
		}
		return marshalToolResponse(resp)
	}
}
