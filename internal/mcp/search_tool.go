package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/search"
)

// SearchSymbolsRequest are the search_symbols arguments.
type SearchSymbolsRequest struct {
	Query       string   `json:"query"`
	RepoID      string   `json:"repo_id"`
	Kinds       []string `json:"kinds"`
	Language    string   `json:"language"`
	FilePattern string   `json:"file_pattern"`
	Limit       int      `json:"limit"`
}

type symbolHit struct {
	nodeView
	Score float64 `json:"score,omitempty"`
}

type searchResponse struct {
	Query   string      `json:"query"`
	Ranked  bool        `json:"ranked"`
	Results []symbolHit `json:"results"`
	Total   int         `json:"total"`
}

// AddSearchSymbolsTool registers search_symbols. With a symbol index the
// results are ranked; otherwise the query is a name pattern over the store.
func AddSearchSymbolsTool(s *server.MCPServer, q *graph.Query, idx *search.SymbolIndex, m *ToolMetrics) {
	tool := newTool("search_symbols",
		"Find functions, classes, methods, modules and other definitions by name. Returns node ids for use with the other graph tools.",
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Symbol name, prefix, words ('http config') or wildcard ('get_*')")),
		mcp.WithString("repo_id",
			mcp.Description("Restrict to one repository")),
		mcp.WithArray("kinds",
			mcp.Description("Node kinds to include, e.g. ['Function', 'Method', 'Class']"),
			mcp.WithStringItems()),
		mcp.WithString("language",
			mcp.Description("Restrict to one language: python, javascript, typescript, tsx, go, java, rust, c, ruby, php")),
		mcp.WithString("file_pattern",
			mcp.Description("Wildcard over repository relative paths, e.g. 'internal/*'")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (1-100, default: 20)")),
	)
	s.AddTool(tool, instrument("search_symbols", m, createSearchSymbolsHandler(q, idx)))
}

func createSearchSymbolsHandler(q *graph.Query, idx *search.SymbolIndex) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req SearchSymbolsRequest
		if res := bindArguments(request, &req); res != nil {
			return res, nil
		}
		if req.Query == "" {
			return mcp.NewToolResultError("query parameter is required"), nil
		}

		var kinds []ast.NodeKind
		for _, k := range req.Kinds {
			kind, ok := ast.ParseNodeKind(k)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("invalid kind: %s", k)), nil
			}
			kinds = append(kinds, kind)
		}
		limit := clamp(req.Limit, search.DefaultLimit, search.MaxLimit)

		resp := searchResponse{Query: req.Query, Results: []symbolHit{}}
		if idx != nil {
			results, err := idx.Search(ctx, req.Query, search.Options{
				RepoID:      req.RepoID,
				Kinds:       kinds,
				Language:    ast.Language(req.Language),
				FilePattern: req.FilePattern,
				Limit:       limit,
			})
			if err != nil {
				return nil, err
			}
			resp.Ranked = true
			for _, r := range results {
				resp.Results = append(resp.Results, symbolHit{nodeView: view(r.Node), Score: r.Score})
			}
		} else {
			nodes := q.SearchSymbols(graph.SymbolQuery{Pattern: req.Query, RepoID: req.RepoID, Kinds: kinds})
			for _, n := range nodes {
				if !search.Indexable(n) || (req.Language != "" && string(n.Language) != req.Language) {
					continue
				}
				resp.Results = append(resp.Results, symbolHit{nodeView: view(n)})
				if len(resp.Results) >= limit {
					break
				}
			}
		}
		resp.Total = len(resp.Results)
		return marshalToolResponse(resp)
	}
}
