package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/lattice/internal/search"
)

// SearchContentRequest are the search_content arguments.
type SearchContentRequest struct {
	Query       string   `json:"query"`
	Regex       bool     `json:"regex"`
	RepoID      string   `json:"repo_id"`
	Types       []string `json:"types"`
	FilePattern string   `json:"file_pattern"`
	Limit       int      `json:"limit"`
}

type contentHit struct {
	ID         string   `json:"id"`
	RepoID     string   `json:"repo_id"`
	File       string   `json:"file"`
	Type       string   `json:"type"`
	Format     string   `json:"format"`
	Title      string   `json:"title,omitempty"`
	StartLine  int      `json:"start_line"`
	EndLine    int      `json:"end_line"`
	Text       string   `json:"text"`
	Related    []string `json:"related,omitempty"`
	Highlights []string `json:"highlights,omitempty"`
	Score      float64  `json:"score"`
}

type contentResponse struct {
	Query    string          `json:"query"`
	Results  []contentHit    `json:"results"`
	Total    int             `json:"total"`
	Metadata contentMetadata `json:"metadata"`
}

type contentMetadata struct {
	TookMs int64 `json:"took_ms"`
}

// AddSearchContentTool registers search_content over documentation,
// configuration files and source comments.
func AddSearchContentTool(s *server.MCPServer, idx *search.ContentIndex, m *ToolMetrics) {
	tool := newTool("search_content",
		"Full-text search over documentation, configuration files and source comments. "+
			"Supports bleve query syntax: phrases (\"exact phrase\"), required (+term) and excluded (-term) words, "+
			"boolean operators (AND, OR) and field queries (title:install). Comment hits list the node ids they document.",
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Query string, or a regular expression over words when regex is true")),
		mcp.WithBoolean("regex",
			mcp.Description("Treat query as a regular expression (default: false)")),
		mcp.WithString("repo_id",
			mcp.Description("Restrict to one repository")),
		mcp.WithArray("types",
			mcp.Description("Content types to include: documentation, configuration, comment"),
			mcp.WithStringItems()),
		mcp.WithString("file_pattern",
			mcp.Description("Wildcard over repository relative paths, e.g. 'docs/*'")),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results to return (1-100, default: 15)")),
	)
	s.AddTool(tool, instrument("search_content", m, createSearchContentHandler(idx)))
}

func createSearchContentHandler(idx *search.ContentIndex) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req SearchContentRequest
		if res := bindArguments(request, &req); res != nil {
			return res, nil
		}
		if req.Query == "" {
			return mcp.NewToolResultError("query parameter is required"), nil
		}

		var types []search.ContentType
		for _, t := range req.Types {
			typ, ok := search.ParseContentType(t)
			if !ok {
				return mcp.NewToolResultError(fmt.Sprintf("invalid content type: %s", t)), nil
			}
			types = append(types, typ)
		}

		start := time.Now()
		results, err := idx.Search(ctx, search.ContentQuery{
			Text:        req.Query,
			Regex:       req.Regex,
			RepoID:      req.RepoID,
			Types:       types,
			FilePattern: req.FilePattern,
			Limit:       clamp(req.Limit, search.DefaultContentLimit, search.MaxLimit),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
		}

		resp := contentResponse{Query: req.Query, Results: make([]contentHit, 0, len(results))}
		for _, r := range results {
			c := r.Chunk
			hit := contentHit{
				ID:         c.ID,
				RepoID:     c.RepoID,
				File:       c.File,
				Type:       string(c.Type),
				Format:     c.Format,
				Title:      c.Title,
				StartLine:  c.StartLine,
				EndLine:    c.EndLine,
				Text:       c.Text,
				Highlights: r.Highlights,
				Score:      r.Score,
			}
			for _, id := range c.Related {
				hit.Related = append(hit.Related, id.String())
			}
			resp.Results = append(resp.Results, hit)
		}
		resp.Total = len(resp.Results)
		resp.Metadata.TookMs = time.Since(start).Milliseconds()
		return marshalToolResponse(resp)
	}
}
