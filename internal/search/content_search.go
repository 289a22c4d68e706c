package search

import (
	"context"
	"errors"
	"fmt"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/mvp-joe/lattice/internal/ast"
)

const (
	DefaultContentLimit = 15
	maxHighlights       = 3
)

var ErrEmptyQuery = errors.New("query is required")

// ContentQuery is a content search. Text uses bleve query string syntax
// ("config AND timeout", "+retry -test", "title:install") unless Regex is
// set, in which case it is a regular expression over indexed words.
type ContentQuery struct {
	Text  string
	Regex bool
	// RepoID, Types and FilePattern narrow the search. FilePattern is a
	// wildcard over the repository relative path.
	RepoID      string
	Types       []ContentType
	FilePattern string
	Limit       int
}

// ContentResult is one ranked chunk. Highlights are up to three fragments
// of the chunk text with matches wrapped in <mark> tags.
type ContentResult struct {
	Chunk      Chunk    `json:"chunk"`
	Score      float64  `json:"score"`
	Highlights []string `json:"highlights,omitempty"`
}

var contentFields = []string{"text", "title", "type", "format", "repo", "file", "doc", "related", "start_line", "end_line"}

// Search ranks chunks against q.
func (c *ContentIndex) Search(ctx context.Context, q ContentQuery) ([]ContentResult, error) {
	if q.Text == "" {
		return nil, ErrEmptyQuery
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultContentLimit
	}
	limit = min(limit, MaxLimit)

	req := bleve.NewSearchRequestOptions(buildContentQuery(q), limit, 0, false)
	req.SortBy([]string{"-_score", "file", "_id"})
	style := "html"
	req.Highlight = bleve.NewHighlightWithStyle(style)
	req.Highlight.Fields = []string{"text"}
	req.Fields = contentFields

	c.mu.RLock()
	if c.index == nil {
		c.mu.RUnlock()
		return nil, ErrClosed
	}
	res, err := c.index.SearchInContext(ctx, req)
	c.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	results := make([]ContentResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, ContentResult{
			Chunk:      chunkFromFields(hit.ID, hit.Fields),
			Score:      hit.Score,
			Highlights: highlights(hit.Fragments["text"]),
		})
	}
	return results, nil
}

func buildContentQuery(q ContentQuery) query.Query {
	var queries []query.Query
	if q.Regex {
		rq := bleve.NewRegexpQuery(q.Text)
		rq.SetField("text")
		queries = append(queries, rq)
	} else {
		queries = append(queries, bleve.NewQueryStringQuery(q.Text))
	}
	if q.RepoID != "" {
		queries = append(queries, keyword("repo", q.RepoID))
	}
	if len(q.Types) > 0 {
		types := make([]query.Query, 0, len(q.Types))
		for _, t := range q.Types {
			types = append(types, keyword("type", string(t)))
		}
		queries = append(queries, bleve.NewDisjunctionQuery(types...))
	}
	if q.FilePattern != "" {
		fq := bleve.NewWildcardQuery(q.FilePattern)
		fq.SetField("file")
		queries = append(queries, fq)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}

func chunkFromFields(id string, f map[string]any) Chunk {
	str := func(k string) string {
		s, _ := f[k].(string)
		return s
	}
	num := func(k string) int {
		n, _ := f[k].(float64)
		return int(n)
	}
	c := Chunk{
		ID:        id,
		RepoID:    str("repo"),
		File:      str("file"),
		Type:      ContentType(str("type")),
		Format:    str("format"),
		Title:     str("title"),
		Text:      str("text"),
		StartLine: num("start_line"),
		EndLine:   num("end_line"),
		Doc:       str("doc") == "true",
	}
	// A single stored value comes back as a string, several as a slice.
	var related []string
	switch v := f["related"].(type) {
	case string:
		related = []string{v}
	case []any:
		for _, r := range v {
			if s, ok := r.(string); ok {
				related = append(related, s)
			}
		}
	}
	for _, r := range related {
		if nid, err := ast.ParseNodeID(r); err == nil {
			c.Related = append(c.Related, nid)
		}
	}
	return c
}

func highlights(fragments []string) []string {
	if len(fragments) > maxHighlights {
		return fragments[:maxHighlights]
	}
	return fragments
}
