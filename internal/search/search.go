package search

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/mvp-joe/lattice/internal/ast"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrClosed = errors.New("symbol index is closed")

// Options narrow a search. The zero value searches everything.
type Options struct {
	RepoID   string
	Kinds    []ast.NodeKind
	Language ast.Language
	// FilePattern is a wildcard over the repository relative path ("internal/*").
	FilePattern string
	Limit       int
}

// Result is one ranked match.
type Result struct {
	Node  ast.Node `json:"node"`
	Score float64  `json:"score"`
}

// Search ranks symbols against text. A text containing * or ? is a
// case-insensitive wildcard over the whole name; otherwise exact names rank
// above prefixes, which rank above word and fuzzy matches. Empty text matches
// every symbol that passes the filters.
func (s *SymbolIndex) Search(ctx context.Context, text string, opts Options) ([]Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	limit = min(limit, MaxLimit)

	req := bleve.NewSearchRequestOptions(buildQuery(text, opts), limit, 0, false)
	req.SortBy([]string{"-_score", "name", "_id"})

	s.mu.RLock()
	if s.index == nil {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	res, err := s.index.SearchInContext(ctx, req)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	results := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := ast.ParseNodeID(hit.ID)
		if err != nil {
			continue
		}
		// The store is the source of truth; a hit for a node removed since
		// the search ran is dropped.
		n, err := s.store.GetNode(id)
		if err != nil {
			continue
		}
		results = append(results, Result{Node: n, Score: hit.Score})
	}
	return results, nil
}

func buildQuery(text string, opts Options) query.Query {
	var queries []query.Query

	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	switch {
	case text == "":
		queries = append(queries, bleve.NewMatchAllQuery())
	case strings.ContainsAny(text, "*?"):
		q := bleve.NewWildcardQuery(lower)
		q.SetField("name")
		queries = append(queries, q)
	default:
		exact := bleve.NewTermQuery(lower)
		exact.SetField("name")
		exact.SetBoost(10)

		prefix := bleve.NewPrefixQuery(lower)
		prefix.SetField("name")
		prefix.SetBoost(3)

		words := bleve.NewMatchQuery(strings.Join(SplitIdentifier(text), " "))
		words.SetField("terms")
		words.SetOperator(query.MatchQueryOperatorAnd)

		fuzzy := bleve.NewFuzzyQuery(lower)
		fuzzy.SetField("name")
		fuzzy.SetFuzziness(1)
		fuzzy.SetBoost(0.5)

		queries = append(queries, bleve.NewDisjunctionQuery(exact, prefix, words, fuzzy))
	}

	if opts.RepoID != "" {
		queries = append(queries, keyword("repo", opts.RepoID))
	}
	if opts.Language != "" {
		queries = append(queries, keyword("language", string(opts.Language)))
	}
	if len(opts.Kinds) > 0 {
		kinds := make([]query.Query, 0, len(opts.Kinds))
		for _, k := range opts.Kinds {
			kinds = append(kinds, keyword("kind", string(k)))
		}
		queries = append(queries, bleve.NewDisjunctionQuery(kinds...))
	}
	if opts.FilePattern != "" {
		q := bleve.NewWildcardQuery(opts.FilePattern)
		q.SetField("file")
		queries = append(queries, q)
	}

	if len(queries) == 1 {
		return queries[0]
	}
	return bleve.NewConjunctionQuery(queries...)
}

func keyword(field, value string) query.Query {
	q := bleve.NewTermQuery(value)
	q.SetField(field)
	return q
}
