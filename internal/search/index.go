// Package search keeps a ranked full-text index of graph symbols.
//
// The index follows the store: it is filled from the current contents on
// creation and updated from every applied patch.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
)

const batchSize = 1000

// skipped kinds are too numerous or too anonymous to be worth searching.
var skipped = map[ast.NodeKind]bool{
	ast.KindCall:      true,
	ast.KindLiteral:   true,
	ast.KindParameter: true,
	ast.KindUnknown:   true,
	ast.KindLifetime:  true,
}

// Indexable reports whether n belongs in the symbol index.
func Indexable(n ast.Node) bool {
	return !skipped[n.Kind] && n.Name != ""
}

// SymbolIndex is an in-memory bleve index over the symbols of a store.
type SymbolIndex struct {
	store  *graph.Store
	logger *slog.Logger

	mu          sync.RWMutex
	index       bleve.Index
	unsubscribe func()
}

// NewSymbolIndex indexes every symbol currently in store and subscribes to
// its patches. Close unsubscribes.
func NewSymbolIndex(ctx context.Context, store *graph.Store, logger *slog.Logger) (*SymbolIndex, error) {
	if logger == nil {
		logger = slog.Default()
	}
	index, err := bleve.NewMemOnly(buildMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}

	s := &SymbolIndex{store: store, logger: logger, index: index}

	// Subscribe before the initial load so no patch slips between the two.
	// Re-indexing a node twice is harmless.
	s.unsubscribe = store.Subscribe(s.onPatch)

	for _, repo := range store.Repositories() {
		if err := s.indexNodes(ctx, store.Nodes(repo)); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to index repository %s: %w", repo, err)
		}
	}
	return s, nil
}

// buildMapping indexes names twice: lowercased as a keyword for exact,
// prefix and wildcard matching, and split into words for full-text matching.
func buildMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	keyword := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = "keyword"
		f.Store = false
		f.Index = true
		return f
	}

	text := func() *mapping.FieldMapping {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = "standard"
		f.Store = false
		f.Index = true
		f.IncludeTermVectors = true
		return f
	}

	docMapping := bleve.NewDocumentMapping()
	docMapping.Dynamic = false
	docMapping.AddFieldMappingsAt("name", keyword())
	docMapping.AddFieldMappingsAt("terms", text())
	docMapping.AddFieldMappingsAt("signature", text())
	docMapping.AddFieldMappingsAt("kind", keyword())
	docMapping.AddFieldMappingsAt("language", keyword())
	docMapping.AddFieldMappingsAt("repo", keyword())
	docMapping.AddFieldMappingsAt("file", keyword())

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func document(n ast.Node) map[string]any {
	return map[string]any{
		"name":      strings.ToLower(n.Name),
		"terms":     strings.Join(SplitIdentifier(n.Name), " "),
		"signature": n.Signature,
		"kind":      string(n.Kind),
		"language":  string(n.Language),
		"repo":      n.RepoID,
		"file":      n.File,
	}
}

func (s *SymbolIndex) indexNodes(ctx context.Context, nodes []ast.Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for i, n := range nodes {
		if i%batchSize == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if !Indexable(n) {
			continue
		}
		if err := batch.Index(n.ID.String(), document(n)); err != nil {
			return fmt.Errorf("failed to add node %s to batch: %w", n.ID, err)
		}
		if batch.Size() >= batchSize {
			if err := s.index.Batch(batch); err != nil {
				return fmt.Errorf("failed to execute batch: %w", err)
			}
			batch = s.index.NewBatch()
		}
	}
	if batch.Size() > 0 {
		if err := s.index.Batch(batch); err != nil {
			return fmt.Errorf("failed to execute final batch: %w", err)
		}
	}
	return nil
}

// Apply brings the index in line with one store patch.
func (s *SymbolIndex) Apply(p *graph.Patch) error {
	if p.IsEmpty() {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}

	batch := s.index.NewBatch()
	for _, id := range p.RemovedNodeIDs {
		batch.Delete(id.String())
	}
	for _, n := range p.AddedNodes {
		if !Indexable(n) {
			// An overwrite may have renamed the node out of the index.
			batch.Delete(n.ID.String())
			continue
		}
		if err := batch.Index(n.ID.String(), document(n)); err != nil {
			return fmt.Errorf("failed to add node %s to batch: %w", n.ID, err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

func (s *SymbolIndex) onPatch(p *graph.Patch) {
	if err := s.Apply(p); err != nil {
		s.logger.Warn("search.apply_failed", "repo_id", p.RepoID, "error", err)
	}
}

// Count returns the number of indexed symbols.
func (s *SymbolIndex) Count() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.index == nil {
		return 0, nil
	}
	return s.index.DocCount()
}

// Close unsubscribes from the store and releases the index.
func (s *SymbolIndex) Close() error {
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}

// SplitIdentifier breaks an identifier into lowercase words at underscores,
// dashes, dots and case changes: "parseHTTPRequest" gives parse, http, request.
func SplitIdentifier(name string) []string {
	var (
		words []string
		cur   []rune
	)
	flush := func() {
		if len(cur) > 0 {
			words = append(words, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(name)
	for i, r := range runes {
		switch {
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			flush()
			continue
		case unicode.IsUpper(r) && len(cur) > 0:
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return words
}
