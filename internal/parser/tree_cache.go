package parser

import (
	"fmt"
	"log/slog"

	"github.com/maypok86/otter"

	"github.com/mvp-joe/lattice/internal/ast"
)

// DefaultTreeCacheSize bounds the number of retained trees.
const DefaultTreeCacheSize = 4096

// TreeCache retains the last parse tree per file so the next change can be
// parsed incrementally. Entries leaving the cache for any reason are closed.
type TreeCache struct {
	cache otter.Cache[string, *Tree]
}

// NewTreeCache creates a cache holding at most capacity trees.
func NewTreeCache(capacity int) (*TreeCache, error) {
	if capacity <= 0 {
		capacity = DefaultTreeCacheSize
	}
	cache, err := otter.MustBuilder[string, *Tree](capacity).
		DeletionListener(func(key string, tree *Tree, cause otter.DeletionCause) {
			if cause == otter.Size {
				slog.Debug("tree evicted", "file", key)
			}
			tree.Close()
		}).
		Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build tree cache: %w", err)
	}
	return &TreeCache{cache: cache}, nil
}

// Get returns the retained tree for path. The returned handle may be closed
// concurrently by eviction; the engine treats a closed handle as absent.
func (c *TreeCache) Get(path string) (*Tree, bool) {
	return c.cache.Get(ast.NormalizePath(path))
}

// Put retains tree for path, closing any tree it replaces.
func (c *TreeCache) Put(path string, tree *Tree) {
	if tree == nil {
		return
	}
	key := ast.NormalizePath(path)
	if cur, ok := c.cache.Get(key); ok && cur == tree {
		return
	}
	if !c.cache.Set(key, tree) {
		tree.Close()
	}
}

// Remove drops and closes the tree for path.
func (c *TreeCache) Remove(path string) {
	c.cache.Delete(ast.NormalizePath(path))
}

// Len returns the number of retained trees.
func (c *TreeCache) Len() int {
	return c.cache.Size()
}

// Close drops every tree and stops the cache.
func (c *TreeCache) Close() {
	c.cache.Clear()
	c.cache.Close()
}
