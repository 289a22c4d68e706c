package parser

import (
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/lattice/internal/ast"
)

// Tree is the reusable handle returned by a parse. It keeps the syntax tree
// and the source it was built from so the next parse of the same file can be
// incremental. A Tree must be closed, or handed to a TreeCache that closes it
// on eviction. All methods are safe for concurrent use.
type Tree struct {
	mu     sync.Mutex
	tree   *sitter.Tree
	source []byte
	lang   ast.Language
	closed bool
}

func newTree(t *sitter.Tree, source []byte, lang ast.Language) *Tree {
	return &Tree{tree: t, source: source, lang: lang}
}

// Language returns the language the tree was parsed as.
func (t *Tree) Language() ast.Language {
	return t.lang
}

// Closed reports whether the handle has been released.
func (t *Tree) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Close releases the underlying syntax tree. Calling Close more than once is a no-op.
func (t *Tree) Close() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	t.tree.Close()
	t.tree = nil
	t.source = nil
}

// editedClone returns a copy of the tree with the edit that turns the retained
// source into next applied. The caller owns the copy. It returns nil when the
// handle is closed or was parsed as another language.
func (t *Tree) editedClone(lang ast.Language, next []byte) *sitter.Tree {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed || t.lang != lang {
		return nil
	}
	clone := t.tree.Clone()
	edit := computeEdit(t.source, next)
	clone.Edit(&edit)
	return clone
}

// computeEdit describes the change from old to next as one replaced range
// bounded by their common prefix and suffix.
func computeEdit(old, next []byte) sitter.InputEdit {
	limit := min(len(old), len(next))

	prefix := 0
	for prefix < limit && old[prefix] == next[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < limit-prefix && old[len(old)-1-suffix] == next[len(next)-1-suffix] {
		suffix++
	}

	oldEnd := len(old) - suffix
	newEnd := len(next) - suffix
	return sitter.InputEdit{
		StartByte:      uint(prefix),
		OldEndByte:     uint(oldEnd),
		NewEndByte:     uint(newEnd),
		StartPosition:  pointAt(old, prefix),
		OldEndPosition: pointAt(old, oldEnd),
		NewEndPosition: pointAt(next, newEnd),
	}
}

// pointAt converts a byte offset into a zero-based row/column point.
func pointAt(src []byte, offset int) sitter.Point {
	row, col := 0, 0
	for _, b := range src[:offset] {
		if b == '\n' {
			row++
			col = 0
			continue
		}
		col++
	}
	return sitter.Point{Row: uint(row), Column: uint(col)}
}
