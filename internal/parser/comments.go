package parser

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/lattice/internal/ast"
)

// Comment is one comment or docstring. Runs of line comments on consecutive
// lines are merged into a single Comment.
type Comment struct {
	// Text has the comment markers stripped.
	Text string
	Span ast.Span
	// Doc marks documentation comments: /** */, ///, //! and docstrings.
	Doc bool
}

// Comments parses src and returns its comments in source order. It does not
// run the mapper, so it is cheaper than Parse.
func (e *Engine) Comments(ctx context.Context, path string, src []byte) ([]Comment, error) {
	lang, err := e.registry.lookup(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(src) {
		return nil, &ParseError{File: path, Message: "content is not valid UTF-8"}
	}
	if e.opts.ParseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ParseTimeout)
		defer cancel()
	}
	src = bytes.Clone(src)
	st, err := e.syntaxTree(ctx, lang, src, nil)
	if err != nil {
		return nil, &ParseError{File: path, Message: err.Error(), Err: err}
	}
	t := newTree(st, src, lang.spec.Language)
	defer t.Close()
	return t.Comments(), nil
}

// Comments returns the comments of the tree in source order. A closed tree
// has none.
func (t *Tree) Comments() []Comment {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}

	var out []Comment
	stack := []*sitter.Node{t.tree.RootNode()}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch {
		case strings.Contains(n.Kind(), "comment"):
			raw := nodeText(n, t.source)
			text, doc := cleanComment(raw)
			if text != "" {
				out = appendComment(out, Comment{Text: text, Span: spanOf(n), Doc: doc}, isLineComment(raw))
			}
			continue
		case isDocstring(n):
			if text := cleanDocstring(nodeText(n, t.source)); text != "" {
				out = append(out, Comment{Text: text, Span: spanOf(n), Doc: true})
			}
			continue
		}
		children := namedChildren(n)
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return out
}

// appendComment merges c into the previous comment when both are line
// comments of the same flavor on consecutive lines.
func appendComment(out []Comment, c Comment, line bool) []Comment {
	if line && len(out) > 0 {
		prev := &out[len(out)-1]
		// Some grammars end a line comment after its newline.
		gap := c.Span.StartLine - prev.Span.EndLine
		if (gap == 0 || gap == 1) && prev.Doc == c.Doc && prev.Span.StartCol == c.Span.StartCol {
			prev.Text += "\n" + c.Text
			prev.Span.EndByte = c.Span.EndByte
			prev.Span.EndLine = c.Span.EndLine
			prev.Span.EndCol = c.Span.EndCol
			return out
		}
	}
	return append(out, c)
}

func isLineComment(raw string) bool {
	return strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "#")
}

// isDocstring matches a string literal statement opening a Python module,
// class or function body.
func isDocstring(n *sitter.Node) bool {
	if n.Kind() != "expression_statement" || n.NamedChildCount() != 1 {
		return false
	}
	if c := n.NamedChild(0); c == nil || c.Kind() != "string" {
		return false
	}
	parent := n.Parent()
	if parent == nil || (parent.Kind() != "module" && parent.Kind() != "block") {
		return false
	}
	first := firstNamedChild(parent)
	return first != nil && sameNode(first, n)
}

func cleanComment(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "/*"):
		doc := strings.HasPrefix(raw, "/**") && raw != "/**/"
		body := strings.TrimSuffix(strings.TrimPrefix(raw, "/*"), "*/")
		lines := strings.Split(body, "\n")
		for i, l := range lines {
			l = strings.TrimSpace(l)
			l = strings.TrimLeft(l, "*!")
			lines[i] = strings.TrimSpace(l)
		}
		return strings.TrimSpace(strings.Join(lines, "\n")), doc
	case strings.HasPrefix(raw, "//"):
		doc := strings.HasPrefix(raw, "///") || strings.HasPrefix(raw, "//!")
		return strings.TrimSpace(strings.TrimLeft(raw, "/!")), doc
	case strings.HasPrefix(raw, "#"):
		return strings.TrimSpace(strings.TrimLeft(raw, "#")), false
	case strings.HasPrefix(raw, "=begin"):
		body := strings.TrimPrefix(raw, "=begin")
		body = strings.TrimSuffix(strings.TrimSpace(body), "=end")
		return strings.TrimSpace(body), false
	}
	return raw, false
}

func cleanDocstring(raw string) string {
	raw = strings.TrimSpace(raw)
	// String prefixes such as r, u or b.
	raw = strings.TrimLeft(raw, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			raw = raw[len(q) : len(raw)-len(q)]
			break
		}
	}
	lines := strings.Split(raw, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
