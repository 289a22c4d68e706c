package parser

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Comments:
// - Python docstrings at module, class and function level are doc comments
// - Consecutive line comments merge into one; a gap starts a new one
// - Block doc comments lose their markers and leading stars
// - Rust /// and Go // comments are extracted with line spans
// - Unsupported files fail and a closed tree yields nothing

func comments(t *testing.T, file, src string) []Comment {
	t.Helper()
	out, err := newTestEngine(t).Comments(context.Background(), file, []byte(src))
	require.NoError(t, err)
	return out
}

func TestComments_PythonDocstrings(t *testing.T) {
	t.Parallel()
	src := `"""Loads configuration."""

# first line
# second line

# separate
class Loader:
    """Reads files."""

    def load(self):
        '''Return the parsed file.'''
        x = "not a docstring"
`
	got := comments(t, "loader.py", src)
	require.Len(t, got, 5)

	assert.Equal(t, Comment{Text: "Loads configuration.", Span: got[0].Span, Doc: true}, got[0])
	assert.Equal(t, "first line\nsecond line", got[1].Text)
	assert.Equal(t, 3, got[1].Span.StartLine)
	assert.Equal(t, 4, got[1].Span.EndLine)
	assert.False(t, got[1].Doc)
	assert.Equal(t, "separate", got[2].Text)
	assert.Equal(t, "Reads files.", got[3].Text)
	assert.True(t, got[3].Doc)
	assert.Equal(t, "Return the parsed file.", got[4].Text)
	assert.Equal(t, 11, got[4].Span.StartLine)
}

func TestComments_BlockDoc(t *testing.T) {
	t.Parallel()
	src := `/**
 * Adds two numbers.
 * @param a first
 */
function add(a, b) { /* inline */ return a + b; }
`
	got := comments(t, "math.js", src)
	require.Len(t, got, 2)
	assert.Equal(t, "Adds two numbers.\n@param a first", got[0].Text)
	assert.True(t, got[0].Doc)
	assert.Equal(t, 1, got[0].Span.StartLine)
	assert.Equal(t, 4, got[0].Span.EndLine)
	assert.Equal(t, "inline", got[1].Text)
	assert.False(t, got[1].Doc)
}

func TestComments_LineDocStyles(t *testing.T) {
	t.Parallel()

	rs := comments(t, "lib.rs", "/// Parses input.\n/// Returns tokens.\nfn parse() {}\n")
	require.Len(t, rs, 1)
	assert.Equal(t, "Parses input.\nReturns tokens.", rs[0].Text)
	assert.True(t, rs[0].Doc)

	goSrc := "package main\n\n// Run starts the server.\n// It blocks.\nfunc Run() {}\n"
	gc := comments(t, "main.go", goSrc)
	require.Len(t, gc, 1)
	assert.Equal(t, "Run starts the server.\nIt blocks.", gc[0].Text)
	assert.Equal(t, 3, gc[0].Span.StartLine)
	assert.Equal(t, 4, gc[0].Span.EndLine)
}

func TestComments_Errors(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t)

	_, err := e.Comments(context.Background(), "notes.xyz", []byte("x"))
	assert.ErrorIs(t, err, ErrUnsupportedLanguage)

	res := parse(t, e, "a.py", "# hi\n")
	require.Len(t, res.Tree.Comments(), 1)
	res.Tree.Close()
	assert.Nil(t, res.Tree.Comments())
}

func TestCleanComment(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		text string
		doc  bool
	}{
		{"// plain", "plain", false},
		{"//! crate doc", "crate doc", true},
		{"# hash", "hash", false},
		{"/* block */", "block", false},
		{"/**/", "", false},
		{"=begin\nruby block\n=end", "ruby block", false},
	}
	for _, tt := range tests {
		text, doc := cleanComment(tt.raw)
		assert.Equal(t, tt.text, text, tt.raw)
		assert.Equal(t, tt.doc, doc, tt.raw)
	}
}
