package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNode_WithMetadataDoesNotAlias(t *testing.T) {
	t.Parallel()

	n := NewNode("repo", KindMethod, "run", LangJava, "src/App.java", testSpan())
	a := n.WithMetadata("visibility", "public")
	b := a.WithMetadata("static", "true")

	assert.Empty(t, n.Metadata)
	assert.Equal(t, map[string]string{"visibility": "public"}, a.Metadata)
	assert.Equal(t, "true", b.Meta("static"))
	assert.Equal(t, a.ID, b.ID)
}

func TestNode_MetaList(t *testing.T) {
	t.Parallel()

	n := NewNode("repo", KindImport, "os", LangPython, "a.py", testSpan()).WithMetadata("names", "path,getenv")
	assert.Equal(t, []string{"path", "getenv"}, n.MetaList("names"))
	assert.Nil(t, n.MetaList("missing"))
}

func TestLanguageFromPath(t *testing.T) {
	t.Parallel()

	tests := map[string]Language{
		"a.py":        LangPython,
		"web/app.TSX": LangTSX,
		"lib.rs":      LangRust,
		"main.go":     LangGo,
		"x.h":         LangC,
		"README.md":   LangUnknown,
		"Makefile":    LangUnknown,
	}
	for path, want := range tests {
		assert.Equal(t, want, LanguageFromPath(path), path)
	}
}

func TestKinds(t *testing.T) {
	t.Parallel()

	assert.True(t, KindLifetime.Valid())
	assert.False(t, NodeKind("Bogus").Valid())
	assert.True(t, KindMethod.IsCallable())
	assert.False(t, KindCall.IsCallable())
	assert.True(t, KindTrait.IsType())

	k, ok := ParseNodeKind("function")
	assert.True(t, ok)
	assert.Equal(t, KindFunction, k)

	e, ok := ParseEdgeKind("calls")
	assert.True(t, ok)
	assert.Equal(t, EdgeCalls, e)
}

func TestSpan(t *testing.T) {
	t.Parallel()

	s := Span{StartByte: 0, EndByte: 10, StartLine: 1, EndLine: 2, StartCol: 1, EndCol: 3}
	assert.True(t, s.Valid())
	assert.Equal(t, 10, s.Len())
	assert.True(t, s.Contains(Span{StartByte: 2, EndByte: 5}))
	assert.False(t, Span{StartByte: 5, EndByte: 1}.Valid())
}
