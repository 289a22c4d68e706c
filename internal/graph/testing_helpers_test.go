package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/lattice/internal/ast"
)

const testRepo = "repo"

// fn builds a Function node whose span is derived from offset so every call
// with a distinct offset yields a distinct id.
func fn(name, file string, offset int) ast.Node {
	span := ast.Span{StartByte: offset, EndByte: offset + 10, StartLine: offset + 1, EndLine: offset + 1, StartCol: 1, EndCol: 11}
	return ast.NewNode(testRepo, ast.KindFunction, name, ast.LangPython, file, span)
}

func mustApply(t *testing.T, s *Store, p *Patch) {
	t.Helper()
	require.NoError(t, s.ApplyPatch(context.Background(), p))
}

// chain inserts nodes and Calls edges following the given pairs.
func chain(t *testing.T, s *Store, nodes []ast.Node, pairs ...[2]int) {
	t.Helper()
	b := NewPatchBuilder(testRepo, "t").AddNodes(nodes...)
	for _, p := range pairs {
		b.AddEdge(ast.NewEdge(nodes[p[0]].ID, nodes[p[1]].ID, ast.EdgeCalls))
	}
	mustApply(t, s, b.Build())
}
