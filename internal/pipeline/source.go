package pipeline

import (
	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/indexer"
)

// storeSource resolves link targets against what the store holds for one
// repository.
type storeSource struct {
	store  *graph.Store
	repoID string
}

var _ indexer.SymbolSource = storeSource{}

func (s storeSource) NodesNamed(name string) []ast.Node {
	return s.store.NodesNamed(s.repoID, name)
}

func (s storeSource) FileModule(file string) (ast.Node, bool) {
	for _, n := range s.store.NodesInFile(s.repoID, file) {
		if n.Kind == ast.KindModule {
			return n, true
		}
	}
	return ast.Node{}, false
}

// definition reports whether references in other files may link to nodes of
// this kind.
func definition(k ast.NodeKind) bool {
	switch k {
	case ast.KindFunction, ast.KindMethod, ast.KindConstructor, ast.KindModule, ast.KindPackage:
		return true
	}
	return k.IsType()
}
