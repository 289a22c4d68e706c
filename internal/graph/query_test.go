package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/lattice/internal/ast"
)

// Test Plan for Query:
// - FindDependencies with and without kind filter
// - FindDependents / FindReferences follow incoming edges
// - TransitiveClosure respects depth and terminates on cycles
// - DetectCycles finds A->B->C->A exactly once with all three nodes
// - DetectCycles reports multiple disjoint cycles from one root
// - DetectAllCycles deduplicates across roots
// - Severity heuristic
// - FindPath returns a shortest path, ErrNoPath when unreachable
// - StronglyConnected groups cyclic nodes
// - SearchSymbols filters by kind and limit
// - Unknown ids return ErrNodeNotFound, malformed hex returns ErrInvalidNodeID
// - LookupSymbol ignores call sites, reports ErrAmbiguous for duplicates
// - Lookup accepts either a hex id or a symbol name

func TestQuery_FindDependencies(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a, b, c := fn("a", "x.py", 0), fn("b", "x.py", 20), fn("c", "y.py", 0)
	mustApply(t, s, NewPatchBuilder(testRepo, "").AddNodes(a, b, c).
		AddEdge(ast.NewEdge(a.ID, b.ID, ast.EdgeCalls)).
		AddEdge(ast.NewEdge(a.ID, c.ID, ast.EdgeImports)).
		Build())
	q := NewQuery(s)

	all, err := q.FindDependencies(a.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	// Ordered by target file and position.
	assert.Equal(t, "b", all[0].Node.Name)
	assert.Equal(t, "c", all[1].Node.Name)

	calls, err := q.FindDependencies(a.ID, DependencyCalls.EdgeKinds()...)
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, b.ID, calls[0].Node.ID)

	assert.Nil(t, DependencyDirect.EdgeKinds())

	refs, err := q.FindReferences(c.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, a.ID, refs[0].Node.ID)

	_, err = q.FindDependencies(fn("zzz", "q.py", 0).ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestQuery_Resolve(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a := fn("a", "x.py", 0)
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{a}})
	q := NewQuery(s)

	got, err := q.Resolve(a.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	_, err = q.Resolve("not-hex")
	assert.ErrorIs(t, err, ast.ErrInvalidNodeID)

	_, err = q.Resolve(fn("b", "x.py", 20).ID.String())
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestQuery_LookupSymbol(t *testing.T) {
	t.Parallel()

	s := NewStore()
	parse := fn("parse", "a.py", 0)
	call := ast.NewNode(testRepo, ast.KindCall, "parse", ast.LangPython, "b.py", ast.Span{StartByte: 5, EndByte: 12, StartLine: 2, EndLine: 2})
	dup1 := fn("helper", "a.py", 30)
	dup2 := fn("helper", "b.py", 60)
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{parse, call, dup1, dup2}})
	q := NewQuery(s)

	got, err := q.LookupSymbol(testRepo, "parse")
	require.NoError(t, err)
	assert.Equal(t, parse.ID, got.ID)

	got, err = q.LookupSymbol("", "parse")
	require.NoError(t, err)
	assert.Equal(t, parse.ID, got.ID)

	_, err = q.LookupSymbol(testRepo, "helper")
	assert.ErrorIs(t, err, ErrAmbiguous)
	assert.Contains(t, err.Error(), "matches 2 definitions")

	_, err = q.LookupSymbol(testRepo, "missing")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	_, err = q.LookupSymbol("other-repo", "parse")
	assert.ErrorIs(t, err, ErrNodeNotFound)

	got, err = q.Lookup(testRepo, dup2.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "b.py", got.File)

	got, err = q.Lookup(testRepo, "parse")
	require.NoError(t, err)
	assert.Equal(t, parse.ID, got.ID)
}

func TestQuery_TransitiveClosure(t *testing.T) {
	t.Parallel()

	s := NewStore()
	n := []ast.Node{fn("a", "f.py", 0), fn("b", "f.py", 20), fn("c", "f.py", 40), fn("d", "f.py", 60)}
	// a -> b -> c -> a (cycle), c -> d
	chain(t, s, n, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 0}, [2]int{2, 3})
	q := NewQuery(s)

	full, err := q.TransitiveClosure(n[0].ID, 0)
	require.NoError(t, err)
	require.Len(t, full, 3)
	assert.Equal(t, Reachable{Source: n[0].ID, Target: n[1].ID, Kind: ast.EdgeCalls, Depth: 1}, full[0])
	assert.Equal(t, Reachable{Source: n[1].ID, Target: n[2].ID, Kind: ast.EdgeCalls, Depth: 2}, full[1])
	assert.Equal(t, Reachable{Source: n[2].ID, Target: n[3].ID, Kind: ast.EdgeCalls, Depth: 3}, full[2])

	bounded, err := q.TransitiveClosure(n[0].ID, 2)
	require.NoError(t, err)
	assert.Len(t, bounded, 2)

	none, err := q.TransitiveClosure(n[0].ID, 0, ast.EdgeImports)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQuery_DetectCycles_Triangle(t *testing.T) {
	t.Parallel()

	s := NewStore()
	n := []ast.Node{fn("A", "f.py", 0), fn("B", "f.py", 20), fn("C", "f.py", 40)}
	chain(t, s, n, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 0})
	q := NewQuery(s)

	cycles, err := q.DetectCycles(n[0].ID)
	require.NoError(t, err)
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []ast.NodeID{n[0].ID, n[1].ID, n[2].ID}, cycles[0].Nodes)
	assert.Equal(t, 3, cycles[0].Len())
	assert.Equal(t, SeverityHigh, cycles[0].Severity)
}

func TestQuery_DetectCycles_MultipleFromOneRoot(t *testing.T) {
	t.Parallel()

	s := NewStore()
	n := []ast.Node{
		fn("root", "f.py", 0),
		fn("a1", "f.py", 20), fn("a2", "f.py", 40),
		fn("b1", "g.py", 0), fn("b2", "g.py", 20), fn("b3", "g.py", 40), fn("b4", "g.py", 60),
	}
	chain(t, s, n,
		[2]int{0, 1}, [2]int{1, 2}, [2]int{2, 1}, // a1 <-> a2
		[2]int{0, 3}, [2]int{3, 4}, [2]int{4, 5}, [2]int{5, 6}, [2]int{6, 3}, // b1..b4 ring
	)
	q := NewQuery(s)

	cycles, err := q.DetectCycles(n[0].ID)
	require.NoError(t, err)
	require.Len(t, cycles, 2)

	var small, large Cycle
	for _, c := range cycles {
		if c.Len() == 2 {
			small = c
		} else {
			large = c
		}
	}
	assert.ElementsMatch(t, []ast.NodeID{n[1].ID, n[2].ID}, small.Nodes)
	assert.Equal(t, SeverityHigh, small.Severity)
	assert.ElementsMatch(t, []ast.NodeID{n[3].ID, n[4].ID, n[5].ID, n[6].ID}, large.Nodes)
	assert.Equal(t, SeverityMedium, large.Severity)
	assert.False(t, large.Contains(n[0].ID))
}

func TestQuery_DetectAllCycles(t *testing.T) {
	t.Parallel()

	s := NewStore()
	n := []ast.Node{fn("A", "f.py", 0), fn("B", "f.py", 20), fn("C", "f.py", 40), fn("D", "f.py", 60)}
	chain(t, s, n, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 0}, [2]int{3, 3})
	q := NewQuery(s)

	cycles := q.DetectAllCycles(testRepo)
	require.Len(t, cycles, 2)

	sccs, err := q.StronglyConnected(testRepo)
	require.NoError(t, err)
	require.Len(t, sccs, 1)
	assert.ElementsMatch(t, []ast.NodeID{n[0].ID, n[1].ID, n[2].ID}, sccs[0])
}

func TestQuery_DetectCycles_Acyclic(t *testing.T) {
	t.Parallel()

	s := NewStore()
	n := []ast.Node{fn("a", "f.py", 0), fn("b", "f.py", 20), fn("c", "f.py", 40)}
	// Diamond-free DAG with a shared target.
	chain(t, s, n, [2]int{0, 1}, [2]int{0, 2}, [2]int{1, 2})
	q := NewQuery(s)

	cycles, err := q.DetectCycles(n[0].ID)
	require.NoError(t, err)
	assert.Empty(t, cycles)
}

func TestQuery_FindPath(t *testing.T) {
	t.Parallel()

	s := NewStore()
	n := []ast.Node{fn("a", "f.py", 0), fn("b", "f.py", 20), fn("c", "f.py", 40), fn("d", "f.py", 60), fn("e", "f.py", 80)}
	// Long route a->b->c->d and shortcut a->c.
	chain(t, s, n, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 3}, [2]int{0, 2})
	q := NewQuery(s)

	path, err := q.FindPath(n[0].ID, n[3].ID, 0)
	require.NoError(t, err)
	assert.Equal(t, []ast.NodeID{n[0].ID, n[2].ID, n[3].ID}, path.Nodes)
	require.Len(t, path.Edges, 2)
	assert.Equal(t, ast.EdgeCalls, path.Edges[0].Kind)

	_, err = q.FindPath(n[0].ID, n[3].ID, 1)
	assert.ErrorIs(t, err, ErrNoPath)

	_, err = q.FindPath(n[3].ID, n[0].ID, 0)
	assert.ErrorIs(t, err, ErrNoPath)

	_, err = q.FindPath(n[0].ID, n[4].ID, 0)
	assert.ErrorIs(t, err, ErrNoPath)

	self, err := q.FindPath(n[1].ID, n[1].ID, 0)
	require.NoError(t, err)
	assert.Len(t, self.Nodes, 1)

	// The projection is rebuilt after the store changes.
	mustApply(t, s, NewPatchBuilder(testRepo, "").AddEdge(ast.NewEdge(n[3].ID, n[4].ID, ast.EdgeCalls)).Build())
	path, err = q.FindPath(n[0].ID, n[4].ID, 0)
	require.NoError(t, err)
	assert.Len(t, path.Nodes, 4)
}

func TestQuery_SearchSymbols(t *testing.T) {
	t.Parallel()

	s := NewStore()
	cls := ast.NewNode(testRepo, ast.KindClass, "UserService", ast.LangPython, "svc.py",
		ast.Span{StartByte: 100, EndByte: 200, StartLine: 5, EndLine: 20, StartCol: 1, EndCol: 1})
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{
		fn("get_user", "svc.py", 0), fn("get_users", "svc.py", 20), cls,
	}})
	q := NewQuery(s)

	assert.Len(t, q.SearchSymbols(SymbolQuery{Pattern: "user"}), 2)
	assert.Len(t, q.SearchSymbols(SymbolQuery{Pattern: "(?i)user"}), 3)
	assert.Len(t, q.SearchSymbols(SymbolQuery{Pattern: "(?i)user", Kinds: []ast.NodeKind{ast.KindClass}}), 1)
	assert.Len(t, q.SearchSymbols(SymbolQuery{Pattern: "(?i)user", Limit: 1}), 1)
	assert.Empty(t, q.SearchSymbols(SymbolQuery{Pattern: "user", RepoID: "other"}))
}

func TestPatch_BuilderAndMerge(t *testing.T) {
	t.Parallel()

	a := fn("a", "x.py", 0)
	p := NewPatchBuilder(testRepo, "r1").AddNode(a).AddNode(a).RemoveNode(a.ID).RemoveNode(a.ID).Build()
	assert.Len(t, p.AddedNodes, 1)
	assert.Len(t, p.RemovedNodeIDs, 1)
	assert.Equal(t, 2, p.OperationCount())
	assert.False(t, p.IsEmpty())

	other := NewPatchBuilder(testRepo, "r2").AddEdge(ast.NewEdge(a.ID, a.ID, ast.EdgeCalls)).Build()
	p.Merge(other)
	assert.Equal(t, "r2", p.RevisionTag)
	assert.Equal(t, 3, p.OperationCount())

	var empty *Patch
	assert.True(t, empty.IsEmpty())
	assert.True(t, NewPatch(testRepo, "").IsEmpty())
}
