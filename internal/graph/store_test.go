package graph

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/lattice/internal/ast"
)

// Test Plan for Store:
// - Insert and get nodes; missing nodes return ErrNodeNotFound
// - Duplicate edge inserts are no-ops
// - Removing a node cascades to all touching edges
// - Indexes (name, kind, file) follow inserts, replacements and removals
// - Patch application is idempotent
// - Invalid patches are rejected atomically with ErrStorage
// - Repositories whose names share a prefix keep separate nodes
// - A node id held by another repository is rejected
// - FindByName uses regex when valid, substring otherwise
// - Stats and RepoStats across repositories
// - Snapshot/Restore round-trip
// - Observers receive applied patches
// - Concurrent readers never see a half-applied patch

func TestStore_InsertAndGet(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a := fn("alpha", "a.py", 0)
	require.NoError(t, s.InsertNodes(context.Background(), testRepo, a))

	got, err := s.GetNode(a.ID)
	require.NoError(t, err)
	assert.True(t, a.Equal(got))

	_, err = s.GetNode(fn("missing", "a.py", 99).ID)
	assert.ErrorIs(t, err, ErrNodeNotFound)
}

func TestStore_DuplicateEdgeIsNoop(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a, b := fn("a", "x.py", 0), fn("b", "x.py", 20)
	e := ast.NewEdge(a.ID, b.ID, ast.EdgeCalls)
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{a, b}, AddedEdges: []ast.Edge{e, e}})
	require.NoError(t, s.InsertEdges(context.Background(), testRepo, e))

	assert.Equal(t, 1, s.Stats().TotalEdges)
	assert.Len(t, s.EdgesFrom(a.ID), 1)

	_, err := s.GetEdge(a.ID, b.ID, ast.EdgeCalls)
	assert.NoError(t, err)
	_, err = s.GetEdge(a.ID, b.ID, ast.EdgeReads)
	assert.ErrorIs(t, err, ErrEdgeNotFound)
}

func TestStore_RemoveNodeCascades(t *testing.T) {
	t.Parallel()

	s := NewStore()
	nodes := []ast.Node{fn("a", "x.py", 0), fn("b", "x.py", 20), fn("c", "y.py", 0)}
	chain(t, s, nodes, [2]int{0, 1}, [2]int{1, 2}, [2]int{2, 1}, [2]int{1, 1})

	require.NoError(t, s.RemoveNodes(context.Background(), testRepo, nodes[1].ID))

	st := s.Stats()
	assert.Equal(t, 2, st.TotalNodes)
	assert.Equal(t, 0, st.TotalEdges)
	assert.Empty(t, s.EdgesFrom(nodes[0].ID))
	assert.Empty(t, s.EdgesTo(nodes[2].ID))
	assert.Empty(t, s.NodesNamed(testRepo, "b"))
}

func TestStore_Indexes(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a := fn("handler", "api/routes.py", 0)
	cls := ast.NewNode(testRepo, ast.KindClass, "Router", ast.LangPython, "api/routes.py",
		ast.Span{StartByte: 30, EndByte: 80, StartLine: 3, EndLine: 9, StartCol: 1, EndCol: 1})
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{a, cls}})

	assert.Len(t, s.NodesInFile(testRepo, "api/routes.py"), 2)
	assert.Len(t, s.NodesInFile(testRepo, "./api/routes.py"), 2)
	assert.Equal(t, 1, s.Stats().NodesByKind[ast.KindClass])
	assert.Equal(t, []string{"api/routes.py"}, s.Files(testRepo))

	// Replacing a node with new metadata keeps counts stable.
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{a.WithMetadata("async", "true")}})
	assert.Equal(t, 2, s.Stats().TotalNodes)
	got, err := s.GetNode(a.ID)
	require.NoError(t, err)
	assert.Equal(t, "true", got.Meta("async"))
}

func TestStore_PatchIdempotent(t *testing.T) {
	t.Parallel()

	s := NewStore()
	nodes := []ast.Node{fn("a", "x.py", 0), fn("b", "x.py", 20), fn("c", "x.py", 40)}
	chain(t, s, nodes, [2]int{0, 1})

	p := NewPatchBuilder(testRepo, "r2").
		RemoveNode(nodes[0].ID).
		AddNode(fn("d", "z.py", 0)).
		AddEdge(ast.NewEdge(nodes[1].ID, nodes[2].ID, ast.EdgeCalls)).
		RemoveEdge(ast.NewEdge(nodes[0].ID, nodes[1].ID, ast.EdgeCalls)).
		Build()

	mustApply(t, s, p)
	once := s.Snapshot(testRepo, "")
	mustApply(t, s, p)
	twice := s.Snapshot(testRepo, "")

	assert.ElementsMatch(t, once.Nodes, twice.Nodes)
	assert.ElementsMatch(t, once.Edges, twice.Edges)
}

func TestStore_RejectsInvalidPatchAtomically(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a := fn("a", "x.py", 0)
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{a}})
	before := s.Stats()

	dangling := fn("ghost", "x.py", 50)
	badSpan := a
	badSpan.Span = ast.Span{StartByte: 9, EndByte: 2}
	forged := fn("forged", "x.py", 60)
	forged.Name, forged.File = "forged", "elsewhere.py"

	tests := []struct {
		name  string
		patch *Patch
	}{
		{"dangling edge", &Patch{RepoID: testRepo, AddedNodes: []ast.Node{fn("b", "x.py", 20)}, AddedEdges: []ast.Edge{ast.NewEdge(a.ID, dangling.ID, ast.EdgeCalls)}}},
		{"edge to removed node", &Patch{RepoID: testRepo, RemovedNodeIDs: []ast.NodeID{a.ID}, AddedEdges: []ast.Edge{ast.NewEdge(a.ID, a.ID, ast.EdgeCalls)}}},
		{"invalid span", &Patch{RepoID: testRepo, AddedNodes: []ast.Node{badSpan}}},
		{"wrong repo", &Patch{RepoID: "other", AddedNodes: []ast.Node{fn("c", "x.py", 30)}}},
		{"id mismatch", &Patch{RepoID: testRepo, AddedNodes: []ast.Node{forged}}},
		{"unknown edge kind", &Patch{RepoID: testRepo, AddedEdges: []ast.Edge{ast.NewEdge(a.ID, a.ID, "BOGUS")}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ApplyPatch(context.Background(), tt.patch)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrStorage)
			assert.Equal(t, before, s.Stats())
		})
	}
}

func TestStore_FindByName(t *testing.T) {
	t.Parallel()

	s := NewStore()
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{
		fn("parseFile", "a.py", 0), fn("ParseConfig", "a.py", 20), fn("write", "a.py", 40),
	}})

	assert.Len(t, s.FindByName("^parse"), 1)
	assert.Len(t, s.FindByName("(?i)^parse"), 2)
	// Invalid regex falls back to case-insensitive substring.
	assert.Len(t, s.FindByName("PARSE("), 0)
	assert.Len(t, s.FindByName("RIT"), 0)
	assert.Len(t, s.FindByName("[write"), 0)

	sub := NameMatcher("[Par")
	assert.True(t, sub("x[parse"))
	assert.False(t, sub("parse"))
}

func TestStore_StatsAcrossRepositories(t *testing.T) {
	t.Parallel()

	s := NewStore()
	nodes := []ast.Node{fn("a", "x.py", 0), fn("b", "y.py", 0)}
	chain(t, s, nodes, [2]int{0, 1})
	other := ast.NewNode("other", ast.KindModule, "m", ast.LangGo, "m.go", ast.Span{EndByte: 5, StartLine: 1, EndLine: 1})
	mustApply(t, s, &Patch{RepoID: "other", AddedNodes: []ast.Node{other}})

	st := s.Stats()
	assert.Equal(t, 3, st.TotalNodes)
	assert.Equal(t, 1, st.TotalEdges)
	assert.Equal(t, 3, st.TotalFiles)
	assert.Equal(t, 2, st.Repositories)
	assert.Equal(t, []string{"other", testRepo}, s.Repositories())

	rs := s.RepoStats(testRepo)
	assert.Equal(t, 2, rs.TotalNodes)
	assert.Equal(t, 1, rs.TotalEdges)
	assert.Equal(t, 2, rs.TotalFiles)

	require.NoError(t, s.ClearRepo(context.Background(), testRepo))
	assert.Equal(t, 1, s.Stats().TotalNodes)
	assert.Equal(t, 0, s.Stats().TotalEdges)
}

func TestStore_PrefixedRepositoriesDoNotCollide(t *testing.T) {
	t.Parallel()

	s := NewStore()
	span := ast.Span{StartByte: 0, EndByte: 10, StartLine: 1, EndLine: 1}
	app := ast.NewNode("app", ast.KindFunction, "f", ast.LangPython, "sx.py", span)
	apps := ast.NewNode("apps", ast.KindFunction, "f", ast.LangPython, "x.py", span)
	require.NotEqual(t, app.ID, apps.ID)

	mustApply(t, s, &Patch{RepoID: "app", AddedNodes: []ast.Node{app}})
	mustApply(t, s, &Patch{RepoID: "apps", AddedNodes: []ast.Node{apps}})

	assert.Equal(t, 1, s.RepoStats("app").TotalNodes)
	assert.Equal(t, 1, s.RepoStats("apps").TotalNodes)
}

func TestStore_RejectsNodeOwnedByOtherRepository(t *testing.T) {
	t.Parallel()

	s := NewStore()
	n := fn("shared", "x.py", 0)
	held := n
	held.RepoID = "other"
	s.mu.Lock()
	s.putNode(held)
	s.mu.Unlock()

	err := s.ApplyPatch(context.Background(), &Patch{RepoID: testRepo, AddedNodes: []ast.Node{n}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorContains(t, err, `owned by repository "other"`)

	got, err := s.GetNode(n.ID)
	require.NoError(t, err)
	assert.Equal(t, "other", got.RepoID)
	assert.Equal(t, 0, s.RepoStats(testRepo).TotalNodes)
}

func TestStore_SnapshotRestore(t *testing.T) {
	t.Parallel()

	src := NewStore()
	nodes := []ast.Node{fn("a", "x.py", 0), fn("b", "x.py", 20)}
	chain(t, src, nodes, [2]int{0, 1}, [2]int{1, 0})
	snap := src.Snapshot(testRepo, "rev-1")
	assert.Equal(t, 2, snap.Metadata.NodeCount)
	assert.Equal(t, 2, snap.Metadata.EdgeCount)

	dst := NewStore()
	mustApply(t, dst, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{fn("stale", "old.py", 0)}})
	require.NoError(t, dst.Restore(context.Background(), snap))

	assert.Equal(t, src.Stats().TotalNodes, dst.Stats().TotalNodes)
	assert.ElementsMatch(t, src.Edges(testRepo), dst.Edges(testRepo))
	assert.Empty(t, dst.NodesNamed(testRepo, "stale"))
}

func TestStore_Subscribe(t *testing.T) {
	t.Parallel()

	s := NewStore()
	var got []*Patch
	unsubscribe := s.Subscribe(func(p *Patch) { got = append(got, p) })

	p := &Patch{RepoID: testRepo, AddedNodes: []ast.Node{fn("a", "x.py", 0)}}
	mustApply(t, s, p)
	require.Len(t, got, 1)
	assert.Same(t, p, got[0])

	unsubscribe()
	mustApply(t, s, &Patch{RepoID: testRepo, AddedNodes: []ast.Node{fn("b", "x.py", 20)}})
	assert.Len(t, got, 1)
}

func TestStore_ConcurrentReadersSeeWholePatches(t *testing.T) {
	t.Parallel()

	s := NewStore()
	const batch = 50
	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			// Every patch adds exactly batch nodes, so counts are always multiples.
			assert.Zero(t, s.Stats().TotalNodes%batch)
		}
	}()

	for round := 0; round < 20; round++ {
		b := NewPatchBuilder(testRepo, "")
		for i := 0; i < batch; i++ {
			b.AddNode(fn("n", "f.py", (round*batch+i)*20))
		}
		mustApply(t, s, b.Build())
	}
	close(stop)
	wg.Wait()
	assert.Equal(t, 20*batch, s.Stats().TotalNodes)
}
