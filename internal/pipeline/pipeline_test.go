package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/indexer"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/scanner"
	"github.com/mvp-joe/lattice/internal/watcher"
)

// Test Plan for Pipeline:
// - Modifying a file adds its new definitions
// - The store slice after a change equals a full parse of the new content
// - Unchanged content leaves the store version alone
// - Deleting a file removes its nodes and the links into it
// - A rename moves the file's nodes and relinks callers
// - Shifting a definition relinks callers in other files
// - A created file is linked against the existing graph
// - A Modified event for a vanished file removes it
// - Deleting a directory removes every file beneath it
// - Paths outside the root fail and are counted
// - A parse failure leaves the previous slice in place
// - The handler sees applied events and errors
// - Run stops on channel close and on cancellation

const testRepo = "repo"

const (
	srcA = "def foo():\n    pass\n"
	srcB = "def bar():\n    foo()\n"
)

type fixture struct {
	root   string
	engine *parser.Engine
	store  *graph.Store
	pipe   *Pipeline
}

func newFixture(t *testing.T, files map[string]string, cfg Config) *fixture {
	t.Helper()
	ctx := context.Background()
	root := t.TempDir()
	for rel, content := range files {
		writeAt(t, root, rel, content)
	}

	engine, err := parser.NewEngine(parser.Options{})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	trees, err := parser.NewTreeCache(0)
	require.NoError(t, err)
	t.Cleanup(trees.Close)

	s, err := scanner.New(scanner.Options{})
	require.NoError(t, err)
	scan, err := s.Scan(ctx, root, nil)
	require.NoError(t, err)

	opts := indexer.DefaultOptions()
	opts.TreeCache = trees
	res, err := indexer.New(engine, opts).Index(ctx, indexer.IndexingConfig{RepoID: testRepo}, scan, nil)
	require.NoError(t, err)
	require.Empty(t, res.Errors)

	store := graph.NewStore()
	require.NoError(t, store.ApplyPatch(ctx, res.Patch))

	cfg.RepoID = testRepo
	cfg.Root = root
	cfg.TreeCache = trees
	pipe, err := New(store, engine, cfg)
	require.NoError(t, err)
	t.Cleanup(pipe.Close)

	return &fixture{root: root, engine: engine, store: store, pipe: pipe}
}

func writeAt(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) abs(rel string) string {
	return filepath.Join(f.root, filepath.FromSlash(rel))
}

func (f *fixture) process(t *testing.T, kind watcher.ChangeKind, rel string) error {
	t.Helper()
	return f.pipe.Process(context.Background(), watcher.ChangeEvent{Kind: kind, Path: f.abs(rel), Root: f.root})
}

func (f *fixture) node(t *testing.T, kind ast.NodeKind, name, file string) ast.Node {
	t.Helper()
	for _, n := range f.store.NodesNamed(testRepo, name) {
		if n.Kind == kind && n.File == file {
			return n
		}
	}
	require.Failf(t, "node not found", "%s %q in %q", kind, name, file)
	return ast.Node{}
}

func (f *fixture) calls(from, to ast.Node) bool {
	return slices.Contains(f.store.EdgesFrom(from.ID, ast.EdgeCalls), ast.NewEdge(from.ID, to.ID, ast.EdgeCalls))
}

func ids(nodes []ast.Node) []ast.NodeID {
	out := make([]ast.NodeID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	slices.SortFunc(out, func(a, b ast.NodeID) int { return bytes.Compare(a[:], b[:]) })
	return out
}

func TestPipeline_Modify(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{})

	writeAt(t, f.root, "a.py", srcA+"\ndef baz():\n    pass\n")
	require.NoError(t, f.process(t, watcher.Modified, "a.py"))

	f.node(t, ast.KindFunction, "baz", "a.py")
	f.node(t, ast.KindFunction, "foo", "a.py")
	st := f.pipe.Stats()
	assert.Equal(t, 1, st.EventsProcessed)
	assert.Equal(t, 1, st.PatchesApplied)
	assert.Positive(t, st.NodesAdded)
	assert.False(t, st.LastEventAt.IsZero())
}

func TestPipeline_MatchesFullParse(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{})

	next := "import os\n\n" + srcA + "\nclass Greeter:\n    def greet(self):\n        foo()\n"
	writeAt(t, f.root, "a.py", next)
	require.NoError(t, f.process(t, watcher.Modified, "a.py"))

	full, err := f.engine.Parse(context.Background(), parser.ParseContext{
		RepoID: testRepo, FilePath: "a.py", Content: []byte(next),
	})
	require.NoError(t, err)
	defer full.Tree.Close()

	assert.Equal(t, ids(full.Nodes), ids(f.store.NodesInFile(testRepo, "a.py")))
	_, edges := f.store.FileSlice(testRepo, "a.py")
	for _, e := range full.Edges {
		assert.Contains(t, edges, e)
	}
}

func TestPipeline_UnchangedContentSkipped(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA, "b.py": srcB}, Config{})
	version := f.store.Version()

	require.NoError(t, f.process(t, watcher.Modified, "a.py"))
	require.NoError(t, f.process(t, watcher.Modified, "a.py"))

	assert.Equal(t, version, f.store.Version())
	st := f.pipe.Stats()
	assert.Equal(t, 2, st.EventsProcessed)
	assert.Equal(t, 2, st.EventsSkipped)
	assert.Zero(t, st.PatchesApplied)
}

func TestPipeline_Delete(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA, "b.py": srcB}, Config{})
	bar := f.node(t, ast.KindFunction, "bar", "b.py")
	foo := f.node(t, ast.KindFunction, "foo", "a.py")
	require.True(t, f.calls(bar, foo))

	require.NoError(t, os.Remove(f.abs("a.py")))
	require.NoError(t, f.process(t, watcher.Deleted, "a.py"))

	assert.Empty(t, f.store.NodesInFile(testRepo, "a.py"))
	assert.False(t, f.store.HasNode(foo.ID))
	assert.Empty(t, f.store.EdgesTo(foo.ID))
	// The call site itself survives; only its link is gone.
	f.node(t, ast.KindCall, "foo", "b.py")
	assert.NotContains(t, f.store.Files(testRepo), "a.py")
}

func TestPipeline_Rename(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA, "b.py": srcB}, Config{})

	require.NoError(t, os.Rename(f.abs("a.py"), f.abs("a2.py")))
	require.NoError(t, f.pipe.Process(context.Background(), watcher.ChangeEvent{
		Kind:    watcher.Renamed,
		Path:    f.abs("a2.py"),
		OldPath: f.abs("a.py"),
	}))

	assert.Empty(t, f.store.NodesInFile(testRepo, "a.py"))
	foo := f.node(t, ast.KindFunction, "foo", "a2.py")
	bar := f.node(t, ast.KindFunction, "bar", "b.py")
	assert.True(t, f.calls(bar, foo))
	assert.Equal(t, 1, f.pipe.Stats().PatchesApplied)
}

func TestPipeline_RelinksShiftedDefinition(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA, "b.py": srcB}, Config{})
	oldFoo := f.node(t, ast.KindFunction, "foo", "a.py")

	// Moving foo down changes its span and therefore its id.
	writeAt(t, f.root, "a.py", "x = 1\n\n"+srcA)
	require.NoError(t, f.process(t, watcher.Modified, "a.py"))

	foo := f.node(t, ast.KindFunction, "foo", "a.py")
	require.NotEqual(t, oldFoo.ID, foo.ID)
	bar := f.node(t, ast.KindFunction, "bar", "b.py")
	call := f.node(t, ast.KindCall, "foo", "b.py")
	assert.True(t, f.calls(bar, foo))
	assert.True(t, f.calls(call, foo))
	assert.False(t, f.store.HasNode(oldFoo.ID))
}

func TestPipeline_CreatedFileLinks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{})

	writeAt(t, f.root, "c.py", "def qux():\n    foo()\n")
	require.NoError(t, f.process(t, watcher.Created, "c.py"))

	qux := f.node(t, ast.KindFunction, "qux", "c.py")
	foo := f.node(t, ast.KindFunction, "foo", "a.py")
	assert.True(t, f.calls(qux, foo))
}

func TestPipeline_LinkingDisabled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{DisableLinking: true})

	writeAt(t, f.root, "c.py", "def qux():\n    foo()\n")
	require.NoError(t, f.process(t, watcher.Created, "c.py"))

	qux := f.node(t, ast.KindFunction, "qux", "c.py")
	foo := f.node(t, ast.KindFunction, "foo", "a.py")
	assert.False(t, f.calls(qux, foo))
}

func TestPipeline_ModifiedButMissing(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{})

	require.NoError(t, os.Remove(f.abs("a.py")))
	require.NoError(t, f.process(t, watcher.Modified, "a.py"))
	assert.Empty(t, f.store.NodesInFile(testRepo, "a.py"))
}

func TestPipeline_DeleteDirectory(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{
		"pkg/x.py": srcA,
		"pkg/y.py": srcB,
		"keep.py":  "def keep():\n    pass\n",
	}, Config{})

	require.NoError(t, os.RemoveAll(f.abs("pkg")))
	require.NoError(t, f.pipe.Process(context.Background(), watcher.ChangeEvent{
		Kind: watcher.Deleted,
		Path: f.abs("pkg"),
		Dir:  true,
	}))

	assert.Equal(t, []string{"keep.py"}, f.store.Files(testRepo))
}

func TestPipeline_OutsideRoot(t *testing.T) {
	t.Parallel()
	rec := &recordingHandler{}
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{Handler: rec})

	err := f.pipe.Process(context.Background(), watcher.ChangeEvent{
		Kind: watcher.Modified,
		Path: filepath.Join(filepath.Dir(f.root), "elsewhere.py"),
	})
	require.ErrorIs(t, err, ErrOutsideRoot)

	st := f.pipe.Stats()
	assert.Equal(t, 1, st.Errors)
	assert.ErrorIs(t, st.LastError, ErrOutsideRoot)
	assert.Len(t, rec.errors(), 1)
}

func TestPipeline_ParseErrorKeepsSlice(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{})
	before := ids(f.store.NodesInFile(testRepo, "a.py"))
	version := f.store.Version()

	require.NoError(t, os.WriteFile(f.abs("a.py"), []byte{0xff, 0xfe, 0xfd}, 0o644))
	err := f.process(t, watcher.Modified, "a.py")
	require.ErrorIs(t, err, parser.ErrParse)

	assert.Equal(t, before, ids(f.store.NodesInFile(testRepo, "a.py")))
	assert.Equal(t, version, f.store.Version())
}

func TestPipeline_HandlerSeesEvents(t *testing.T) {
	t.Parallel()
	rec := &recordingHandler{}
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{Handler: rec})

	writeAt(t, f.root, "a.py", srcA+"\ndef baz():\n    pass\n")
	require.NoError(t, f.process(t, watcher.Modified, "a.py"))
	require.NoError(t, f.process(t, watcher.Modified, "a.py"))

	events := rec.events()
	require.Len(t, events, 2)
	assert.Equal(t, testRepo, events[0].RepoID)
	require.NotNil(t, events[0].Patch)
	assert.NotEmpty(t, events[0].Patch.AddedNodes)
	assert.Nil(t, events[1].Patch)
}

func TestPipeline_Run(t *testing.T) {
	t.Parallel()
	f := newFixture(t, map[string]string{"a.py": srcA}, Config{})

	writeAt(t, f.root, "c.py", "def qux():\n    pass\n")
	events := make(chan watcher.ChangeEvent, 2)
	events <- watcher.ChangeEvent{Kind: watcher.Created, Path: f.abs("c.py")}
	events <- watcher.ChangeEvent{Kind: watcher.Modified, Path: "/nowhere/else.py"}
	close(events)

	require.NoError(t, f.pipe.Run(context.Background(), events))
	f.node(t, ast.KindFunction, "qux", "c.py")
	assert.Equal(t, 2, f.pipe.Stats().EventsProcessed)
	assert.Equal(t, 1, f.pipe.Stats().Errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.pipe.Run(ctx, make(chan watcher.ChangeEvent)), context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	store := graph.NewStore()

	_, err := New(store, nil, Config{Root: t.TempDir()})
	assert.ErrorIs(t, err, ErrNoRepository)
	_, err = New(store, nil, Config{RepoID: testRepo})
	assert.ErrorIs(t, err, ErrNoRoot)
}

func TestRelPath(t *testing.T) {
	t.Parallel()
	p := &Pipeline{root: filepath.FromSlash("/repo")}

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "/repo/a.py", want: "a.py"},
		{in: "/repo/pkg/../b.py", want: "b.py"},
		{in: "pkg/c.py", want: "pkg/c.py"},
		{in: "/other/a.py", wantErr: true},
		{in: "../a.py", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := p.relPath(filepath.FromSlash(tt.in))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrOutsideRoot)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type recordingHandler struct {
	mu   sync.Mutex
	evs  []Event
	errs []error
}

func (h *recordingHandler) HandleEvent(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evs = append(h.evs, ev)
}

func (h *recordingHandler) HandleError(_ watcher.ChangeEvent, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) events() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.evs)
}

func (h *recordingHandler) errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.errs)
}
