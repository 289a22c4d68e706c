package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/indexer"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/pipeline"
	"github.com/mvp-joe/lattice/internal/scanner"
	"github.com/mvp-joe/lattice/internal/watcher"
)

// Test Plan for Manager:
// - Register validates config and rejects duplicates
// - A new repository is Unregistered and Stale
// - Index moves the repository to Ready and fills the store
// - Reindexing replaces the graph, dropping deleted files
// - A missing root sends the repository to Error; reindex recovers
// - Health is Degraded under 10% failures and Unhealthy at or above
// - An old index is Stale
// - Watching applies file changes; StopWatching moves to Stopped
// - Watching before indexing is an invalid transition
// - A branch switch in a git checkout reindexes with the configured revision
// - Unregister clears the graph and forgets the repository
// - List and Stats cover every repository
// - A closed manager rejects further calls
// - Progress sinks receive both scan and index callbacks
// - A content indexer receives scanned content files, watched changes and removal
// - IndexContent rescans content alone and is a no-op without a content indexer

func newTestManager(t *testing.T, opts Options) (*Manager, *graph.Store) {
	t.Helper()
	engine, err := parser.NewEngine(parser.Options{})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	if opts.Watcher.DebounceWindow == 0 {
		opts.Watcher.DebounceWindow = 20 * time.Millisecond
	}
	store := graph.NewStore()
	m := NewManager(store, engine, opts)
	t.Cleanup(func() { _ = m.Close() })
	return m, store
}

func writeRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		write(t, root, rel, content)
	}
	return root
}

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func register(t *testing.T, m *Manager, id, root string) {
	t.Helper()
	require.NoError(t, m.Register(NewRepositoryConfig(id, root)))
}

func TestManager_Register(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Options{})
	root := writeRepo(t, nil)

	err := m.Register(RepositoryConfig{RootPath: root})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	register(t, m, "r1", root)
	err = m.Register(NewRepositoryConfig("r1", root))
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	info, err := m.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, Unregistered, info.State)
	assert.Equal(t, Stale, info.Health.State)
	assert.Equal(t, filepath.Base(root), info.Config.Name)
	assert.Equal(t, DefaultMaxFileSize, info.Config.MaxFileSize)

	_, err = m.Status("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_Index(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t, Options{})
	root := writeRepo(t, map[string]string{
		"a.py": "def foo():\n    pass\n",
		"b.py": "def bar():\n    foo()\n",
	})
	register(t, m, "r1", root)

	res, err := m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Stats.FilesProcessed)

	info, err := m.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, Ready, info.State)
	assert.Equal(t, Healthy, info.Health.State)
	assert.Equal(t, 2, info.TotalFiles)
	assert.Positive(t, info.TotalNodes)
	require.NotNil(t, info.LastStats)
	assert.False(t, info.LastIndex.IsZero())
	assert.False(t, info.LastScan.IsZero())
	assert.NotEmpty(t, store.NodesNamed("r1", "foo"))
}

func TestManager_Reindex(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t, Options{})
	root := writeRepo(t, map[string]string{
		"a.py": "def foo():\n    pass\n",
		"b.py": "def bar():\n    pass\n",
	})
	register(t, m, "r1", root)
	_, err := m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.py")))
	write(t, root, "c.py", "def baz():\n    pass\n")
	_, err = m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.py", "c.py"}, store.Files("r1"))
	assert.Empty(t, store.NodesNamed("r1", "bar"))
}

func TestManager_MissingRoot(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Options{})
	root := filepath.Join(t.TempDir(), "repo")
	register(t, m, "r1", root)

	_, err := m.Index(context.Background(), "r1", nil)
	require.Error(t, err)

	info, err := m.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, Error, info.State)
	assert.NotEmpty(t, info.LastError)

	health, err := m.HealthCheck("r1")
	require.NoError(t, err)
	assert.Equal(t, Unhealthy, health.State)

	write(t, root, "a.py", "x = 1\n")
	_, err = m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)
	health, err = m.HealthCheck("r1")
	require.NoError(t, err)
	assert.Equal(t, Healthy, health.State)
}

func TestManager_RootRemovedAfterIndex(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Options{})
	parent := t.TempDir()
	root := filepath.Join(parent, "repo")
	write(t, root, "a.py", "x = 1\n")
	register(t, m, "r1", root)
	_, err := m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(root))
	health, err := m.HealthCheck("r1")
	require.NoError(t, err)
	assert.Equal(t, Unhealthy, health.State)

	info, _ := m.Status("r1")
	assert.Equal(t, Error, info.State)
}

func TestManager_HealthThresholds(t *testing.T) {
	t.Parallel()
	bad := string([]byte{0xff, 0xfe})

	tests := []struct {
		name string
		good int
		want HealthState
	}{
		{name: "one bad in twelve is degraded", good: 11, want: Degraded},
		{name: "one bad in two is unhealthy", good: 1, want: Unhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			files := map[string]string{"bad.py": bad}
			for i := range tt.good {
				files[fmt.Sprintf("f%02d.py", i)] = "x = 1\n"
			}
			m, _ := newTestManager(t, Options{})
			register(t, m, "r1", writeRepo(t, files))

			_, err := m.Index(context.Background(), "r1", nil)
			require.NoError(t, err)
			health, err := m.HealthCheck("r1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, health.State)
			if tt.want == Degraded {
				assert.Equal(t, 1, health.ErrorCount)
			}
		})
	}
}

func TestFromIndexStats(t *testing.T) {
	t.Parallel()
	assert.Equal(t, Healthy, fromIndexStats(indexer.Stats{FilesProcessed: 5}).State)
	assert.Equal(t, Degraded, fromIndexStats(indexer.Stats{FilesProcessed: 95, ErrorCount: 5}).State)
	assert.Equal(t, Unhealthy, fromIndexStats(indexer.Stats{FilesProcessed: 90, ErrorCount: 10}).State)
}

func TestManager_Stale(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Options{})
	register(t, m, "r1", writeRepo(t, map[string]string{"a.py": "x = 1\n"}))
	_, err := m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)

	m.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	health, err := m.HealthCheck("r1")
	require.NoError(t, err)
	assert.Equal(t, Stale, health.State)
}

func TestManager_Watching(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t, Options{})
	root := writeRepo(t, map[string]string{"a.py": "def foo():\n    pass\n"})
	root, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	register(t, m, "r1", root)

	err = m.StartWatching(context.Background(), "r1")
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)
	require.NoError(t, m.StartWatching(context.Background(), "r1"))
	require.NoError(t, m.StartWatching(context.Background(), "r1"))

	write(t, root, "b.py", "def bar():\n    foo()\n")
	require.Eventually(t, func() bool {
		return len(store.NodesNamed("r1", "bar")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	info, err := m.Status("r1")
	require.NoError(t, err)
	assert.True(t, info.Watching)
	require.NotNil(t, info.Pipeline)

	require.NoError(t, m.StopWatching("r1"))
	info, _ = m.Status("r1")
	assert.Equal(t, Stopped, info.State)
	assert.False(t, info.Watching)
	assert.ErrorIs(t, m.StopWatching("r1"), ErrNotWatching)

	// Watching resumes from Stopped.
	require.NoError(t, m.StartWatching(context.Background(), "r1"))
	info, _ = m.Status("r1")
	assert.Equal(t, Ready, info.State)
}

func TestManager_BranchSwitch(t *testing.T) {
	t.Parallel()
	reindexed := make(chan *indexer.Result, 1)
	m, store := newTestManager(t, Options{
		Revision: func(string) string { return "rev-1" },
		OnReindex: func(repoID string, res *indexer.Result) {
			if repoID == "r1" {
				reindexed <- res
			}
		},
	})
	root := writeRepo(t, map[string]string{
		"a.py":      "def foo():\n    pass\n",
		".git/HEAD": "ref: refs/heads/main\n",
	})
	root, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	register(t, m, "r1", root)

	res, err := m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)
	assert.Equal(t, "rev-1", res.Patch.RevisionTag)
	require.NoError(t, m.StartWatching(context.Background(), "r1"))

	info, err := m.Status("r1")
	require.NoError(t, err)
	assert.Equal(t, "main", info.Branch)

	// Files under .git are never indexed; only HEAD's change matters.
	write(t, root, ".git/HEAD", "ref: refs/heads/feature\n")
	select {
	case res := <-reindexed:
		assert.Equal(t, "rev-1", res.Patch.RevisionTag)
		assert.Equal(t, 1, res.Stats.FilesProcessed)
	case <-time.After(5 * time.Second):
		t.Fatal("branch switch did not reindex")
	}
	assert.Len(t, store.NodesNamed("r1", "foo"), 1)

	info, _ = m.Status("r1")
	assert.Equal(t, "feature", info.Branch)
	assert.Equal(t, Ready, info.State)
}

func TestManager_Unregister(t *testing.T) {
	t.Parallel()
	m, store := newTestManager(t, Options{})
	register(t, m, "r1", writeRepo(t, map[string]string{"a.py": "def foo():\n    pass\n"}))
	_, err := m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)
	require.NoError(t, m.StartWatching(context.Background(), "r1"))

	require.NoError(t, m.Unregister(context.Background(), "r1"))
	assert.Empty(t, store.Nodes("r1"))
	_, err = m.Status("r1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, m.Unregister(context.Background(), "r1"), ErrNotFound)
}

type recordingContent struct {
	mu      sync.Mutex
	scans   []*scanner.ScanResult
	events  []watcher.ChangeEvent
	removed []string
}

func (c *recordingContent) Extensions() []string { return []string{".md"} }

func (c *recordingContent) IndexRepository(_ context.Context, _ string, scan *scanner.ScanResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scans = append(c.scans, scan)
	return nil
}

func (c *recordingContent) Update(_ context.Context, _ string, ev watcher.ChangeEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return fmt.Errorf("update failed")
}

func (c *recordingContent) RemoveRepository(repoID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, repoID)
	return nil
}

func (c *recordingContent) sawEvent(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range c.events {
		if ev.Path == path {
			return true
		}
	}
	return false
}

func TestManager_Content(t *testing.T) {
	t.Parallel()
	content := &recordingContent{}
	m, store := newTestManager(t, Options{Content: content})
	root := writeRepo(t, map[string]string{
		"a.py":      "def foo():\n    pass\n",
		"README.md": "# Title\n",
		"notes.rst": "skipped\n",
	})
	root, err := filepath.EvalSymlinks(root)
	require.NoError(t, err)
	register(t, m, "r1", root)

	res, err := m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Stats.FilesProcessed)
	require.Len(t, content.scans, 1)
	assert.Equal(t, []string{"README.md"}, content.scans[0].ContentFiles)

	// Update failures are logged; the graph keeps following changes.
	require.NoError(t, m.StartWatching(context.Background(), "r1"))
	write(t, root, "guide.md", "# Guide\n")
	write(t, root, "b.py", "def bar():\n    pass\n")
	require.Eventually(t, func() bool {
		return content.sawEvent(filepath.Join(root, "guide.md")) && len(store.NodesNamed("r1", "bar")) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, m.IndexContent(context.Background(), "r1"))
	content.mu.Lock()
	require.Len(t, content.scans, 2)
	assert.Equal(t, []string{"README.md", "guide.md"}, content.scans[1].ContentFiles)
	content.mu.Unlock()
	assert.ErrorIs(t, m.IndexContent(context.Background(), "missing"), ErrNotFound)

	require.NoError(t, m.Unregister(context.Background(), "r1"))
	content.mu.Lock()
	defer content.mu.Unlock()
	assert.Equal(t, []string{"r1"}, content.removed)
}

func TestManager_IndexContentWithoutIndexer(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Options{})
	assert.NoError(t, m.IndexContent(context.Background(), "missing"))
}

func TestManager_ListAndStats(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Options{})
	register(t, m, "b", writeRepo(t, map[string]string{"x.py": "def x():\n    pass\n"}))
	register(t, m, "a", writeRepo(t, map[string]string{"y.go": "package y\n\nfunc Y() {}\n"}))
	_, err := m.Index(context.Background(), "a", nil)
	require.NoError(t, err)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].Config.RepoID)
	assert.Equal(t, "b", list[1].Config.RepoID)

	st := m.Stats()
	assert.Equal(t, 2, st.Repositories)
	assert.Equal(t, 1, st.Files)
	assert.Positive(t, st.Nodes)
	assert.Equal(t, map[string]int{"ready": 1, "unregistered": 1}, st.ByState)
}

func TestManager_Closed(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Options{})
	register(t, m, "r1", writeRepo(t, nil))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())

	assert.ErrorIs(t, m.Register(NewRepositoryConfig("r2", t.TempDir())), ErrClosed)
	_, err := m.Index(context.Background(), "r1", nil)
	assert.ErrorIs(t, err, ErrClosed)
}

type recordingProgress struct {
	indexer.NoOpProgressSink
	scanner.NoOpProgressReporter

	mu         sync.Mutex
	scanRoot   string
	discovered int
	indexed    int
}

func (p *recordingProgress) OnScanStart(root string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scanRoot = root
}

func (p *recordingProgress) OnFileDiscovered(string, ast.Language) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.discovered++
}

func (p *recordingProgress) OnFileIndexed(string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.indexed++
}

func TestManager_Progress(t *testing.T) {
	t.Parallel()
	m, _ := newTestManager(t, Options{})
	register(t, m, "r1", writeRepo(t, map[string]string{"a.py": "x = 1\n", "b.py": "y = 2\n"}))

	p := &recordingProgress{}
	_, err := m.Index(context.Background(), "r1", p)
	require.NoError(t, err)
	assert.NotEmpty(t, p.scanRoot)
	assert.Equal(t, 2, p.discovered)
	assert.Equal(t, 2, p.indexed)
}

func TestManager_HandlerReceivesEvents(t *testing.T) {
	t.Parallel()
	seen := make(chan watcher.ChangeEvent, 8)
	m, _ := newTestManager(t, Options{Handler: handlerFunc(func(ev watcher.ChangeEvent) { seen <- ev })})
	root, err := filepath.EvalSymlinks(writeRepo(t, map[string]string{"a.py": "x = 1\n"}))
	require.NoError(t, err)
	register(t, m, "r1", root)
	_, err = m.Index(context.Background(), "r1", nil)
	require.NoError(t, err)
	require.NoError(t, m.StartWatching(context.Background(), "r1"))

	write(t, root, "a.py", "x = 2\n")
	select {
	case ev := <-seen:
		assert.Equal(t, filepath.Join(root, "a.py"), ev.Path)
	case <-time.After(5 * time.Second):
		t.Fatal("no event handled")
	}
}

type handlerFunc func(watcher.ChangeEvent)

func (f handlerFunc) HandleEvent(ev pipeline.Event)          { f(ev.Change) }
func (f handlerFunc) HandleError(watcher.ChangeEvent, error) {}
