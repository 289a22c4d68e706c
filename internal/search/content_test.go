package search

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/scanner"
	"github.com/mvp-joe/lattice/internal/watcher"
)

// Test Plan for ContentIndex:
// - Documentation, configuration and source comments are indexed by type
// - Markdown headings become chunk titles; hits carry <mark> highlights
// - A comment is linked to the definition on the following line
// - Repo, type and file filters narrow results; regex matches indexed words
// - Created, modified, renamed and deleted files and removed directories are followed
// - Changes to unknown repositories are ignored
// - Reindexing and RemoveRepository drop a repository's chunks
// - Empty queries fail and a closed index rejects searches
// - Chunk ids are stable and length-prefixed

const settingsSrc = "# Loads settings from disk.\ndef load_settings():\n    return 1\n"

type contentFixture struct {
	root  string
	store *graph.Store
	idx   *ContentIndex
	fn    ast.Node
}

func newContentFixture(t *testing.T) *contentFixture {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	f := &contentFixture{root: root, store: graph.NewStore()}
	f.write(t, "README.md", "# Install\n\nRun make install to build the retriever.\n")
	f.write(t, "config/app.yaml", "timeout: 30\nretries: 5\n")
	f.write(t, "src/settings.py", settingsSrc)

	f.fn = ast.NewNode(testRepo, ast.KindFunction, "load_settings", ast.LangPython, "src/settings.py",
		ast.Span{StartByte: 28, EndByte: len(settingsSrc) - 1, StartLine: 2, EndLine: 3, StartCol: 1, EndCol: 13})
	require.NoError(t, f.store.InsertNodes(context.Background(), testRepo, f.fn))

	engine, err := parser.NewEngine(parser.Options{})
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	f.idx, err = NewContentIndex(ContentOptions{Comments: engine, Store: f.store})
	require.NoError(t, err)
	t.Cleanup(func() { f.idx.Close() })
	return f
}

func (f *contentFixture) write(t *testing.T, rel, content string) string {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (f *contentFixture) index(t *testing.T) {
	t.Helper()
	sc, err := scanner.New(scanner.Options{ContentExtensions: ContentExtensions()})
	require.NoError(t, err)
	scan, err := sc.Scan(context.Background(), f.root, nil)
	require.NoError(t, err)
	require.NoError(t, f.idx.IndexRepository(context.Background(), testRepo, scan))
}

func (f *contentFixture) search(t *testing.T, q ContentQuery) []ContentResult {
	t.Helper()
	res, err := f.idx.Search(context.Background(), q)
	require.NoError(t, err)
	return res
}

func files(results []ContentResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.File
	}
	return out
}

func TestContentIndex_IndexRepository(t *testing.T) {
	t.Parallel()
	f := newContentFixture(t)
	f.index(t)

	st := f.idx.Stats(testRepo)
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, 1, st.ByType[ContentDocumentation])
	assert.Equal(t, 1, st.ByType[ContentConfiguration])
	assert.Equal(t, 1, st.ByType[ContentComment])
	assert.Equal(t, 0, f.idx.Stats("other").Chunks)

	docs := f.search(t, ContentQuery{Text: "install"})
	require.Len(t, docs, 1)
	c := docs[0].Chunk
	assert.Equal(t, "README.md", c.File)
	assert.Equal(t, ContentDocumentation, c.Type)
	assert.Equal(t, "markdown", c.Format)
	assert.Equal(t, "Install", c.Title)
	assert.Equal(t, 1, c.StartLine)
	assert.Equal(t, 3, c.EndLine)
	require.NotEmpty(t, docs[0].Highlights)
	assert.Contains(t, docs[0].Highlights[0], "<mark>")

	comments := f.search(t, ContentQuery{Text: "disk", Types: []ContentType{ContentComment}})
	require.Len(t, comments, 1)
	c = comments[0].Chunk
	assert.Equal(t, "src/settings.py", c.File)
	assert.Equal(t, "Loads settings from disk.", c.Text)
	assert.Equal(t, "python", c.Format)
	assert.Equal(t, []ast.NodeID{f.fn.ID}, c.Related)

	cfg := f.search(t, ContentQuery{Text: "timeout", FilePattern: "config/*"})
	require.Len(t, cfg, 1)
	assert.Equal(t, ContentConfiguration, cfg[0].Chunk.Type)
	assert.Equal(t, "yaml", cfg[0].Chunk.Format)

	assert.Empty(t, f.search(t, ContentQuery{Text: "timeout", FilePattern: "docs/*"}))
	assert.Empty(t, f.search(t, ContentQuery{Text: "install", RepoID: "other"}))
	assert.Empty(t, f.search(t, ContentQuery{Text: "install", Types: []ContentType{ContentConfiguration}}))

	re := f.search(t, ContentQuery{Text: "retr.*", Regex: true})
	assert.ElementsMatch(t, []string{"README.md", "config/app.yaml"}, files(re))
}

func TestContentIndex_Update(t *testing.T) {
	t.Parallel()
	f := newContentFixture(t)
	f.index(t)
	ctx := context.Background()

	guide := f.write(t, "docs/guide.md", "Deployment walkthrough.\n")
	require.NoError(t, f.idx.Update(ctx, testRepo, watcher.ChangeEvent{Kind: watcher.Created, Path: guide}))
	assert.Equal(t, []string{"docs/guide.md"}, files(f.search(t, ContentQuery{Text: "walkthrough"})))

	readme := f.write(t, "README.md", "Deprecated readme.\n")
	require.NoError(t, f.idx.Update(ctx, testRepo, watcher.ChangeEvent{Kind: watcher.Modified, Path: readme}))
	assert.Empty(t, f.search(t, ContentQuery{Text: "install"}))
	assert.Len(t, f.search(t, ContentQuery{Text: "deprecated"}), 1)

	moved := filepath.Join(f.root, "config", "prod.yaml")
	require.NoError(t, os.Rename(filepath.Join(f.root, "config", "app.yaml"), moved))
	require.NoError(t, f.idx.Update(ctx, testRepo, watcher.ChangeEvent{
		Kind: watcher.Renamed, Path: moved, OldPath: filepath.Join(f.root, "config", "app.yaml"),
	}))
	assert.Equal(t, []string{"config/prod.yaml"}, files(f.search(t, ContentQuery{Text: "timeout"})))

	require.NoError(t, os.RemoveAll(filepath.Join(f.root, "config")))
	require.NoError(t, f.idx.Update(ctx, testRepo, watcher.ChangeEvent{
		Kind: watcher.Deleted, Path: filepath.Join(f.root, "config"), Dir: true,
	}))
	assert.Empty(t, f.search(t, ContentQuery{Text: "timeout"}))

	require.NoError(t, os.Remove(guide))
	require.NoError(t, f.idx.Update(ctx, testRepo, watcher.ChangeEvent{Kind: watcher.Deleted, Path: guide}))
	assert.Empty(t, f.search(t, ContentQuery{Text: "walkthrough"}))

	// A change to a file that no longer exists removes it.
	gone := filepath.Join(f.root, "gone.md")
	require.NoError(t, f.idx.Update(ctx, testRepo, watcher.ChangeEvent{Kind: watcher.Modified, Path: gone}))

	// Files the index does not read are ignored.
	bin := f.write(t, "logo.png", "png")
	require.NoError(t, f.idx.Update(ctx, testRepo, watcher.ChangeEvent{Kind: watcher.Created, Path: bin}))
	require.NoError(t, f.idx.Update(ctx, "unknown", watcher.ChangeEvent{Kind: watcher.Created, Path: guide}))

	st := f.idx.Stats("")
	assert.Equal(t, 2, st.Files)
}

func TestContentIndex_RemoveAndReindex(t *testing.T) {
	t.Parallel()
	f := newContentFixture(t)
	f.index(t)

	require.NoError(t, os.Remove(filepath.Join(f.root, "README.md")))
	f.index(t)
	assert.Empty(t, f.search(t, ContentQuery{Text: "install"}))
	assert.Equal(t, 2, f.idx.Stats(testRepo).Files)

	require.NoError(t, f.idx.RemoveRepository(testRepo))
	assert.Empty(t, f.search(t, ContentQuery{Text: "timeout"}))
	assert.Equal(t, 0, f.idx.Stats("").Files)

	// Changes after removal are ignored until the repository is indexed again.
	readme := f.write(t, "README.md", "install again\n")
	require.NoError(t, f.idx.Update(context.Background(), testRepo, watcher.ChangeEvent{Kind: watcher.Created, Path: readme}))
	assert.Empty(t, f.search(t, ContentQuery{Text: "install"}))
}

func TestContentIndex_Errors(t *testing.T) {
	t.Parallel()
	idx, err := NewContentIndex(ContentOptions{})
	require.NoError(t, err)

	_, err = idx.Search(context.Background(), ContentQuery{})
	assert.ErrorIs(t, err, ErrEmptyQuery)
	assert.Error(t, idx.IndexRepository(context.Background(), "", &scanner.ScanResult{}))

	require.NoError(t, idx.Close())
	require.NoError(t, idx.Close())
	_, err = idx.Search(context.Background(), ContentQuery{Text: "x"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, idx.IndexRepository(context.Background(), testRepo, &scanner.ScanResult{Root: t.TempDir()}), ErrClosed)
}

func TestChunkID(t *testing.T) {
	t.Parallel()
	a := chunkID("app", "sx.md", 0, "text")
	assert.Equal(t, a, chunkID("app", "sx.md", 0, "text"))
	assert.NotEqual(t, a, chunkID("apps", "x.md", 0, "text"))
	assert.NotEqual(t, a, chunkID("app", "sx.md", 1, "text"))
	assert.Len(t, a, 32)
}

func TestParseContentType(t *testing.T) {
	t.Parallel()
	typ, ok := ParseContentType("Comment")
	assert.True(t, ok)
	assert.Equal(t, ContentComment, typ)
	_, ok = ParseContentType("code")
	assert.False(t, ok)
}
