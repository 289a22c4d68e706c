package mcp

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/scanner"
	"github.com/mvp-joe/lattice/internal/search"
)

// Test Plan for search_content:
// - NewServer registers search_content when a content index is configured
// - Query string hits return file, type, title, line range and highlights
// - Type and file filters narrow results; regex queries match words
// - Missing query and unknown types are tool errors; a closed index is a tool error
// - get_stats includes content counts

func newContentIndex(t *testing.T) *search.ContentIndex {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"docs/setup.md":  "# Setup\n\nInstall the daemon with make.\n",
		"deploy/app.yml": "replicas: 3\ndaemon: enabled\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	sc, err := scanner.New(scanner.Options{ContentExtensions: search.ContentExtensions()})
	require.NoError(t, err)
	scan, err := sc.Scan(context.Background(), root, nil)
	require.NoError(t, err)

	idx, err := search.NewContentIndex(search.ContentOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	require.NoError(t, idx.IndexRepository(context.Background(), testRepo, scan))
	return idx
}

func TestNewServer_Content(t *testing.T) {
	t.Parallel()
	s, err := NewServer(Config{Store: graph.NewStore(), Content: newContentIndex(t)})
	require.NoError(t, err)
	assert.Contains(t, s.MCP().ListTools(), "search_content")
}

func TestSearchContent(t *testing.T) {
	t.Parallel()
	h := createSearchContentHandler(newContentIndex(t))

	resp := decode[contentResponse](t, call(t, h, map[string]any{"query": "daemon"}))
	assert.Equal(t, "daemon", resp.Query)
	assert.Equal(t, 2, resp.Total)

	resp = decode[contentResponse](t, call(t, h, map[string]any{"query": "install", "types": []any{"documentation"}}))
	require.Len(t, resp.Results, 1)
	hit := resp.Results[0]
	assert.Equal(t, "docs/setup.md", hit.File)
	assert.Equal(t, "documentation", hit.Type)
	assert.Equal(t, "markdown", hit.Format)
	assert.Equal(t, "Setup", hit.Title)
	assert.Equal(t, 1, hit.StartLine)
	assert.Equal(t, 3, hit.EndLine)
	assert.Equal(t, testRepo, hit.RepoID)
	assert.NotEmpty(t, hit.Highlights)

	resp = decode[contentResponse](t, call(t, h, map[string]any{"query": "daemon", "file_pattern": "deploy/*"}))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "configuration", resp.Results[0].Type)

	resp = decode[contentResponse](t, call(t, h, map[string]any{"query": "replic.*", "regex": true}))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "deploy/app.yml", resp.Results[0].File)

	resp = decode[contentResponse](t, call(t, h, map[string]any{"query": "daemon", "limit": 1}))
	assert.Len(t, resp.Results, 1)
}

func TestSearchContent_Errors(t *testing.T) {
	t.Parallel()
	idx := newContentIndex(t)
	h := createSearchContentHandler(idx)

	res := call(t, h, map[string]any{})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "query parameter is required")

	res = call(t, h, map[string]any{"query": "x", "types": []any{"code"}})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "invalid content type: code")

	require.NoError(t, idx.Close())
	res = call(t, h, map[string]any{"query": "daemon"})
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "closed")
}

func TestGetStats_Content(t *testing.T) {
	t.Parallel()
	h := createGetStatsHandler(graph.NewStore(), nil, newContentIndex(t))

	resp := decode[statsResponse](t, call(t, h, nil))
	require.NotNil(t, resp.Content)
	assert.Equal(t, 2, resp.Content.Files)
	assert.Equal(t, 1, resp.Content.ByType[search.ContentDocumentation])
	assert.Equal(t, 1, resp.Content.ByType[search.ContentConfiguration])
}
