package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan for Global Config Loader:
// - LoadGlobalConfig() returns defaults when file doesn't exist (not an error)
// - LoadGlobalConfig() loads from ~/.lattice/config.yml when present
// - LoadGlobalConfig() expands ~ in repository roots and base_dir
// - LoadGlobalConfig() environment variables override YAML values
// - LoadGlobalConfig() rejects repositories without a root
// - LoadGlobalConfig() returns error for malformed YAML

func writeGlobalConfig(t *testing.T, home, content string) {
	t.Helper()
	dir := filepath.Join(home, ".lattice")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yml"), []byte(content), 0644))
}

func TestLoadGlobalConfig_MissingFile(t *testing.T) {
	// Note: Cannot use t.Parallel() with t.Setenv()
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	cfg, err := LoadGlobalConfig()

	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, filepath.Join(tempHome, ".lattice", "graphs"), cfg.Storage.BaseDir)
	assert.Empty(t, cfg.Repositories)
}

func TestLoadGlobalConfig_WithFile(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	writeGlobalConfig(t, tempHome, `
storage:
  base_dir: ~/data/lattice
repositories:
  - id: api
    root: /src/api
  - id: web
    root: ~/src/web
`)

	cfg, err := LoadGlobalConfig()

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tempHome, "data", "lattice"), cfg.Storage.BaseDir)
	assert.Equal(t, []RepositoryEntry{
		{ID: "api", Root: "/src/api"},
		{ID: "web", Root: filepath.Join(tempHome, "src", "web")},
	}, cfg.Repositories)
}

func TestLoadGlobalConfig_EnvOverrides(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	writeGlobalConfig(t, tempHome, `
storage:
  base_dir: /file/graphs
`)
	t.Setenv("LATTICE_STORAGE_BASE_DIR", "/env/graphs")

	cfg, err := LoadGlobalConfig()

	require.NoError(t, err)
	assert.Equal(t, "/env/graphs", cfg.Storage.BaseDir)
}

func TestLoadGlobalConfig_RepositoryWithoutRoot(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	writeGlobalConfig(t, tempHome, `
repositories:
  - id: api
`)

	cfg, err := LoadGlobalConfig()

	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "repositories[0]: root is required")
}

func TestLoadGlobalConfig_InvalidYAML(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)

	writeGlobalConfig(t, tempHome, `
storage:
  base_dir: "unclosed
  unclosed_quote_above
`)

	cfg, err := LoadGlobalConfig()

	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to")
}
