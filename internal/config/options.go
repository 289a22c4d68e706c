package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/indexer"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/repository"
	"github.com/mvp-joe/lattice/internal/search"
	"github.com/mvp-joe/lattice/internal/storage"
	"github.com/mvp-joe/lattice/internal/watcher"
)

// ToRepositoryConfig converts the repository section into a registration for
// rootDir. An empty id falls back to the directory name.
func (c *Config) ToRepositoryConfig(rootDir string) repository.RepositoryConfig {
	id := c.Repository.ID
	if id == "" {
		id = filepath.Base(filepath.Clean(rootDir))
	}
	rc := repository.NewRepositoryConfig(id, rootDir)
	if c.Repository.Name != "" {
		rc.Name = c.Repository.Name
	}
	rc.Description = c.Repository.Description
	rc.ExcludePatterns = c.Repository.Exclude
	rc.MaxFileSize = c.Repository.MaxFileSize
	rc.FollowSymlinks = c.Repository.FollowSymlinks
	return rc
}

// ToEngineOptions converts the parser section into engine options.
func (c *Config) ToEngineOptions() parser.Options {
	return parser.Options{
		MaxDepth:     c.Parser.MaxDepth,
		ParseTimeout: c.Parser.ParseTimeout,
		PoolSize:     c.Parser.PoolSize,
	}
}

// ToManagerOptions converts the indexing and watcher sections into
// repository manager options.
func (c *Config) ToManagerOptions(logger *slog.Logger) repository.Options {
	return repository.Options{
		Indexer: indexer.Options{
			Workers:     c.Indexing.Workers,
			StopOnError: !c.Indexing.ContinueOnError,
			Linking:     c.Indexing.Linking,
		},
		Watcher: watcher.Options{
			DebounceWindow: c.Watcher.Debounce,
			QueueSize:      c.Watcher.QueueSize,
		},
		StaleAfter:    c.Indexing.StaleAfter,
		TreeCacheSize: c.Parser.TreeCacheSize,
		Logger:        logger,
	}
}

// ToContentOptions converts the content section into content index options.
// Comments are read through engine and linked to nodes in store.
func (c *Config) ToContentOptions(engine *parser.Engine, store *graph.Store, logger *slog.Logger) search.ContentOptions {
	opts := search.ContentOptions{
		ChunkTokens: c.Content.ChunkTokens,
		Logger:      logger,
	}
	if c.Content.Comments {
		opts.Comments = engine
		opts.Store = store
	}
	return opts
}

// StorageDir resolves where snapshots for the project at rootDir live. A
// relative storage.path is taken from rootDir; an empty one uses the global
// base directory.
func (c *Config) StorageDir(rootDir string, global *GlobalConfig) string {
	switch {
	case c.Storage.Path == "":
		return global.Storage.BaseDir
	case filepath.IsAbs(c.Storage.Path):
		return c.Storage.Path
	}
	return filepath.Join(rootDir, c.Storage.Path)
}

// OpenStorage opens the configured snapshot backend under StorageDir. The
// sqlite backend keeps every repository in one graph.db.
func (c *Config) OpenStorage(rootDir string, global *GlobalConfig) (storage.Backend, error) {
	dir := c.StorageDir(rootDir, global)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	if c.Storage.Backend == storage.BackendSQLite {
		return storage.Open(storage.BackendSQLite, filepath.Join(dir, "graph.db"))
	}
	return storage.Open(c.Storage.Backend, dir)
}
