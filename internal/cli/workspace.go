package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mvp-joe/lattice/internal/config"
	"github.com/mvp-joe/lattice/internal/git"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/indexer"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/pipeline"
	"github.com/mvp-joe/lattice/internal/repository"
	"github.com/mvp-joe/lattice/internal/search"
	"github.com/mvp-joe/lattice/internal/storage"
)

// gitOps labels snapshots with the checked out revision.
var gitOps git.Operations = git.NewOperations()

// workspace wires the graph store, parser engine, repository manager,
// content index and snapshot backend for one project root plus any globally
// listed roots.
type workspace struct {
	root    string
	repoID  string
	cfg     *config.Config
	global  *config.GlobalConfig
	store   *graph.Store
	engine  *parser.Engine
	repos   *repository.Manager
	content *search.ContentIndex // nil when content.enabled is off
	backend storage.Backend
	logger  *slog.Logger
}

// resolveRoot returns the absolute project root from an optional path argument.
func resolveRoot(args []string) (string, error) {
	root := "."
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("failed to access %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

func loadProjectConfig(root string) (*config.Config, error) {
	if cfgFile != "" {
		return config.NewFileLoader(root, cfgFile).Load()
	}
	return config.LoadConfigFromDir(root)
}

func openWorkspace(root string, logger *slog.Logger) (*workspace, error) {
	cfg, err := loadProjectConfig(root)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	global, err := config.LoadGlobalConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load global configuration: %w", err)
	}

	engine, err := parser.NewEngine(cfg.ToEngineOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to create parser engine: %w", err)
	}
	backend, err := cfg.OpenStorage(root, global)
	if err != nil {
		engine.Close()
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	w := &workspace{
		root:    root,
		cfg:     cfg,
		global:  global,
		store:   graph.NewStore(),
		engine:  engine,
		backend: backend,
		logger:  logger,
	}
	opts := cfg.ToManagerOptions(logger)
	opts.Handler = pipeline.LoggingHandler{Logger: logger, Verbose: verbose}
	opts.Revision = func(root string) string { return git.Revision(gitOps, root) }
	opts.OnReindex = w.saveReindex
	if cfg.Content.Enabled {
		w.content, err = search.NewContentIndex(cfg.ToContentOptions(engine, w.store, logger))
		if err != nil {
			backend.Close()
			engine.Close()
			return nil, fmt.Errorf("failed to create content index: %w", err)
		}
		opts.Content = w.content
	}
	w.repos = repository.NewManager(w.store, engine, opts)

	rc := cfg.ToRepositoryConfig(root)
	if err := w.repos.Register(rc); err != nil {
		w.Close()
		return nil, err
	}
	w.repoID = rc.RepoID
	return w, nil
}

// registerGlobal adds every repository listed in the global config except
// the workspace's own root. Each uses its own project config.
func (w *workspace) registerGlobal() ([]string, error) {
	var ids []string
	for _, entry := range w.global.Repositories {
		root, err := filepath.Abs(entry.Root)
		if err != nil {
			return ids, err
		}
		if root == w.root {
			continue
		}
		cfg, err := config.LoadConfigFromDir(root)
		if err != nil {
			return ids, fmt.Errorf("failed to load configuration for %s: %w", root, err)
		}
		if entry.ID != "" {
			cfg.Repository.ID = entry.ID
		}
		rc := cfg.ToRepositoryConfig(root)
		if err := w.repos.Register(rc); err != nil {
			return ids, err
		}
		ids = append(ids, rc.RepoID)
	}
	return ids, nil
}

// index runs a cold-start index of repoID and saves the resulting snapshot.
func (w *workspace) index(ctx context.Context, repoID string, progress indexer.ProgressSink) (*indexer.Result, error) {
	res, err := w.repos.Index(ctx, repoID, progress)
	if err != nil {
		return nil, err
	}
	if _, err := storage.Persist(ctx, w.backend, w.store, repoID, res.Patch.RevisionTag); err != nil {
		return res, fmt.Errorf("failed to save snapshot: %w", err)
	}
	return res, nil
}

// saveReindex saves the graph a branch switch rebuilt while watching.
func (w *workspace) saveReindex(repoID string, res *indexer.Result) {
	if _, err := storage.Persist(context.Background(), w.backend, w.store, repoID, res.Patch.RevisionTag); err != nil {
		w.logger.Error("cli.persist_failed", "repo", repoID, "error", err)
	}
}

// load restores the saved snapshot of repoID, indexing when there is none.
// It reports whether the graph came from the snapshot.
func (w *workspace) load(ctx context.Context, repoID string, progress indexer.ProgressSink) (bool, error) {
	restored, err := storage.Restore(ctx, w.backend, w.store, repoID)
	if err != nil {
		// A snapshot that cannot be read is rebuilt rather than fatal.
		w.logger.Warn("cli.restore_failed", "repo", repoID, "error", err)
	}
	if restored {
		w.logger.Debug("cli.restored", "repo", repoID, "nodes", w.store.RepoStats(repoID).TotalNodes)
		// Snapshots hold the graph only.
		if err := w.repos.IndexContent(ctx, repoID); err != nil {
			w.logger.Warn("cli.content_index_failed", "repo", repoID, "error", err)
		}
		return true, nil
	}
	_, err = w.index(ctx, repoID, progress)
	return false, err
}

// persist saves the current graph of every registered repository.
func (w *workspace) persist(ctx context.Context) error {
	var errs []error
	for _, info := range w.repos.List() {
		if info.State == repository.Unregistered {
			continue
		}
		revision := git.Revision(gitOps, info.Config.RootPath)
		if _, err := storage.Persist(ctx, w.backend, w.store, info.Config.RepoID, revision); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", info.Config.RepoID, err))
		}
	}
	return errors.Join(errs...)
}

func (w *workspace) Close() error {
	err := w.repos.Close()
	if cerr := w.backend.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if w.content != nil {
		if cerr := w.content.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	w.engine.Close()
	return err
}
