package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/indexer"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/pipeline"
	"github.com/mvp-joe/lattice/internal/scanner"
	"github.com/mvp-joe/lattice/internal/watcher"
)

// Options configures a Manager.
type Options struct {
	// Indexer configures cold-start runs. The zero value means
	// indexer.DefaultOptions. TreeCache and Logger are set per repository by
	// the manager.
	Indexer indexer.Options

	// Watcher configures warm updates. Empty Extensions means every
	// extension the engine can parse.
	Watcher watcher.Options

	// StaleAfter is how long an index stays fresh. Zero means DefaultStaleAfter.
	StaleAfter time.Duration

	// TreeCacheSize bounds the trees retained per repository.
	TreeCacheSize int

	// Handler observes every change applied while watching.
	Handler pipeline.EventHandler

	// Revision labels each index run, typically with the checked out
	// commit. Nil or an empty result gets a random tag.
	Revision func(root string) string

	// OnReindex is called after a branch switch rebuilt a watched
	// repository's graph.
	OnReindex func(repoID string, res *indexer.Result)

	// Content, when set, indexes documentation, configuration and comments
	// next to the graph. Its failures are logged and never fail an index run.
	Content ContentIndexer

	Logger *slog.Logger
}

// ContentIndexer follows the non-code content of repositories.
// *search.ContentIndex implements it.
type ContentIndexer interface {
	// Extensions are scanned and watched in addition to source files.
	Extensions() []string
	IndexRepository(ctx context.Context, repoID string, scan *scanner.ScanResult) error
	Update(ctx context.Context, repoID string, ev watcher.ChangeEvent) error
	RemoveRepository(repoID string) error
}

// RepositoryInfo is a point-in-time view of one repository.
type RepositoryInfo struct {
	Config     RepositoryConfig `json:"config"`
	State      State            `json:"state"`
	Health     HealthStatus     `json:"health"`
	Watching   bool             `json:"watching"`
	Branch     string           `json:"branch,omitempty"`
	LastScan   time.Time        `json:"last_scan"`
	LastIndex  time.Time        `json:"last_index"`
	LastUpdate time.Time        `json:"last_update"`
	LastStats  *indexer.Stats   `json:"last_stats,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	TotalFiles int              `json:"total_files"`
	TotalNodes int              `json:"total_nodes"`
	TotalEdges int              `json:"total_edges"`
	Pipeline   *pipeline.Stats  `json:"pipeline,omitempty"`
}

// AggregateStats sums every registered repository.
type AggregateStats struct {
	Repositories int            `json:"repositories"`
	Watching     int            `json:"watching"`
	Files        int            `json:"files"`
	Nodes        int            `json:"nodes"`
	Edges        int            `json:"edges"`
	ByState      map[string]int `json:"by_state"`
}

// Manager owns the registered repositories and drives each through its
// lifecycle. All methods are safe for concurrent use.
type Manager struct {
	store  *graph.Store
	engine *parser.Engine
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	repos  map[string]*repo
	closed bool
}

type repo struct {
	cfg   RepositoryConfig
	trees *parser.TreeCache

	// op serializes indexing runs and change processing.
	op sync.Mutex

	mu         sync.Mutex
	state      State
	health     HealthStatus
	lastScan   time.Time
	lastIndex  time.Time
	lastUpdate time.Time
	lastStats  *indexer.Stats
	lastErr    error
	watch      *watchSession
}

type watchSession struct {
	w      *watcher.Watcher
	branch *watcher.BranchWatcher
	pipe   *pipeline.Pipeline
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager writing into store.
func NewManager(store *graph.Store, engine *parser.Engine, opts Options) *Manager {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Indexer == (indexer.Options{}) {
		opts.Indexer = indexer.DefaultOptions()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		engine: engine,
		opts:   opts,
		logger: logger,
		now:    time.Now,
		repos:  make(map[string]*repo),
	}
}

// Register adds a repository in the Unregistered state.
func (m *Manager) Register(cfg RepositoryConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	root, err := filepath.Abs(cfg.RootPath)
	if err != nil {
		return fmt.Errorf("failed to resolve root %s: %w", cfg.RootPath, err)
	}
	cfg.RootPath = root
	if cfg.Name == "" {
		cfg.Name = filepath.Base(root)
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.repos[cfg.RepoID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, cfg.RepoID)
	}
	trees, err := parser.NewTreeCache(m.opts.TreeCacheSize)
	if err != nil {
		return err
	}
	m.repos[cfg.RepoID] = &repo{
		cfg:    cfg,
		trees:  trees,
		state:  Unregistered,
		health: HealthStatus{State: Stale},
	}
	repositoriesGauge.WithLabelValues(Unregistered.String()).Inc()
	m.logger.Info("repository.registered", "repo", cfg.RepoID, "root", root)
	return nil
}

// Unregister stops watching, removes the repository's graph and forgets it.
func (m *Manager) Unregister(ctx context.Context, repoID string) error {
	m.mu.Lock()
	r, ok := m.repos[repoID]
	if ok {
		delete(m.repos, repoID)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, repoID)
	}

	m.stopSession(r)
	r.op.Lock()
	defer r.op.Unlock()
	r.mu.Lock()
	repositoriesGauge.WithLabelValues(r.state.String()).Dec()
	r.mu.Unlock()
	r.trees.Close()
	if m.opts.Content != nil {
		if err := m.opts.Content.RemoveRepository(repoID); err != nil {
			m.logger.Warn("repository.content_remove_failed", "repo", repoID, "error", err)
		}
	}
	m.logger.Info("repository.unregistered", "repo", repoID)
	return m.store.ClearRepo(ctx, repoID)
}

func (m *Manager) get(repoID string) (*repo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	r, ok := m.repos[repoID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, repoID)
	}
	return r, nil
}

// Index scans the repository and replaces its graph with a fresh bulk index
// in one patch. A progress sink that also implements
// scanner.ProgressReporter receives scan callbacks too.
func (m *Manager) Index(ctx context.Context, repoID string, progress indexer.ProgressSink) (*indexer.Result, error) {
	r, err := m.get(repoID)
	if err != nil {
		return nil, err
	}
	r.op.Lock()
	defer r.op.Unlock()

	ctx, span := tracer.Start(ctx, "Manager.Index",
		trace.WithAttributes(
			attribute.String("repo_id", repoID),
			attribute.String("root", r.cfg.RootPath),
		),
	)
	defer span.End()

	res, err := m.index(ctx, r, progress)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index failed")
		m.fail(r, err)
		return nil, err
	}
	return res, nil
}

func (m *Manager) index(ctx context.Context, r *repo, progress indexer.ProgressSink) (*indexer.Result, error) {
	if err := m.transition(r, Scanning); err != nil {
		return nil, err
	}
	if _, err := os.Stat(r.cfg.RootPath); err != nil {
		return nil, fmt.Errorf("repository root unavailable: %w", err)
	}

	reporter, _ := progress.(scanner.ProgressReporter)
	scan, err := m.scan(ctx, r, reporter)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.lastScan = m.now()
	r.mu.Unlock()

	if err := m.transition(r, Indexing); err != nil {
		return nil, err
	}
	opts := m.opts.Indexer
	opts.TreeCache = r.trees
	opts.Logger = m.logger
	cfg := indexer.IndexingConfig{RepoID: r.cfg.RepoID}
	if m.opts.Revision != nil {
		cfg.RevisionTag = m.opts.Revision(r.cfg.RootPath)
	}
	res, err := indexer.New(m.engine, opts).Index(ctx, cfg, scan, progress)
	if err != nil {
		return nil, err
	}

	// Replace the previous graph wholesale. Removals are applied first, so
	// nodes that survive the reindex are simply written back.
	patch := res.Patch
	for _, n := range m.store.Nodes(r.cfg.RepoID) {
		patch.RemovedNodeIDs = append(patch.RemovedNodeIDs, n.ID)
	}
	if err := m.store.ApplyPatch(ctx, patch); err != nil {
		return nil, fmt.Errorf("failed to apply index: %w", err)
	}
	if m.opts.Content != nil {
		if err := m.opts.Content.IndexRepository(ctx, r.cfg.RepoID, scan); err != nil {
			m.logger.Warn("repository.content_index_failed", "repo", r.cfg.RepoID, "error", err)
		}
	}

	r.mu.Lock()
	r.lastIndex = m.now()
	stats := res.Stats
	r.lastStats = &stats
	r.health = fromIndexStats(stats)
	r.lastErr = nil
	r.mu.Unlock()
	if err := m.transition(r, Ready); err != nil {
		return nil, err
	}
	m.logger.Info("repository.indexed",
		"repo", r.cfg.RepoID,
		"files", stats.FilesProcessed,
		"errors", stats.ErrorCount,
		"nodes", stats.NodesCreated,
		"edges", stats.EdgesCreated,
		"duration", stats.Duration)
	return res, nil
}

func (m *Manager) scan(ctx context.Context, r *repo, reporter scanner.ProgressReporter) (*scanner.ScanResult, error) {
	sc, err := scanner.New(scanner.Options{
		ExcludePatterns:   r.cfg.ExcludePatterns,
		MaxFileSize:       r.cfg.MaxFileSize,
		FollowSymlinks:    r.cfg.FollowSymlinks,
		Classifier:        m.engine.Registry(),
		ContentExtensions: m.contentExtensions(),
	})
	if err != nil {
		return nil, err
	}
	scan, err := sc.Scan(ctx, r.cfg.RootPath, reporter)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", r.cfg.RootPath, err)
	}
	return scan, nil
}

// IndexContent rescans the repository and rebuilds only its content index,
// for a graph restored from a snapshot. It is a no-op without Options.Content.
func (m *Manager) IndexContent(ctx context.Context, repoID string) error {
	if m.opts.Content == nil {
		return nil
	}
	r, err := m.get(repoID)
	if err != nil {
		return err
	}
	r.op.Lock()
	defer r.op.Unlock()
	scan, err := m.scan(ctx, r, nil)
	if err != nil {
		return err
	}
	return m.opts.Content.IndexRepository(ctx, repoID, scan)
}

// StartWatching binds a watcher and monitoring pipeline to an indexed
// repository. The session lasts until StopWatching, Close or ctx is done.
// Watching an already watched repository is a no-op.
func (m *Manager) StartWatching(ctx context.Context, repoID string) error {
	r, err := m.get(repoID)
	if err != nil {
		return err
	}
	r.op.Lock()
	defer r.op.Unlock()

	r.mu.Lock()
	watching := r.watch != nil
	state := r.state
	r.mu.Unlock()
	if watching {
		return nil
	}
	if state != Ready && state != Stopped {
		return &TransitionError{RepoID: repoID, From: state, To: Ready}
	}

	wopts := m.opts.Watcher
	if len(wopts.Extensions) == 0 {
		wopts.Extensions = append(m.engine.SupportedExtensions(), m.contentExtensions()...)
	}
	wopts.IgnorePatterns = append(slices.Clip(wopts.IgnorePatterns), r.cfg.ExcludePatterns...)
	wopts.Logger = m.logger
	w, err := watcher.New(wopts)
	if err != nil {
		return err
	}
	if err := w.Watch(r.cfg.RootPath); err != nil {
		_ = w.Stop()
		return err
	}
	pipe, err := pipeline.New(m.store, m.engine, pipeline.Config{
		RepoID:    repoID,
		Root:      r.cfg.RootPath,
		Handler:   m.opts.Handler,
		TreeCache: r.trees,
		Logger:    m.logger,
	})
	if err != nil {
		_ = w.Stop()
		return err
	}
	if state == Stopped {
		if err := m.transition(r, Ready); err != nil {
			_ = w.Stop()
			return err
		}
	}

	wctx, cancel := context.WithCancel(ctx)
	s := &watchSession{w: w, pipe: pipe, cancel: cancel, done: make(chan struct{})}
	s.branch = m.watchBranch(wctx, r)
	r.mu.Lock()
	r.watch = s
	r.mu.Unlock()
	go m.watchLoop(wctx, r, s)
	m.logger.Info("repository.watching", "repo", repoID, "root", r.cfg.RootPath)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, r *repo, s *watchSession) {
	defer close(s.done)
	errs := s.w.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.w.Events():
			if !ok {
				return
			}
			m.apply(ctx, r, s.pipe, ev)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			m.logger.Warn("repository.watch_error", "repo", r.cfg.RepoID, "error", err)
			if _, statErr := os.Stat(r.cfg.RootPath); statErr != nil {
				m.fail(r, fmt.Errorf("repository root no longer exists: %w", statErr))
				return
			}
		}
	}
}

func (m *Manager) contentExtensions() []string {
	if m.opts.Content == nil {
		return nil
	}
	return m.opts.Content.Extensions()
}

// watchBranch reindexes r whenever its checkout switches branch. Roots that
// are not git working trees return nil.
func (m *Manager) watchBranch(ctx context.Context, r *repo) *watcher.BranchWatcher {
	gitDir := watcher.GitDir(r.cfg.RootPath)
	if gitDir == "" {
		return nil
	}
	bw, err := watcher.NewBranchWatcher(gitDir, m.logger)
	if err != nil {
		m.logger.Warn("repository.branch_watch_failed", "repo", r.cfg.RepoID, "error", err)
		return nil
	}
	err = bw.Start(ctx, func(from, to string) {
		m.reindexAfterCheckout(ctx, r, from, to)
	})
	if err != nil {
		_ = bw.Stop()
		m.logger.Warn("repository.branch_watch_failed", "repo", r.cfg.RepoID, "error", err)
		return nil
	}
	return bw
}

// reindexAfterCheckout replaces the graph once a checkout has settled.
// File events from the checkout that were already applied are overwritten.
func (m *Manager) reindexAfterCheckout(ctx context.Context, r *repo, from, to string) {
	r.op.Lock()
	defer r.op.Unlock()
	if ctx.Err() != nil {
		return
	}
	branchSwitchesTotal.Inc()
	m.logger.Info("repository.branch_switched", "repo", r.cfg.RepoID, "from", from, "to", to)
	res, err := m.index(ctx, r, nil)
	if err != nil {
		m.fail(r, err)
		return
	}
	if m.opts.OnReindex != nil {
		m.opts.OnReindex(r.cfg.RepoID, res)
	}
}

// apply moves the repository through Updating while one change is processed.
func (m *Manager) apply(ctx context.Context, r *repo, pipe *pipeline.Pipeline, ev watcher.ChangeEvent) {
	r.op.Lock()
	defer r.op.Unlock()
	if err := m.transition(r, Updating); err != nil {
		m.logger.Debug("repository.event_dropped", "repo", r.cfg.RepoID, "path", ev.Path, "error", err)
		return
	}
	// Per-event failures are counted by the pipeline and leave the graph as it was.
	_ = pipe.Process(ctx, ev)
	if m.opts.Content != nil {
		if err := m.opts.Content.Update(ctx, r.cfg.RepoID, ev); err != nil {
			m.logger.Warn("repository.content_update_failed", "repo", r.cfg.RepoID, "path", ev.Path, "error", err)
		}
	}
	if _, err := os.Stat(r.cfg.RootPath); err != nil {
		m.fail(r, fmt.Errorf("repository root no longer exists: %w", err))
		return
	}
	r.mu.Lock()
	r.lastUpdate = m.now()
	r.mu.Unlock()
	_ = m.transition(r, Ready)
}

// StopWatching ends the watch session. In-flight changes finish first.
func (m *Manager) StopWatching(repoID string) error {
	r, err := m.get(repoID)
	if err != nil {
		return err
	}
	if !m.stopSession(r) {
		return fmt.Errorf("%w: %s", ErrNotWatching, repoID)
	}
	r.mu.Lock()
	state := r.state
	r.mu.Unlock()
	if state == Ready || state == Updating {
		return m.transition(r, Stopped)
	}
	return nil
}

func (m *Manager) stopSession(r *repo) bool {
	r.mu.Lock()
	s := r.watch
	r.watch = nil
	r.mu.Unlock()
	if s == nil {
		return false
	}
	s.cancel()
	if s.branch != nil {
		_ = s.branch.Stop()
	}
	if err := s.w.Stop(); err != nil {
		m.logger.Warn("repository.watch_stop", "repo", r.cfg.RepoID, "error", err)
	}
	<-s.done
	s.pipe.Close()
	m.logger.Info("repository.watch_stopped", "repo", r.cfg.RepoID)
	return true
}

// Status returns the repository's current view.
func (m *Manager) Status(repoID string) (RepositoryInfo, error) {
	r, err := m.get(repoID)
	if err != nil {
		return RepositoryInfo{}, err
	}
	return m.info(r), nil
}

func (m *Manager) info(r *repo) RepositoryInfo {
	st := m.store.RepoStats(r.cfg.RepoID)
	r.mu.Lock()
	defer r.mu.Unlock()
	info := RepositoryInfo{
		Config:     r.cfg,
		State:      r.state,
		Health:     r.health,
		Watching:   r.watch != nil,
		LastScan:   r.lastScan,
		LastIndex:  r.lastIndex,
		LastUpdate: r.lastUpdate,
		TotalFiles: st.TotalFiles,
		TotalNodes: st.TotalNodes,
		TotalEdges: st.TotalEdges,
	}
	if r.lastStats != nil {
		stats := *r.lastStats
		info.LastStats = &stats
	}
	if r.lastErr != nil {
		info.LastError = r.lastErr.Error()
	}
	if r.watch != nil {
		ps := r.watch.pipe.Stats()
		info.Pipeline = &ps
		if r.watch.branch != nil {
			info.Branch = r.watch.branch.Branch()
		}
	}
	return info
}

// HealthCheck re-evaluates and returns the repository's health. A missing
// root moves the repository to Error.
func (m *Manager) HealthCheck(repoID string) (HealthStatus, error) {
	r, err := m.get(repoID)
	if err != nil {
		return HealthStatus{}, err
	}
	if _, err := os.Stat(r.cfg.RootPath); err != nil {
		m.fail(r, fmt.Errorf("repository root no longer exists: %w", err))
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.health, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.state == Error:
		reason := "repository is in error state"
		if r.lastErr != nil {
			reason = r.lastErr.Error()
		}
		r.health = HealthStatus{State: Unhealthy, Reason: reason}
	case r.lastStats == nil:
		r.health = HealthStatus{State: Stale}
	default:
		graded := fromIndexStats(*r.lastStats)
		fresh := r.lastIndex
		if r.lastUpdate.After(fresh) {
			fresh = r.lastUpdate
		}
		if graded.State != Unhealthy && m.now().Sub(fresh) > m.opts.StaleAfter {
			graded = HealthStatus{State: Stale}
		}
		r.health = graded
	}
	return r.health, nil
}

// List returns every repository ordered by id.
func (m *Manager) List() []RepositoryInfo {
	m.mu.RLock()
	repos := make([]*repo, 0, len(m.repos))
	for _, r := range m.repos {
		repos = append(repos, r)
	}
	m.mu.RUnlock()

	out := make([]RepositoryInfo, 0, len(repos))
	for _, r := range repos {
		out = append(out, m.info(r))
	}
	slices.SortFunc(out, func(a, b RepositoryInfo) int {
		switch {
		case a.Config.RepoID < b.Config.RepoID:
			return -1
		case a.Config.RepoID > b.Config.RepoID:
			return 1
		}
		return 0
	})
	return out
}

// Stats sums counts across repositories.
func (m *Manager) Stats() AggregateStats {
	agg := AggregateStats{ByState: make(map[string]int)}
	for _, info := range m.List() {
		agg.Repositories++
		agg.Files += info.TotalFiles
		agg.Nodes += info.TotalNodes
		agg.Edges += info.TotalEdges
		agg.ByState[info.State.String()]++
		if info.Watching {
			agg.Watching++
		}
	}
	return agg
}

// Close stops every watch session and releases retained trees. The graph is
// left in the store.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	repos := make([]*repo, 0, len(m.repos))
	for _, r := range m.repos {
		repos = append(repos, r)
	}
	m.mu.Unlock()

	for _, r := range repos {
		m.stopSession(r)
		r.op.Lock()
		r.trees.Close()
		r.op.Unlock()
	}
	return nil
}

func (m *Manager) transition(r *repo, to State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return m.transitionLocked(r, to)
}

func (m *Manager) transitionLocked(r *repo, to State) error {
	from := r.state
	if !CanTransition(from, to) {
		return &TransitionError{RepoID: r.cfg.RepoID, From: from, To: to}
	}
	r.state = to
	repositoriesGauge.WithLabelValues(from.String()).Dec()
	repositoriesGauge.WithLabelValues(to.String()).Inc()
	transitionsTotal.WithLabelValues(to.String()).Inc()
	m.logger.Debug("repository.transition", "repo", r.cfg.RepoID, "from", from.String(), "to", to.String())
	return nil
}

// fail moves the repository to Error unless err is only an illegal transition.
func (m *Manager) fail(r *repo, err error) {
	if errors.Is(err, ErrInvalidTransition) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = m.transitionLocked(r, Error)
	r.lastErr = err
	r.health = HealthStatus{State: Unhealthy, Reason: err.Error()}
	m.logger.Error("repository.failed", "repo", r.cfg.RepoID, "error", err)
}
