package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/indexer"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/watcher"
)

// Pipeline keeps the graph store in step with file changes. Each event is
// turned into one patch, the set difference between what the store holds for
// the affected files and a fresh parse of them, and applied atomically.
//
// Renames are handled as a removal of the old path plus a parse of the new
// one inside the same patch, so readers never see the file missing.
type Pipeline struct {
	store    *graph.Store
	engine   *parser.Engine
	cfg      Config
	root     string
	trees    *parser.TreeCache
	ownTrees bool
	handler  EventHandler
	logger   *slog.Logger

	// mu serializes Process so patches reach the store in event order.
	mu      sync.Mutex
	digests map[string]uint64

	statsMu sync.Mutex
	stats   Stats
}

// New creates a pipeline that applies changes under cfg.Root to store.
func New(store *graph.Store, engine *parser.Engine, cfg Config) (*Pipeline, error) {
	if cfg.RepoID == "" {
		return nil, ErrNoRepository
	}
	if cfg.Root == "" {
		return nil, ErrNoRoot
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", cfg.Root, err)
	}

	p := &Pipeline{
		store:   store,
		engine:  engine,
		cfg:     cfg,
		root:    root,
		trees:   cfg.TreeCache,
		handler: cfg.Handler,
		logger:  cfg.Logger,
		digests: make(map[string]uint64),
	}
	if p.trees == nil {
		trees, err := parser.NewTreeCache(0)
		if err != nil {
			return nil, err
		}
		p.trees = trees
		p.ownTrees = true
	}
	if p.handler == nil {
		p.handler = NoopHandler{}
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p, nil
}

// Run processes events until the channel closes or ctx is done. Failures of
// single events are recorded in Stats and reported to the handler; they do not
// stop the loop.
func (p *Pipeline) Run(ctx context.Context, events <-chan watcher.ChangeEvent) error {
	p.logger.Info("pipeline.start", "repo", p.cfg.RepoID, "root", p.root)
	defer p.logger.Info("pipeline.stop", "repo", p.cfg.RepoID)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			_ = p.Process(ctx, ev)
		}
	}
}

// Process applies a single change. The store is either fully updated or
// left untouched.
func (p *Pipeline) Process(ctx context.Context, ev watcher.ChangeEvent) error {
	ctx, span := tracer.Start(ctx, "Pipeline.Process",
		trace.WithAttributes(
			attribute.String("repo_id", p.cfg.RepoID),
			attribute.String("kind", ev.Kind.String()),
			attribute.String("path", ev.Path),
		),
	)
	defer span.End()

	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()
	u, err := p.prepare(ctx, ev)
	if err == nil && !u.patch.IsEmpty() {
		if err = p.store.ApplyPatch(ctx, u.patch); err != nil {
			u.discard()
			err = fmt.Errorf("failed to apply patch for %s: %w", ev.Path, err)
		}
	}
	elapsed := time.Since(start)
	processDuration.Observe(elapsed.Seconds())

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		eventsTotal.WithLabelValues(ev.Kind.String(), "error").Inc()
		p.recordError(err)
		p.logger.Warn("pipeline.failed", "repo", p.cfg.RepoID, "kind", ev.Kind.String(), "path", ev.Path, "error", err)
		p.handler.HandleError(ev, err)
		return err
	}
	u.commit(p)

	out := Event{RepoID: p.cfg.RepoID, Change: ev, Duration: elapsed}
	if u.patch.IsEmpty() {
		eventsTotal.WithLabelValues(ev.Kind.String(), "skipped").Inc()
	} else {
		out.Patch = u.patch
		eventsTotal.WithLabelValues(ev.Kind.String(), "applied").Inc()
		patchesTotal.Inc()
		operationsTotal.WithLabelValues("add_node").Add(float64(len(u.patch.AddedNodes)))
		operationsTotal.WithLabelValues("remove_node").Add(float64(len(u.patch.RemovedNodeIDs)))
		operationsTotal.WithLabelValues("add_edge").Add(float64(len(u.patch.AddedEdges)))
		operationsTotal.WithLabelValues("remove_edge").Add(float64(len(u.patch.RemovedEdges)))
		span.SetAttributes(attribute.Int("operations", u.patch.OperationCount()))
		p.logger.Debug("pipeline.apply",
			"repo", p.cfg.RepoID,
			"path", ev.Path,
			"revision", u.patch.RevisionTag,
			"operations", u.patch.OperationCount(),
			"duration", elapsed)
	}
	p.recordEvent(out.Patch)
	p.handler.HandleEvent(out)
	return nil
}

// Stats returns a copy of the counters.
func (p *Pipeline) Stats() Stats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	return p.stats
}

// Close releases the tree cache when the pipeline owns it.
func (p *Pipeline) Close() {
	if p.ownTrees {
		p.trees.Close()
	}
}

func (p *Pipeline) recordError(err error) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.EventsProcessed++
	p.stats.Errors++
	p.stats.LastError = err
	p.stats.LastEventAt = time.Now()
}

func (p *Pipeline) recordEvent(patch *graph.Patch) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	p.stats.EventsProcessed++
	p.stats.LastEventAt = time.Now()
	if patch == nil {
		p.stats.EventsSkipped++
		return
	}
	p.stats.PatchesApplied++
	p.stats.NodesAdded += len(patch.AddedNodes)
	p.stats.NodesRemoved += len(patch.RemovedNodeIDs)
	p.stats.EdgesAdded += len(patch.AddedEdges)
	p.stats.EdgesRemoved += len(patch.RemovedEdges)
}

// fileChange is the before and after of one file.
type fileChange struct {
	oldNodes []ast.Node
	oldEdges []ast.Edge
	// unit is nil when the file leaves the graph.
	unit   *indexer.Unit
	tree   *parser.Tree
	digest uint64
}

// update collects the effect of one event until the patch is applied.
type update struct {
	files map[string]*fileChange
	b     *graph.PatchBuilder
	patch *graph.Patch
}

func (p *Pipeline) touch(u *update, rel string) *fileChange {
	if fc, ok := u.files[rel]; ok {
		return fc
	}
	fc := &fileChange{}
	fc.oldNodes, fc.oldEdges = p.store.FileSlice(p.cfg.RepoID, rel)
	u.files[rel] = fc
	return fc
}

// commit moves retained trees and digests to their new state.
func (u *update) commit(p *Pipeline) {
	for rel, fc := range u.files {
		if fc.unit == nil {
			p.trees.Remove(rel)
			delete(p.digests, rel)
			continue
		}
		p.trees.Put(rel, fc.tree)
		p.digests[rel] = fc.digest
	}
}

func (u *update) discard() {
	if u == nil {
		return
	}
	for _, fc := range u.files {
		fc.tree.Close()
	}
}

func (p *Pipeline) prepare(ctx context.Context, ev watcher.ChangeEvent) (*update, error) {
	rel, err := p.relPath(ev.Path)
	if err != nil {
		return nil, err
	}
	u := &update{
		files: make(map[string]*fileChange),
		b:     graph.NewPatchBuilder(p.cfg.RepoID, uuid.NewString()),
	}

	switch ev.Kind {
	case watcher.Deleted:
		p.removePath(u, rel)
		// A rename that was deleted before it fired still owns its old path.
		if old, err := p.relPath(ev.OldPath); ev.OldPath != "" && err == nil {
			p.removePath(u, old)
		}
	case watcher.Renamed:
		if ev.OldPath != "" {
			old, err := p.relPath(ev.OldPath)
			switch {
			case err == nil:
				p.removePath(u, old)
			case !errors.Is(err, ErrOutsideRoot):
				return nil, err
			}
		}
		err = p.reparse(ctx, u, rel)
	default:
		err = p.reparse(ctx, u, rel)
	}
	if err != nil {
		u.discard()
		return nil, err
	}

	p.diff(u)
	return u, nil
}

// removePath takes rel, and every file beneath it when it was a directory,
// out of the graph.
func (p *Pipeline) removePath(u *update, rel string) {
	p.touch(u, rel).unit = nil
	for _, f := range p.store.Files(p.cfg.RepoID) {
		if under(f, rel) {
			p.touch(u, f).unit = nil
		}
	}
}

func (p *Pipeline) reparse(ctx context.Context, u *update, rel string) error {
	content, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// The file went away before its event was processed.
			p.removePath(u, rel)
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", rel, err)
	}

	sum := xxh3.Hash(content)
	if d, ok := p.digests[rel]; ok && d == sum && len(p.store.NodesInFile(p.cfg.RepoID, rel)) > 0 {
		return nil
	}

	prev, _ := p.trees.Get(rel)
	res, err := p.engine.Parse(ctx, parser.ParseContext{
		RepoID:       p.cfg.RepoID,
		FilePath:     rel,
		Content:      content,
		PreviousTree: prev,
	})
	if err != nil {
		if errors.Is(err, parser.ErrUnsupportedLanguage) {
			return nil
		}
		return err
	}

	fc := p.touch(u, rel)
	fc.unit = &indexer.Unit{File: rel, Nodes: res.Nodes, Edges: res.Edges}
	fc.tree = res.Tree
	fc.digest = sum
	return nil
}

// diff fills the builder with the difference between the old and new content
// of every touched file, then refreshes links from untouched files that may
// have pointed at them.
func (p *Pipeline) diff(u *update) {
	files := slices.Sorted(maps.Keys(u.files))

	var src indexer.SymbolSource = storeSource{store: p.store, repoID: p.cfg.RepoID}
	for _, f := range files {
		var nodes []ast.Node
		if unit := u.files[f].unit; unit != nil {
			nodes = unit.Nodes
		}
		src = indexer.Overlay(src, f, nodes)
	}
	linker := indexer.NewLinker(src)

	for _, f := range files {
		fc := u.files[f]
		var nodes []ast.Node
		var edges []ast.Edge
		if fc.unit != nil {
			nodes = fc.unit.Nodes
			edges = slices.Clip(fc.unit.Edges)
			if !p.cfg.DisableLinking {
				edges = append(edges, linker.Link(*fc.unit)...)
			}
		}
		diffNodes(u.b, fc.oldNodes, nodes)
		diffEdges(u.b, fc.oldEdges, edges)
	}
	if !p.cfg.DisableLinking {
		p.relink(u, linker)
	}
	u.patch = u.b.Build()
}

// relink recomputes the link edges of untouched files holding a call or
// import named after a definition that was touched. Class bases in untouched
// files are refreshed on their own next change.
func (p *Pipeline) relink(u *update, linker *indexer.Linker) {
	names := make(map[string]struct{})
	for _, fc := range u.files {
		nodes := fc.oldNodes
		if fc.unit != nil {
			nodes = append(slices.Clip(nodes), fc.unit.Nodes...)
		}
		for _, n := range nodes {
			if definition(n.Kind) {
				names[n.Name] = struct{}{}
			}
		}
	}

	affected := make(map[string]struct{})
	for name := range names {
		for _, n := range p.store.NodesNamed(p.cfg.RepoID, name) {
			if _, ok := u.files[n.File]; ok {
				continue
			}
			if n.Kind == ast.KindCall || n.Kind == ast.KindImport {
				affected[n.File] = struct{}{}
			}
		}
	}

	for _, f := range slices.Sorted(maps.Keys(affected)) {
		nodes, edges := p.store.FileSlice(p.cfg.RepoID, f)
		var mapped, links []ast.Edge
		for _, e := range edges {
			if tgt, err := p.store.GetNode(e.Target); err == nil && indexer.IsLinkEdge(e, tgt.Kind) {
				links = append(links, e)
			} else {
				mapped = append(mapped, e)
			}
		}
		diffEdges(u.b, links, linker.Link(indexer.Unit{File: f, Nodes: nodes, Edges: mapped}))
	}
}

func diffNodes(b *graph.PatchBuilder, old, cur []ast.Node) {
	next := make(map[ast.NodeID]struct{}, len(cur))
	for _, n := range cur {
		next[n.ID] = struct{}{}
	}
	prev := make(map[ast.NodeID]ast.Node, len(old))
	for _, n := range old {
		prev[n.ID] = n
		if _, ok := next[n.ID]; !ok {
			b.RemoveNode(n.ID)
		}
	}
	// A node whose id survives is overwritten in place, which keeps the
	// edges other files hold to it.
	for _, n := range cur {
		if o, ok := prev[n.ID]; !ok || !o.Equal(n) {
			b.AddNode(n)
		}
	}
}

func diffEdges(b *graph.PatchBuilder, old, cur []ast.Edge) {
	next := make(map[ast.Edge]struct{}, len(cur))
	for _, e := range cur {
		next[e] = struct{}{}
	}
	prev := make(map[ast.Edge]struct{}, len(old))
	for _, e := range old {
		prev[e] = struct{}{}
		if _, ok := next[e]; !ok {
			b.RemoveEdge(e)
		}
	}
	for _, e := range cur {
		if _, ok := prev[e]; !ok {
			b.AddEdge(e)
		}
	}
}

// relPath turns an event path into a repository-relative slash path.
func (p *Pipeline) relPath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutsideRoot)
	}
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(p.root, path)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
		}
		rel = r
	}
	rel = ast.NormalizePath(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return rel, nil
}

func under(file, dir string) bool {
	return dir == "." || strings.HasPrefix(file, dir+"/")
}
