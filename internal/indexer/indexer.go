package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/scanner"
)

// ErrNoRepository is returned when Index is called without a repository id.
var ErrNoRepository = errors.New("indexing config has no repository id")

// Indexer turns a scan result into a single graph patch. It never touches
// the graph store; the caller decides when to apply the patch.
type Indexer struct {
	engine *parser.Engine
	opts   Options
	logger *slog.Logger
}

// New creates an Indexer that parses with engine.
func New(engine *parser.Engine, opts Options) *Indexer {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{engine: engine, opts: opts, logger: logger}
}

// outcome is what one worker produced for one file.
type outcome struct {
	path string
	unit Unit
	err  error
}

// Index parses every file of the scan with bounded parallelism and merges
// the results, in path order, into one patch. A failing file is recorded in
// Result.Errors and left out of the patch unless StopOnError is set, in which
// case the first failure aborts the run.
func (ix *Indexer) Index(ctx context.Context, cfg IndexingConfig, scan *scanner.ScanResult, progress ProgressSink) (*Result, error) {
	if cfg.RepoID == "" {
		return nil, ErrNoRepository
	}
	if cfg.RevisionTag == "" {
		cfg.RevisionTag = uuid.NewString()
	}
	if progress == nil {
		progress = &NoOpProgressSink{}
	}

	ctx, span := tracer.Start(ctx, "Indexer.Index",
		trace.WithAttributes(
			attribute.String("repo_id", cfg.RepoID),
			attribute.Int("files", scan.TotalFiles),
		),
	)
	defer span.End()

	start := time.Now()
	files := scan.Files()
	progress.OnIndexStart(len(files))
	ix.logger.Info("indexer.start", "repo", cfg.RepoID, "files", len(files), "workers", ix.opts.Workers)

	outcomes := make([]outcome, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.opts.Workers)
	for i, rel := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = ix.indexFile(gctx, cfg.RepoID, scan.Root, rel)
			progress.OnFileIndexed(rel, outcomes[i].err)
			if outcomes[i].err != nil && ix.opts.StopOnError {
				return FileError{Path: rel, Err: outcomes[i].err}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "indexing aborted")
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("failed to index %s: %w", cfg.RepoID, err)
	}
	// A cancelled run may have skipped files without reporting them.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := ix.merge(cfg, outcomes, progress)
	result.Stats.Duration = time.Since(start)
	indexDuration.Observe(result.Stats.Duration.Seconds())

	span.SetAttributes(
		attribute.Int("nodes", result.Stats.NodesCreated),
		attribute.Int("edges", result.Stats.EdgesCreated),
		attribute.Int("errors", result.Stats.ErrorCount),
	)
	ix.logger.Info("indexer.done",
		"repo", cfg.RepoID,
		"files", result.Stats.FilesProcessed,
		"errors", result.Stats.ErrorCount,
		"nodes", result.Stats.NodesCreated,
		"edges", result.Stats.EdgesCreated,
		"links", result.Stats.LinksCreated,
		"duration", result.Stats.Duration)
	progress.OnIndexComplete(result.Stats, result.Stats.Duration)
	return result, nil
}

func (ix *Indexer) indexFile(ctx context.Context, repoID, root, rel string) outcome {
	lang := ast.LanguageFromPath(rel)
	start := time.Now()
	fail := func(err error) outcome {
		filesTotal.WithLabelValues(string(lang), "error").Inc()
		return outcome{path: rel, err: err}
	}

	content, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		return fail(fmt.Errorf("failed to read file: %w", err))
	}

	res, err := ix.engine.Parse(ctx, parser.ParseContext{
		RepoID:   repoID,
		FilePath: rel,
		Content:  content,
	})
	parseDuration.WithLabelValues(string(lang)).Observe(time.Since(start).Seconds())
	if err != nil {
		ix.logger.Debug("indexer.file_failed", "file", rel, "error", err)
		return fail(err)
	}
	filesTotal.WithLabelValues(string(res.Language), "ok").Inc()

	if ix.opts.TreeCache != nil {
		ix.opts.TreeCache.Put(rel, res.Tree)
	} else {
		res.Tree.Close()
	}
	return outcome{
		path: rel,
		unit: Unit{File: rel, Nodes: res.Nodes, Edges: res.Edges},
	}
}

// merge folds per-file outcomes into one patch. outcomes is in path order,
// which makes the patch deterministic regardless of worker scheduling.
func (ix *Indexer) merge(cfg IndexingConfig, outcomes []outcome, progress ProgressSink) *Result {
	b := graph.NewPatchBuilder(cfg.RepoID, cfg.RevisionTag)
	result := &Result{}
	var units []Unit

	for _, o := range outcomes {
		if o.err != nil {
			result.Errors = append(result.Errors, FileError{Path: o.path, Err: o.err})
			continue
		}
		b.AddNodes(o.unit.Nodes...)
		b.AddEdges(o.unit.Edges...)
		units = append(units, o.unit)
	}

	result.Stats.FilesProcessed = len(units)
	result.Stats.ErrorCount = len(result.Errors)
	result.Stats.NodesCreated = len(b.Build().AddedNodes)
	result.Stats.EdgesCreated = len(b.Build().AddedEdges)

	if ix.opts.Linking && len(units) > 0 {
		progress.OnLinkingStart(len(units))
		linker := NewLinker(NewSymbolTable(units...))
		before := len(b.Build().AddedEdges)
		for _, u := range units {
			for _, e := range linker.Link(u) {
				n := len(b.Build().AddedEdges)
				if len(b.AddEdge(e).Build().AddedEdges) > n {
					linksTotal.WithLabelValues(string(e.Kind)).Inc()
				}
			}
		}
		result.Stats.LinksCreated = len(b.Build().AddedEdges) - before
		result.Stats.EdgesCreated += result.Stats.LinksCreated
	}

	result.Patch = b.Build()
	return result
}
