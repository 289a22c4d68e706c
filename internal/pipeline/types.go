package pipeline

import (
	"errors"
	"log/slog"
	"time"

	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/watcher"
)

var (
	// ErrNoRepository is returned by New when Config.RepoID is empty.
	ErrNoRepository = errors.New("pipeline config has no repository id")

	// ErrNoRoot is returned by New when Config.Root is empty.
	ErrNoRoot = errors.New("pipeline config has no root")

	// ErrOutsideRoot is returned for an event whose path is not under the root.
	ErrOutsideRoot = errors.New("path is outside the repository root")
)

// Config configures a Pipeline.
type Config struct {
	RepoID string

	// Root is the repository root. Relative event paths are resolved against
	// it and absolute ones must lie beneath it.
	Root string

	// Handler observes every processed event. Nil means NoopHandler.
	Handler EventHandler

	// TreeCache retains parse trees between changes. Sharing the bulk
	// indexer's cache makes the first change to a file incremental too. When
	// nil the pipeline owns a private cache and closes it in Close.
	TreeCache *parser.TreeCache

	// DisableLinking skips cross-file resolution for changed files.
	DisableLinking bool

	Logger *slog.Logger
}

// Event describes one processed change.
type Event struct {
	RepoID string
	Change watcher.ChangeEvent
	// Patch is what was applied, or nil when the change left the graph as it was.
	Patch    *graph.Patch
	Duration time.Duration
}

// Stats counts what a pipeline has done since it was created.
type Stats struct {
	EventsProcessed int `json:"events_processed"`
	// EventsSkipped counts events that produced no patch: unchanged
	// content, unsupported files, or files the graph never held.
	EventsSkipped  int       `json:"events_skipped"`
	Errors         int       `json:"errors"`
	PatchesApplied int       `json:"patches_applied"`
	NodesAdded     int       `json:"nodes_added"`
	NodesRemoved   int       `json:"nodes_removed"`
	EdgesAdded     int       `json:"edges_added"`
	EdgesRemoved   int       `json:"edges_removed"`
	LastError      error     `json:"-"`
	LastEventAt    time.Time `json:"last_event_at"`
}
