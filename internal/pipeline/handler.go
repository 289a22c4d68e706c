package pipeline

import (
	"context"
	"log/slog"

	"github.com/mvp-joe/lattice/internal/watcher"
)

// EventHandler observes the pipeline. Calls are made from the goroutine
// running Process, after the patch has been applied.
type EventHandler interface {
	HandleEvent(ev Event)
	HandleError(change watcher.ChangeEvent, err error)
}

// NoopHandler ignores everything.
type NoopHandler struct{}

func (NoopHandler) HandleEvent(Event)                      {}
func (NoopHandler) HandleError(watcher.ChangeEvent, error) {}

// LoggingHandler writes one log record per event.
type LoggingHandler struct {
	Logger *slog.Logger
	// Verbose logs every event at Info. Otherwise only patches are logged,
	// at Debug.
	Verbose bool
}

func (h LoggingHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h LoggingHandler) HandleEvent(ev Event) {
	if ev.Patch == nil && !h.Verbose {
		return
	}
	level := slog.LevelDebug
	if h.Verbose {
		level = slog.LevelInfo
	}
	attrs := []any{
		"repo", ev.RepoID,
		"kind", ev.Change.Kind.String(),
		"path", ev.Change.Path,
		"duration", ev.Duration,
	}
	if p := ev.Patch; p != nil {
		attrs = append(attrs,
			"nodes_added", len(p.AddedNodes),
			"nodes_removed", len(p.RemovedNodeIDs),
			"edges_added", len(p.AddedEdges),
			"edges_removed", len(p.RemovedEdges))
	}
	h.logger().Log(context.Background(), level, "pipeline.event", attrs...)
}

func (h LoggingHandler) HandleError(change watcher.ChangeEvent, err error) {
	h.logger().Error("pipeline.error", "kind", change.Kind.String(), "path", change.Path, "error", err)
}
