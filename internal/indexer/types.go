package indexer

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/parser"
)

// Options configures an Indexer.
type Options struct {
	// Workers bounds the number of files parsed concurrently. Zero means one
	// worker per CPU.
	Workers int

	// StopOnError aborts the batch on the first per-file failure. By default
	// failures are recorded in Result.Errors and the rest of the batch runs.
	StopOnError bool

	// Linking enables the cross-file resolution pass after parsing.
	Linking bool

	// TreeCache, when set, retains every parsed tree for later incremental
	// reparses. Without it trees are closed as soon as their file is mapped.
	TreeCache *parser.TreeCache

	Logger *slog.Logger
}

// DefaultOptions returns options suitable for indexing a whole repository.
func DefaultOptions() Options {
	return Options{
		Workers: runtime.NumCPU(),
		Linking: true,
	}
}

// IndexingConfig identifies the repository and revision a run belongs to.
type IndexingConfig struct {
	RepoID string

	// RevisionTag labels the produced patch. A random tag is generated when empty.
	RevisionTag string
}

// Stats summarizes one indexing run.
type Stats struct {
	FilesProcessed int           `json:"files_processed"`
	ErrorCount     int           `json:"error_count"`
	NodesCreated   int           `json:"nodes_created"`
	EdgesCreated   int           `json:"edges_created"`
	LinksCreated   int           `json:"links_created"`
	Duration       time.Duration `json:"duration"`
}

// Result is the output of Index. Patch holds every successfully parsed file;
// failed files appear only in Errors.
type Result struct {
	Patch  *graph.Patch
	Stats  Stats
	Errors []FileError
}

// FileError records why a single file was left out of the patch.
type FileError struct {
	Path string
	Err  error
}

func (e FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e FileError) Unwrap() error {
	return e.Err
}
