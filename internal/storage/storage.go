// Package storage persists repository slices of the graph between runs.
//
// A backend stores one graph.Snapshot per repository. Two backends exist: a
// JSON file per repository written with an atomic rename, and a SQLite
// database holding every repository in relational tables.
package storage

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mvp-joe/lattice/internal/graph"
)

var tracer = otel.Tracer("lattice.storage")

const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

var (
	ErrUnknownBackend = errors.New("unknown storage backend")
	ErrNoRepository   = errors.New("repository id is required")
)

// Backend stores repository snapshots.
type Backend interface {
	// Save replaces the stored snapshot for snap.RepoID.
	Save(ctx context.Context, snap *graph.Snapshot) error

	// Load returns the stored snapshot, or nil without error if none exists.
	Load(ctx context.Context, repoID string) (*graph.Snapshot, error)

	// Delete removes a repository's snapshot. Deleting a missing snapshot is not an error.
	Delete(ctx context.Context, repoID string) error

	// Exists reports whether a snapshot is stored for repoID.
	Exists(ctx context.Context, repoID string) bool

	Close() error
}

// Open creates a backend of the given kind rooted at path. For json, path is
// a directory; for sqlite it is the database file.
func Open(kind, path string) (Backend, error) {
	switch kind {
	case BackendJSON, "":
		return NewJSONBackend(path)
	case BackendSQLite:
		return NewSQLiteBackend(path)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, kind)
}

// Persist snapshots a repository from the store and saves it.
func Persist(ctx context.Context, b Backend, store *graph.Store, repoID, revision string) (graph.SnapshotMeta, error) {
	ctx, span := tracer.Start(ctx, "storage.Persist", trace.WithAttributes(attribute.String("repo_id", repoID)))
	defer span.End()

	snap := store.Snapshot(repoID, revision)
	if err := b.Save(ctx, snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return graph.SnapshotMeta{}, err
	}
	span.SetAttributes(
		attribute.Int("nodes", snap.Metadata.NodeCount),
		attribute.Int("edges", snap.Metadata.EdgeCount),
	)
	return snap.Metadata, nil
}

// Restore loads a repository's snapshot into the store, replacing whatever the
// store holds for it. It reports false when nothing was stored.
func Restore(ctx context.Context, b Backend, store *graph.Store, repoID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "storage.Restore", trace.WithAttributes(attribute.String("repo_id", repoID)))
	defer span.End()

	snap, err := b.Load(ctx, repoID)
	if err == nil && snap != nil {
		err = store.Restore(ctx, snap)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "restore failed")
		return false, err
	}
	return snap != nil, nil
}

func checkRepo(repoID string) error {
	if repoID == "" {
		return ErrNoRepository
	}
	return nil
}
