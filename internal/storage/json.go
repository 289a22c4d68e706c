package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/mvp-joe/lattice/internal/graph"
)

// lockRetry is how often a writer polls for another process's snapshot lock.
const lockRetry = 20 * time.Millisecond

// JSONBackend keeps one indented JSON file per repository. Writers in
// different processes (an MCP server and a one-off index, say) serialize on
// a lock file per repository.
type JSONBackend struct {
	dir string
}

// NewJSONBackend creates the snapshot directory with its temp and lock areas.
func NewJSONBackend(dir string) (*JSONBackend, error) {
	for _, sub := range []string{".tmp", ".locks"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
		}
	}
	return &JSONBackend{dir: dir}, nil
}

// Save writes to a temp file first and renames it over the final path.
func (b *JSONBackend) Save(ctx context.Context, snap *graph.Snapshot) error {
	if err := checkRepo(snap.RepoID); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := fileName(snap.RepoID)
	unlock, err := b.lock(ctx, name)
	if err != nil {
		return err
	}
	defer unlock()

	tmp := filepath.Join(b.dir, ".tmp", name)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(b.dir, name)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temp snapshot: %w", err)
	}
	return nil
}

func (b *JSONBackend) Load(ctx context.Context, repoID string) (*graph.Snapshot, error) {
	if err := checkRepo(repoID); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(b.path(repoID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	var snap graph.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot JSON: %w", err)
	}
	if snap.RepoID != repoID {
		return nil, fmt.Errorf("snapshot %s holds repository %q", b.path(repoID), snap.RepoID)
	}
	return &snap, nil
}

func (b *JSONBackend) Delete(ctx context.Context, repoID string) error {
	if err := checkRepo(repoID); err != nil {
		return err
	}
	unlock, err := b.lock(ctx, fileName(repoID))
	if err != nil {
		return err
	}
	defer unlock()
	if err := os.Remove(b.path(repoID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

func (b *JSONBackend) Exists(_ context.Context, repoID string) bool {
	_, err := os.Stat(b.path(repoID))
	return err == nil
}

func (b *JSONBackend) Close() error { return nil }

// lock takes the cross-process lock for one snapshot file.
func (b *JSONBackend) lock(ctx context.Context, name string) (func(), error) {
	fl := flock.New(filepath.Join(b.dir, ".locks", name+".lock"))
	locked, err := fl.TryLockContext(ctx, lockRetry)
	if err != nil {
		return nil, fmt.Errorf("failed to lock snapshot: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("failed to lock snapshot %s", name)
	}
	return func() { _ = fl.Unlock() }, nil
}

func (b *JSONBackend) path(repoID string) string {
	return filepath.Join(b.dir, fileName(repoID))
}

// fileName escapes separators so any repository id maps to a single file.
func fileName(repoID string) string {
	return url.PathEscape(repoID) + ".json"
}
