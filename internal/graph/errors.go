package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when a node id is not in the store.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound is returned when an edge triple is not in the store.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrStorage marks a rejected store mutation.
	ErrStorage = errors.New("storage error")

	// ErrNoPath is returned by FindPath when the target is unreachable.
	ErrNoPath = errors.New("no path")

	// ErrAmbiguous is returned by LookupSymbol when a name matches more than
	// one definition.
	ErrAmbiguous = errors.New("ambiguous symbol")
)

// StorageError describes why a mutation was rejected. The store is left
// exactly as it was before the mutation.
type StorageError struct {
	Op     string
	RepoID string
	Reason string
}

func (e *StorageError) Error() string {
	if e.RepoID == "" {
		return fmt.Sprintf("storage error: %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("storage error: %s (repo %s): %s", e.Op, e.RepoID, e.Reason)
}

// Is makes errors.Is(err, ErrStorage) match.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

func rejectf(op, repo, format string, args ...any) error {
	return &StorageError{Op: op, RepoID: repo, Reason: fmt.Sprintf(format, args...)}
}
