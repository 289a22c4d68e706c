package graph

import (
	"context"
	"time"

	"github.com/mvp-joe/lattice/internal/ast"
)

// SnapshotVersion is the current version of the snapshot format.
const SnapshotVersion = "1.0"

// SnapshotMeta contains metadata about a snapshot.
type SnapshotMeta struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	RevisionTag string    `json:"revision_tag,omitempty"`
	NodeCount   int       `json:"node_count"`
	EdgeCount   int       `json:"edge_count"`
}

// Snapshot is a self-contained copy of one repository's slice of the graph,
// used by persistence backends.
type Snapshot struct {
	RepoID   string       `json:"repo_id"`
	Metadata SnapshotMeta `json:"metadata"`
	Nodes    []ast.Node   `json:"nodes"`
	Edges    []ast.Edge   `json:"edges"`
}

// Snapshot copies a repository's nodes and the edges they own.
func (s *Store) Snapshot(repoID, revision string) *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{RepoID: repoID, Nodes: []ast.Node{}, Edges: []ast.Edge{}}
	for id, n := range s.nodes {
		if n.RepoID != repoID {
			continue
		}
		snap.Nodes = append(snap.Nodes, n)
		snap.Edges = append(snap.Edges, edgeKeys(s.out[id])...)
	}
	SortNodes(snap.Nodes)
	snap.Metadata = SnapshotMeta{
		Version:     SnapshotVersion,
		GeneratedAt: time.Now(),
		RevisionTag: revision,
		NodeCount:   len(snap.Nodes),
		EdgeCount:   len(snap.Edges),
	}
	return snap
}

// Restore replaces a repository's slice with the snapshot contents in one patch.
func (s *Store) Restore(ctx context.Context, snap *Snapshot) error {
	b := NewPatchBuilder(snap.RepoID, snap.Metadata.RevisionTag)
	for _, n := range s.Nodes(snap.RepoID) {
		b.RemoveNode(n.ID)
	}
	b.AddNodes(snap.Nodes...)
	b.AddEdges(snap.Edges...)
	return s.ApplyPatch(ctx, b.Build())
}
