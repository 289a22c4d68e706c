package graph

import (
	"github.com/mvp-joe/lattice/internal/ast"
)

// Patch is a set of insertions and removals applied to the Store as one
// atomic step. Applying the same patch twice has the same effect as once.
type Patch struct {
	RepoID         string       `json:"repo_id"`
	RevisionTag    string       `json:"revision_tag,omitempty"`
	AddedNodes     []ast.Node   `json:"added_nodes,omitempty"`
	RemovedNodeIDs []ast.NodeID `json:"removed_node_ids,omitempty"`
	AddedEdges     []ast.Edge   `json:"added_edges,omitempty"`
	RemovedEdges   []ast.Edge   `json:"removed_edges,omitempty"`
}

// NewPatch returns an empty patch for a repository.
func NewPatch(repoID, revision string) *Patch {
	return &Patch{RepoID: repoID, RevisionTag: revision}
}

// IsEmpty reports whether the patch changes nothing.
func (p *Patch) IsEmpty() bool {
	return p == nil || p.OperationCount() == 0
}

// OperationCount returns the total number of insertions and removals.
func (p *Patch) OperationCount() int {
	if p == nil {
		return 0
	}
	return len(p.AddedNodes) + len(p.RemovedNodeIDs) + len(p.AddedEdges) + len(p.RemovedEdges)
}

// Merge appends other's operations to p. The revision tag of other wins when set.
func (p *Patch) Merge(other *Patch) {
	if other == nil {
		return
	}
	if other.RevisionTag != "" {
		p.RevisionTag = other.RevisionTag
	}
	p.AddedNodes = append(p.AddedNodes, other.AddedNodes...)
	p.RemovedNodeIDs = append(p.RemovedNodeIDs, other.RemovedNodeIDs...)
	p.AddedEdges = append(p.AddedEdges, other.AddedEdges...)
	p.RemovedEdges = append(p.RemovedEdges, other.RemovedEdges...)
}

// PatchBuilder accumulates operations for a Patch, dropping exact duplicates.
type PatchBuilder struct {
	patch       *Patch
	seenNodes   map[ast.NodeID]struct{}
	seenRemoved map[ast.NodeID]struct{}
	seenEdges   map[ast.Edge]struct{}
	seenRmEdges map[ast.Edge]struct{}
}

// NewPatchBuilder starts a builder for the given repository and revision.
func NewPatchBuilder(repoID, revision string) *PatchBuilder {
	return &PatchBuilder{
		patch:       NewPatch(repoID, revision),
		seenNodes:   make(map[ast.NodeID]struct{}),
		seenRemoved: make(map[ast.NodeID]struct{}),
		seenEdges:   make(map[ast.Edge]struct{}),
		seenRmEdges: make(map[ast.Edge]struct{}),
	}
}

func (b *PatchBuilder) AddNode(n ast.Node) *PatchBuilder {
	if _, ok := b.seenNodes[n.ID]; !ok {
		b.seenNodes[n.ID] = struct{}{}
		b.patch.AddedNodes = append(b.patch.AddedNodes, n)
	}
	return b
}

func (b *PatchBuilder) AddNodes(nodes ...ast.Node) *PatchBuilder {
	for _, n := range nodes {
		b.AddNode(n)
	}
	return b
}

func (b *PatchBuilder) RemoveNode(id ast.NodeID) *PatchBuilder {
	if _, ok := b.seenRemoved[id]; !ok {
		b.seenRemoved[id] = struct{}{}
		b.patch.RemovedNodeIDs = append(b.patch.RemovedNodeIDs, id)
	}
	return b
}

func (b *PatchBuilder) AddEdge(e ast.Edge) *PatchBuilder {
	if _, ok := b.seenEdges[e]; !ok {
		b.seenEdges[e] = struct{}{}
		b.patch.AddedEdges = append(b.patch.AddedEdges, e)
	}
	return b
}

func (b *PatchBuilder) AddEdges(edges ...ast.Edge) *PatchBuilder {
	for _, e := range edges {
		b.AddEdge(e)
	}
	return b
}

func (b *PatchBuilder) RemoveEdge(e ast.Edge) *PatchBuilder {
	if _, ok := b.seenRmEdges[e]; !ok {
		b.seenRmEdges[e] = struct{}{}
		b.patch.RemovedEdges = append(b.patch.RemovedEdges, e)
	}
	return b
}

// Build returns the accumulated patch.
func (b *PatchBuilder) Build() *Patch {
	return b.patch
}
