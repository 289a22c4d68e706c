package ast

import (
	"maps"
	"strings"
)

// Node is one construct in the universal graph. Nodes are values: once built
// they are never mutated, and their ID is fixed by (repo, file, span, kind).
type Node struct {
	ID        NodeID            `json:"id"`
	RepoID    string            `json:"repo_id"`
	Kind      NodeKind          `json:"kind"`
	Name      string            `json:"name"`
	Language  Language          `json:"language"`
	File      string            `json:"file"`
	Span      Span              `json:"span"`
	Signature string            `json:"signature,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewNode builds a node and derives its id.
func NewNode(repoID string, kind NodeKind, name string, lang Language, file string, span Span) Node {
	file = NormalizePath(file)
	return Node{
		ID:       NewNodeID(repoID, file, span, kind),
		RepoID:   repoID,
		Kind:     kind,
		Name:     name,
		Language: lang,
		File:     file,
		Span:     span,
	}
}

// WithSignature returns a copy of n carrying sig.
func (n Node) WithSignature(sig string) Node {
	n.Signature = sig
	return n
}

// WithMetadata returns a copy of n with key set to value. The original map is
// not shared with the copy.
func (n Node) WithMetadata(key, value string) Node {
	md := make(map[string]string, len(n.Metadata)+1)
	maps.Copy(md, n.Metadata)
	md[key] = value
	n.Metadata = md
	return n
}

// Meta returns a metadata value or "".
func (n Node) Meta(key string) string {
	return n.Metadata[key]
}

// MetaList splits a comma separated metadata value.
func (n Node) MetaList(key string) []string {
	v := n.Metadata[key]
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}

// Equal reports whether two nodes carry the same content.
func (n Node) Equal(o Node) bool {
	return n.ID == o.ID && n.RepoID == o.RepoID && n.Kind == o.Kind && n.Name == o.Name &&
		n.Language == o.Language && n.File == o.File && n.Span == o.Span &&
		n.Signature == o.Signature && maps.Equal(n.Metadata, o.Metadata)
}

// Edge is a typed relationship. The (Source, Target, Kind) triple is its identity.
type Edge struct {
	Source NodeID   `json:"source"`
	Target NodeID   `json:"target"`
	Kind   EdgeKind `json:"kind"`
}

// NewEdge builds an edge.
func NewEdge(source, target NodeID, kind EdgeKind) Edge {
	return Edge{Source: source, Target: target, Kind: kind}
}

// Touches reports whether id is either endpoint.
func (e Edge) Touches(id NodeID) bool {
	return e.Source == id || e.Target == id
}

func (e Edge) String() string {
	return e.Source.String() + " -" + string(e.Kind) + "-> " + e.Target.String()
}

// EdgeKey is the comparable identity of an edge.
type EdgeKey struct {
	Source NodeID
	Target NodeID
	Kind   EdgeKind
}

// Key returns the identity triple.
func (e Edge) Key() EdgeKey {
	return EdgeKey(e)
}
