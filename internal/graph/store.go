package graph

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"sync"

	"github.com/mvp-joe/lattice/internal/ast"
)

// Stats summarises the store contents.
type Stats struct {
	TotalNodes   int                  `json:"total_nodes"`
	TotalEdges   int                  `json:"total_edges"`
	TotalFiles   int                  `json:"total_files"`
	Repositories int                  `json:"repositories"`
	NodesByKind  map[ast.NodeKind]int `json:"nodes_by_kind"`
}

type fileKey struct {
	repo string
	file string
}

type idSet map[ast.NodeID]struct{}

type edgeSet map[ast.Edge]struct{}

// Store is the in-memory owner of every node and edge, for any number of
// repositories. Readers run concurrently; each patch is applied under the
// write lock so no reader sees a partial patch. Patches for the same
// repository are serialised by a per-repository writer lock.
type Store struct {
	mu sync.RWMutex // Protects all indexes below

	nodes     map[ast.NodeID]ast.Node
	byName    map[string]idSet
	byKind    map[ast.NodeKind]int
	byFile    map[fileKey]idSet
	out       map[ast.NodeID]edgeSet
	in        map[ast.NodeID]edgeSet
	edgeCount int
	repoNodes map[string]int
	repoEdges map[string]int
	version   uint64

	writersMu sync.Mutex
	writers   map[string]*sync.Mutex

	observersMu sync.RWMutex
	observers   map[int]func(*Patch)
	nextObs     int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		nodes:     make(map[ast.NodeID]ast.Node),
		byName:    make(map[string]idSet),
		byKind:    make(map[ast.NodeKind]int),
		byFile:    make(map[fileKey]idSet),
		out:       make(map[ast.NodeID]edgeSet),
		in:        make(map[ast.NodeID]edgeSet),
		repoNodes: make(map[string]int),
		repoEdges: make(map[string]int),
		writers:   make(map[string]*sync.Mutex),
		observers: make(map[int]func(*Patch)),
	}
}

// InsertNodes adds or replaces nodes.
func (s *Store) InsertNodes(ctx context.Context, repoID string, nodes ...ast.Node) error {
	return s.ApplyPatch(ctx, &Patch{RepoID: repoID, AddedNodes: nodes})
}

// InsertEdges adds edges. Existing edges are left as they are.
func (s *Store) InsertEdges(ctx context.Context, repoID string, edges ...ast.Edge) error {
	return s.ApplyPatch(ctx, &Patch{RepoID: repoID, AddedEdges: edges})
}

// RemoveNodes deletes nodes and every edge touching them.
func (s *Store) RemoveNodes(ctx context.Context, repoID string, ids ...ast.NodeID) error {
	return s.ApplyPatch(ctx, &Patch{RepoID: repoID, RemovedNodeIDs: ids})
}

// RemoveEdges deletes edges. Missing edges are ignored.
func (s *Store) RemoveEdges(ctx context.Context, repoID string, edges ...ast.Edge) error {
	return s.ApplyPatch(ctx, &Patch{RepoID: repoID, RemovedEdges: edges})
}

// ApplyPatch validates and applies p atomically. On any validation failure a
// *StorageError is returned and the store is unchanged. Removals are applied
// before additions.
func (s *Store) ApplyPatch(ctx context.Context, p *Patch) error {
	if p.IsEmpty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePatch(p); err != nil {
		return err
	}

	w := s.writer(p.RepoID)
	w.Lock()
	defer w.Unlock()

	s.mu.Lock()
	if err := s.validateOwnership(p); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.validateReferences(p); err != nil {
		s.mu.Unlock()
		return err
	}
	for _, e := range p.RemovedEdges {
		s.removeEdge(e)
	}
	for _, id := range p.RemovedNodeIDs {
		s.removeNode(id)
	}
	for _, n := range p.AddedNodes {
		s.putNode(n)
	}
	for _, e := range p.AddedEdges {
		s.putEdge(e)
	}
	s.version++
	s.mu.Unlock()

	s.notify(p)
	return nil
}

func validatePatch(p *Patch) error {
	if p.RepoID == "" {
		return rejectf("apply", "", "patch has no repository id")
	}
	for _, n := range p.AddedNodes {
		if n.RepoID != p.RepoID {
			return rejectf("apply", p.RepoID, "node %s belongs to repository %q", n.ID, n.RepoID)
		}
		if !n.Kind.Valid() {
			return rejectf("apply", p.RepoID, "node %s has unknown kind %q", n.ID, n.Kind)
		}
		if !n.Span.Valid() {
			return rejectf("apply", p.RepoID, "node %s has invalid span %s", n.ID, n.Span)
		}
		if n.ID != ast.NewNodeID(n.RepoID, n.File, n.Span, n.Kind) {
			return rejectf("apply", p.RepoID, "node %s id does not match its content", n.ID)
		}
	}
	for _, e := range p.AddedEdges {
		if !e.Kind.Valid() {
			return rejectf("apply", p.RepoID, "edge %s has unknown kind", e)
		}
	}
	return nil
}

// validateOwnership rejects added nodes whose id is already held by another
// repository. Caller holds s.mu.
func (s *Store) validateOwnership(p *Patch) error {
	for _, n := range p.AddedNodes {
		if old, ok := s.nodes[n.ID]; ok && old.RepoID != p.RepoID {
			return rejectf("apply", p.RepoID, "node %s is already owned by repository %q", n.ID, old.RepoID)
		}
	}
	return nil
}

// validateReferences checks that every added edge ends at a node that will
// exist once the patch is applied. Caller holds s.mu.
func (s *Store) validateReferences(p *Patch) error {
	if len(p.AddedEdges) == 0 {
		return nil
	}
	added := make(idSet, len(p.AddedNodes))
	for _, n := range p.AddedNodes {
		added[n.ID] = struct{}{}
	}
	removed := make(idSet, len(p.RemovedNodeIDs))
	for _, id := range p.RemovedNodeIDs {
		removed[id] = struct{}{}
	}
	exists := func(id ast.NodeID) bool {
		if _, ok := added[id]; ok {
			return true
		}
		if _, ok := removed[id]; ok {
			return false
		}
		_, ok := s.nodes[id]
		return ok
	}
	for _, e := range p.AddedEdges {
		if !exists(e.Source) || !exists(e.Target) {
			return rejectf("apply", p.RepoID, "edge %s references an unknown node", e)
		}
	}
	return nil
}

func (s *Store) writer(repoID string) *sync.Mutex {
	s.writersMu.Lock()
	defer s.writersMu.Unlock()
	w, ok := s.writers[repoID]
	if !ok {
		w = &sync.Mutex{}
		s.writers[repoID] = w
	}
	return w
}

func (s *Store) putNode(n ast.Node) {
	if old, ok := s.nodes[n.ID]; ok {
		s.unindexNode(old)
	}
	s.nodes[n.ID] = n
	addID(s.byName, n.Name, n.ID)
	addID(s.byFile, fileKey{n.RepoID, n.File}, n.ID)
	s.byKind[n.Kind]++
	s.repoNodes[n.RepoID]++
}

func (s *Store) unindexNode(n ast.Node) {
	delID(s.byName, n.Name, n.ID)
	delID(s.byFile, fileKey{n.RepoID, n.File}, n.ID)
	if s.byKind[n.Kind]--; s.byKind[n.Kind] <= 0 {
		delete(s.byKind, n.Kind)
	}
	if s.repoNodes[n.RepoID]--; s.repoNodes[n.RepoID] <= 0 {
		delete(s.repoNodes, n.RepoID)
	}
}

func (s *Store) removeNode(id ast.NodeID) {
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	for _, e := range edgeKeys(s.out[id]) {
		s.removeEdge(e)
	}
	for _, e := range edgeKeys(s.in[id]) {
		s.removeEdge(e)
	}
	s.unindexNode(n)
	delete(s.nodes, id)
	delete(s.out, id)
	delete(s.in, id)
}

func (s *Store) putEdge(e ast.Edge) {
	if _, ok := s.out[e.Source][e]; ok {
		return
	}
	if s.out[e.Source] == nil {
		s.out[e.Source] = make(edgeSet)
	}
	if s.in[e.Target] == nil {
		s.in[e.Target] = make(edgeSet)
	}
	s.out[e.Source][e] = struct{}{}
	s.in[e.Target][e] = struct{}{}
	s.edgeCount++
	s.repoEdges[s.nodes[e.Source].RepoID]++
}

func (s *Store) removeEdge(e ast.Edge) {
	if _, ok := s.out[e.Source][e]; !ok {
		return
	}
	delete(s.out[e.Source], e)
	delete(s.in[e.Target], e)
	s.edgeCount--
	repo := s.nodes[e.Source].RepoID
	if s.repoEdges[repo]--; s.repoEdges[repo] <= 0 {
		delete(s.repoEdges, repo)
	}
}

func addID[K comparable](index map[K]idSet, key K, id ast.NodeID) {
	set, ok := index[key]
	if !ok {
		set = make(idSet)
		index[key] = set
	}
	set[id] = struct{}{}
}

func delID[K comparable](index map[K]idSet, key K, id ast.NodeID) {
	set, ok := index[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(index, key)
	}
}

func edgeKeys(set edgeSet) []ast.Edge {
	edges := make([]ast.Edge, 0, len(set))
	for e := range set {
		edges = append(edges, e)
	}
	return edges
}

// GetNode returns the node with the given id.
func (s *Store) GetNode(id ast.NodeID) (ast.Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return ast.Node{}, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

// HasNode reports whether id is present.
func (s *Store) HasNode(id ast.NodeID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// GetEdge returns the edge if it is present.
func (s *Store) GetEdge(source, target ast.NodeID, kind ast.EdgeKind) (ast.Edge, error) {
	e := ast.NewEdge(source, target, kind)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.out[source][e]; !ok {
		return ast.Edge{}, fmt.Errorf("%w: %s", ErrEdgeNotFound, e)
	}
	return e, nil
}

// EdgesFrom returns outgoing edges of id, optionally filtered by kind, in
// source order of their targets.
func (s *Store) EdgesFrom(id ast.NodeID, kinds ...ast.EdgeKind) []ast.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEdges(s.out[id], kinds, func(e ast.Edge) ast.NodeID { return e.Target })
}

// EdgesTo returns incoming edges of id, optionally filtered by kind, in
// source order of their sources.
func (s *Store) EdgesTo(id ast.NodeID, kinds ...ast.EdgeKind) []ast.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedEdges(s.in[id], kinds, func(e ast.Edge) ast.NodeID { return e.Source })
}

func (s *Store) sortedEdges(set edgeSet, kinds []ast.EdgeKind, other func(ast.Edge) ast.NodeID) []ast.Edge {
	edges := make([]ast.Edge, 0, len(set))
	for e := range set {
		if len(kinds) == 0 || slices.Contains(kinds, e.Kind) {
			edges = append(edges, e)
		}
	}
	slices.SortFunc(edges, func(a, b ast.Edge) int {
		if c := compareNodes(s.nodes[other(a)], s.nodes[other(b)]); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return edges
}

// compareNodes orders nodes by file, then position, then kind and id.
func compareNodes(a, b ast.Node) int {
	if c := strings.Compare(a.File, b.File); c != 0 {
		return c
	}
	if a.Span.StartByte != b.Span.StartByte {
		return a.Span.StartByte - b.Span.StartByte
	}
	if a.Span.EndByte != b.Span.EndByte {
		return b.Span.EndByte - a.Span.EndByte
	}
	if c := strings.Compare(string(a.Kind), string(b.Kind)); c != 0 {
		return c
	}
	return strings.Compare(a.ID.String(), b.ID.String())
}

// SortNodes orders nodes deterministically by file and position.
func SortNodes(nodes []ast.Node) {
	slices.SortFunc(nodes, compareNodes)
}

func (s *Store) collect(ids idSet) []ast.Node {
	nodes := make([]ast.Node, 0, len(ids))
	for id := range ids {
		nodes = append(nodes, s.nodes[id])
	}
	SortNodes(nodes)
	return nodes
}

// NodesInFile returns every node of a file.
func (s *Store) NodesInFile(repoID, file string) []ast.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(s.byFile[fileKey{repoID, ast.NormalizePath(file)}])
}

// FileSlice returns the nodes of a file and every edge whose source lies in it.
func (s *Store) FileSlice(repoID, file string) ([]ast.Node, []ast.Edge) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := s.collect(s.byFile[fileKey{repoID, ast.NormalizePath(file)}])
	var edges []ast.Edge
	for _, n := range nodes {
		edges = append(edges, edgeKeys(s.out[n.ID])...)
	}
	return nodes, edges
}

// NodesNamed returns nodes whose name equals name exactly. An empty repoID
// matches every repository.
func (s *Store) NodesNamed(repoID, name string) []ast.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := s.collect(s.byName[name])
	if repoID == "" {
		return nodes
	}
	return slices.DeleteFunc(nodes, func(n ast.Node) bool { return n.RepoID != repoID })
}

// FindByName matches node names against pattern. A pattern that compiles as a
// regular expression is used as one; otherwise it is a case-insensitive
// substring match.
func (s *Store) FindByName(pattern string) []ast.Node {
	match := NameMatcher(pattern)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var nodes []ast.Node
	for name, ids := range s.byName {
		if !match(name) {
			continue
		}
		for id := range ids {
			nodes = append(nodes, s.nodes[id])
		}
	}
	SortNodes(nodes)
	return nodes
}

// NameMatcher builds the matcher used by FindByName.
func NameMatcher(pattern string) func(string) bool {
	if re, err := regexp.Compile(pattern); err == nil {
		return re.MatchString
	}
	lower := strings.ToLower(pattern)
	return func(name string) bool {
		return strings.Contains(strings.ToLower(name), lower)
	}
}

// Nodes returns every node of a repository.
func (s *Store) Nodes(repoID string) []ast.Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var nodes []ast.Node
	for _, n := range s.nodes {
		if n.RepoID == repoID {
			nodes = append(nodes, n)
		}
	}
	SortNodes(nodes)
	return nodes
}

// Edges returns every edge whose source belongs to the repository.
func (s *Store) Edges(repoID string) []ast.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var edges []ast.Edge
	for id, set := range s.out {
		if s.nodes[id].RepoID != repoID {
			continue
		}
		edges = append(edges, edgeKeys(set)...)
	}
	slices.SortFunc(edges, func(a, b ast.Edge) int {
		if c := compareNodes(s.nodes[a.Source], s.nodes[b.Source]); c != 0 {
			return c
		}
		if c := compareNodes(s.nodes[a.Target], s.nodes[b.Target]); c != 0 {
			return c
		}
		return strings.Compare(string(a.Kind), string(b.Kind))
	})
	return edges
}

// Files returns the distinct files of a repository.
func (s *Store) Files(repoID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var files []string
	for k := range s.byFile {
		if k.repo == repoID {
			files = append(files, k.file)
		}
	}
	slices.Sort(files)
	return files
}

// Repositories lists repositories that own at least one node.
func (s *Store) Repositories() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	repos := make([]string, 0, len(s.repoNodes))
	for r := range s.repoNodes {
		repos = append(repos, r)
	}
	slices.Sort(repos)
	return repos
}

// Stats returns counts across all repositories.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byKind := make(map[ast.NodeKind]int, len(s.byKind))
	for k, v := range s.byKind {
		byKind[k] = v
	}
	return Stats{
		TotalNodes:   len(s.nodes),
		TotalEdges:   s.edgeCount,
		TotalFiles:   len(s.byFile),
		Repositories: len(s.repoNodes),
		NodesByKind:  byKind,
	}
}

// RepoStats returns counts for one repository.
func (s *Store) RepoStats(repoID string) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		TotalNodes:  s.repoNodes[repoID],
		TotalEdges:  s.repoEdges[repoID],
		NodesByKind: make(map[ast.NodeKind]int),
	}
	if st.TotalNodes > 0 {
		st.Repositories = 1
	}
	for k := range s.byFile {
		if k.repo == repoID {
			st.TotalFiles++
		}
	}
	for _, n := range s.nodes {
		if n.RepoID == repoID {
			st.NodesByKind[n.Kind]++
		}
	}
	return st
}

// Version increases by one for every applied patch.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// ClearRepo removes every node and edge of a repository.
func (s *Store) ClearRepo(ctx context.Context, repoID string) error {
	nodes := s.Nodes(repoID)
	if len(nodes) == 0 {
		return nil
	}
	b := NewPatchBuilder(repoID, "")
	for _, n := range nodes {
		b.RemoveNode(n.ID)
	}
	return s.ApplyPatch(ctx, b.Build())
}

// Subscribe registers fn to be called after every successful patch. Calls for
// one repository arrive in apply order. The returned func unsubscribes.
func (s *Store) Subscribe(fn func(*Patch)) func() {
	s.observersMu.Lock()
	defer s.observersMu.Unlock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	return func() {
		s.observersMu.Lock()
		defer s.observersMu.Unlock()
		delete(s.observers, id)
	}
}

func (s *Store) notify(p *Patch) {
	s.observersMu.RLock()
	defer s.observersMu.RUnlock()
	for _, fn := range s.observers {
		fn(p)
	}
}
