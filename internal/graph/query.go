package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	dgraph "github.com/dominikbraun/graph"

	"github.com/mvp-joe/lattice/internal/ast"
)

// DependencyType selects which outgoing edges count as dependencies.
type DependencyType string

const (
	DependencyDirect  DependencyType = "direct"
	DependencyCalls   DependencyType = "calls"
	DependencyImports DependencyType = "imports"
	DependencyReads   DependencyType = "reads"
	DependencyWrites  DependencyType = "writes"
)

// EdgeKinds returns the edge filter for the dependency type. Direct means no filter.
func (d DependencyType) EdgeKinds() []ast.EdgeKind {
	switch d {
	case DependencyCalls:
		return []ast.EdgeKind{ast.EdgeCalls}
	case DependencyImports:
		return []ast.EdgeKind{ast.EdgeImports}
	case DependencyReads:
		return []ast.EdgeKind{ast.EdgeReads}
	case DependencyWrites:
		return []ast.EdgeKind{ast.EdgeWrites}
	}
	return nil
}

// referenceKinds are the edge kinds that make the source a user of the target.
var referenceKinds = []ast.EdgeKind{
	ast.EdgeCalls, ast.EdgeReads, ast.EdgeWrites, ast.EdgeImports,
	ast.EdgeExtends, ast.EdgeImplements, ast.EdgeReferences,
}

// Dependency pairs an edge with the node at its other end.
type Dependency struct {
	Edge ast.Edge `json:"edge"`
	Node ast.Node `json:"node"`
}

// Reachable is one step of a transitive closure.
type Reachable struct {
	Source ast.NodeID   `json:"source"`
	Target ast.NodeID   `json:"target"`
	Kind   ast.EdgeKind `json:"kind"`
	Depth  int          `json:"depth"`
}

// Severity ranks a cycle for reporting.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// Cycle is a closed dependency chain; the last node links back to the first.
type Cycle struct {
	Nodes    []ast.NodeID `json:"nodes"`
	Severity Severity     `json:"severity"`
}

// Len returns the number of nodes in the cycle.
func (c Cycle) Len() int { return len(c.Nodes) }

// Contains reports whether id is part of the cycle.
func (c Cycle) Contains(id ast.NodeID) bool { return slices.Contains(c.Nodes, id) }

func newCycle(nodes []ast.NodeID) Cycle {
	sev := SeverityMedium
	if len(nodes) <= 3 {
		sev = SeverityHigh
	}
	return Cycle{Nodes: slices.Clone(nodes), Severity: sev}
}

// key returns a rotation-independent identity for deduplication.
func (c Cycle) key() string {
	if len(c.Nodes) == 0 {
		return ""
	}
	minIdx := 0
	for i, id := range c.Nodes {
		if id.String() < c.Nodes[minIdx].String() {
			minIdx = i
		}
	}
	var sb strings.Builder
	for i := range c.Nodes {
		sb.WriteString(c.Nodes[(minIdx+i)%len(c.Nodes)].String())
		sb.WriteByte('>')
	}
	return sb.String()
}

// Path is a chain of nodes and the edges between them.
type Path struct {
	Nodes []ast.NodeID `json:"nodes"`
	Edges []ast.Edge   `json:"edges"`
}

// SymbolQuery filters SearchSymbols.
type SymbolQuery struct {
	Pattern string
	RepoID  string
	Kinds   []ast.NodeKind
	Limit   int
}

// Query answers structural questions over a Store.
type Query struct {
	store *Store

	mu    sync.Mutex
	cache map[string]*projection
}

type projection struct {
	version uint64
	g       dgraph.Graph[string, string]
	kinds   map[[2]string]ast.EdgeKind
}

// NewQuery creates a query engine over store.
func NewQuery(store *Store) *Query {
	return &Query{store: store, cache: make(map[string]*projection)}
}

// Store returns the underlying store.
func (q *Query) Store() *Store { return q.store }

// Resolve decodes a hex id and returns its node.
func (q *Query) Resolve(hexID string) (ast.Node, error) {
	id, err := ast.ParseNodeID(hexID)
	if err != nil {
		return ast.Node{}, err
	}
	return q.store.GetNode(id)
}

// LookupSymbol finds the single definition named name. Call sites, imports,
// parameters and literals sharing the name are ignored. An empty repoID
// searches every repository.
func (q *Query) LookupSymbol(repoID, name string) (ast.Node, error) {
	candidates := slices.DeleteFunc(q.store.NodesNamed(repoID, name), func(n ast.Node) bool {
		switch n.Kind {
		case ast.KindCall, ast.KindImport, ast.KindParameter, ast.KindLiteral:
			return true
		}
		return false
	})
	switch len(candidates) {
	case 0:
		return ast.Node{}, fmt.Errorf("%w: symbol %q", ErrNodeNotFound, name)
	case 1:
		return candidates[0], nil
	}
	SortNodes(candidates)
	var where []string
	for _, n := range candidates[:min(len(candidates), 5)] {
		where = append(where, fmt.Sprintf("%s (%s %s:%d)", n.ID, n.Kind, n.File, n.Span.StartLine))
	}
	return ast.Node{}, fmt.Errorf("%w: %q matches %d definitions, pass a node id: %s",
		ErrAmbiguous, name, len(candidates), strings.Join(where, ", "))
}

// Lookup resolves ref as a hex node id when it parses as one, otherwise as a
// symbol name.
func (q *Query) Lookup(repoID, ref string) (ast.Node, error) {
	if id, err := ast.ParseNodeID(ref); err == nil {
		return q.store.GetNode(id)
	}
	return q.LookupSymbol(repoID, ref)
}

// FindDependencies returns the targets of id's outgoing edges, optionally
// limited to the given edge kinds.
func (q *Query) FindDependencies(id ast.NodeID, kinds ...ast.EdgeKind) ([]Dependency, error) {
	if !q.store.HasNode(id) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return q.resolve(q.store.EdgesFrom(id, kinds...), func(e ast.Edge) ast.NodeID { return e.Target }), nil
}

// FindDependents returns the sources of id's incoming edges.
func (q *Query) FindDependents(id ast.NodeID, kinds ...ast.EdgeKind) ([]Dependency, error) {
	if !q.store.HasNode(id) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return q.resolve(q.store.EdgesTo(id, kinds...), func(e ast.Edge) ast.NodeID { return e.Source }), nil
}

// FindReferences returns every node that calls, reads, writes, imports,
// extends or implements id.
func (q *Query) FindReferences(id ast.NodeID) ([]Dependency, error) {
	return q.FindDependents(id, referenceKinds...)
}

func (q *Query) resolve(edges []ast.Edge, end func(ast.Edge) ast.NodeID) []Dependency {
	deps := make([]Dependency, 0, len(edges))
	for _, e := range edges {
		n, err := q.store.GetNode(end(e))
		if err != nil {
			// removed by a concurrent patch
			continue
		}
		deps = append(deps, Dependency{Edge: e, Node: n})
	}
	return deps
}

// TransitiveClosure walks outgoing edges breadth-first from id and returns one
// entry per newly reached node, in discovery order. Each node is expanded at
// most once, so cycles terminate. maxDepth <= 0 means unbounded.
func (q *Query) TransitiveClosure(id ast.NodeID, maxDepth int, kinds ...ast.EdgeKind) ([]Reachable, error) {
	if !q.store.HasNode(id) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}

	type item struct {
		id    ast.NodeID
		depth int
	}
	visited := map[ast.NodeID]struct{}{id: {}}
	queue := []item{{id, 0}}
	var out []Reachable

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if maxDepth > 0 && cur.depth >= maxDepth {
			continue
		}
		for _, e := range q.store.EdgesFrom(cur.id, kinds...) {
			if _, seen := visited[e.Target]; seen {
				continue
			}
			visited[e.Target] = struct{}{}
			out = append(out, Reachable{Source: e.Source, Target: e.Target, Kind: e.Kind, Depth: cur.depth + 1})
			queue = append(queue, item{e.Target, cur.depth + 1})
		}
	}
	return out, nil
}

type visitState uint8

const (
	unvisited visitState = iota
	onStack
	done
)

// DetectCycles runs a three-state depth-first search from root and reports
// every cycle closed by a back edge. The search continues after each cycle,
// so disjoint cycles reachable from root are all returned.
func (q *Query) DetectCycles(root ast.NodeID, kinds ...ast.EdgeKind) ([]Cycle, error) {
	if !q.store.HasNode(root) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, root)
	}
	state := make(map[ast.NodeID]visitState)
	return q.dfsCycles(root, kinds, state, make(map[string]struct{})), nil
}

// DetectAllCycles searches from every node of a repository.
func (q *Query) DetectAllCycles(repoID string, kinds ...ast.EdgeKind) []Cycle {
	state := make(map[ast.NodeID]visitState)
	seen := make(map[string]struct{})
	var cycles []Cycle
	for _, n := range q.store.Nodes(repoID) {
		if state[n.ID] == done {
			continue
		}
		cycles = append(cycles, q.dfsCycles(n.ID, kinds, state, seen)...)
	}
	return cycles
}

func (q *Query) dfsCycles(root ast.NodeID, kinds []ast.EdgeKind, state map[ast.NodeID]visitState, seen map[string]struct{}) []Cycle {
	type frame struct {
		id    ast.NodeID
		edges []ast.Edge
		next  int
	}

	var cycles []Cycle
	var path []ast.NodeID
	pos := make(map[ast.NodeID]int)

	push := func(id ast.NodeID) frame {
		state[id] = onStack
		pos[id] = len(path)
		path = append(path, id)
		return frame{id: id, edges: q.store.EdgesFrom(id, kinds...)}
	}

	stack := []frame{push(root)}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next >= len(top.edges) {
			state[top.id] = done
			delete(pos, top.id)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
			continue
		}
		e := top.edges[top.next]
		top.next++

		switch state[e.Target] {
		case onStack:
			c := newCycle(path[pos[e.Target]:])
			if _, dup := seen[c.key()]; !dup {
				seen[c.key()] = struct{}{}
				cycles = append(cycles, c)
			}
		case unvisited:
			stack = append(stack, push(e.Target))
		}
	}
	return cycles
}

// FindPath returns a shortest chain of edges from one node to another within
// the source node's repository. maxDepth <= 0 means unbounded.
func (q *Query) FindPath(from, to ast.NodeID, maxDepth int, kinds ...ast.EdgeKind) (*Path, error) {
	src, err := q.store.GetNode(from)
	if err != nil {
		return nil, err
	}
	if !q.store.HasNode(to) {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, to)
	}
	if from == to {
		return &Path{Nodes: []ast.NodeID{from}}, nil
	}

	proj, err := q.project(src.RepoID, kinds)
	if err != nil {
		return nil, err
	}
	hops, err := dgraph.ShortestPath(proj.g, from.String(), to.String())
	if err != nil || len(hops) == 0 {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoPath, from, to)
	}
	if maxDepth > 0 && len(hops)-1 > maxDepth {
		return nil, fmt.Errorf("%w: %s -> %s within %d steps", ErrNoPath, from, to, maxDepth)
	}

	path := &Path{}
	for i, h := range hops {
		id, err := ast.ParseNodeID(h)
		if err != nil {
			return nil, err
		}
		path.Nodes = append(path.Nodes, id)
		if i > 0 {
			kind := proj.kinds[[2]string{hops[i-1], h}]
			path.Edges = append(path.Edges, ast.NewEdge(path.Nodes[i-1], id, kind))
		}
	}
	return path, nil
}

// StronglyConnected returns the strongly connected components of a
// repository that contain more than one node.
func (q *Query) StronglyConnected(repoID string, kinds ...ast.EdgeKind) ([][]ast.NodeID, error) {
	proj, err := q.project(repoID, kinds)
	if err != nil {
		return nil, err
	}
	sccs, err := dgraph.StronglyConnectedComponents(proj.g)
	if err != nil {
		return nil, fmt.Errorf("failed to compute components: %w", err)
	}

	var out [][]ast.NodeID
	for _, comp := range sccs {
		if len(comp) < 2 {
			continue
		}
		slices.Sort(comp)
		ids := make([]ast.NodeID, 0, len(comp))
		for _, h := range comp {
			id, err := ast.ParseNodeID(h)
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		out = append(out, ids)
	}
	slices.SortFunc(out, func(a, b []ast.NodeID) int {
		return strings.Compare(a[0].String(), b[0].String())
	})
	return out, nil
}

// project builds (or reuses) a dominikbraun/graph view of a repository
// restricted to the given edge kinds.
func (q *Query) project(repoID string, kinds []ast.EdgeKind) (*projection, error) {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	slices.Sort(names)
	key := repoID + "|" + strings.Join(names, ",")
	version := q.store.Version()

	q.mu.Lock()
	defer q.mu.Unlock()
	if p, ok := q.cache[key]; ok && p.version == version {
		return p, nil
	}

	g := dgraph.New(dgraph.StringHash, dgraph.Directed(), dgraph.Weighted())
	p := &projection{version: version, g: g, kinds: make(map[[2]string]ast.EdgeKind)}

	for _, n := range q.store.Nodes(repoID) {
		if err := g.AddVertex(n.ID.String()); err != nil && !errors.Is(err, dgraph.ErrVertexAlreadyExists) {
			return nil, fmt.Errorf("failed to add vertex %s: %w", n.ID, err)
		}
	}
	for _, e := range q.store.Edges(repoID) {
		if len(kinds) > 0 && !slices.Contains(kinds, e.Kind) {
			continue
		}
		src, tgt := e.Source.String(), e.Target.String()
		// Targets in other repositories are added on demand.
		if err := g.AddVertex(tgt); err != nil && !errors.Is(err, dgraph.ErrVertexAlreadyExists) {
			return nil, fmt.Errorf("failed to add vertex %s: %w", tgt, err)
		}
		pair := [2]string{src, tgt}
		if _, ok := p.kinds[pair]; ok {
			continue
		}
		if err := g.AddEdge(src, tgt, dgraph.EdgeWeight(1)); err != nil && !errors.Is(err, dgraph.ErrEdgeAlreadyExists) {
			return nil, fmt.Errorf("failed to add edge %s: %w", e, err)
		}
		p.kinds[pair] = e.Kind
	}

	q.cache[key] = p
	return p, nil
}

// SearchSymbols finds nodes by name pattern with optional repository and kind
// filters. Limit <= 0 returns every match.
func (q *Query) SearchSymbols(sq SymbolQuery) []ast.Node {
	var out []ast.Node
	for _, n := range q.store.FindByName(sq.Pattern) {
		if sq.RepoID != "" && n.RepoID != sq.RepoID {
			continue
		}
		if len(sq.Kinds) > 0 && !slices.Contains(sq.Kinds, n.Kind) {
			continue
		}
		out = append(out, n)
		if sq.Limit > 0 && len(out) >= sq.Limit {
			break
		}
	}
	return out
}
