package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
)

var targetOptions = []mcp.ToolOption{
	mcp.WithString("node_id",
		mcp.Description("Hex node id as returned by search_symbols")),
	mcp.WithString("symbol",
		mcp.Description("Symbol name, used when node_id is not given; must name exactly one definition")),
	mcp.WithString("repo_id",
		mcp.Description("Restrict symbol lookup to one repository")),
}

func newTool(name, description string, opts ...mcp.ToolOption) mcp.Tool {
	all := append([]mcp.ToolOption{mcp.WithDescription(description)}, opts...)
	all = append(all,
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
	)
	return mcp.NewTool(name, all...)
}

type edgeView struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Kind   string `json:"kind"`
}

func viewEdge(e ast.Edge) edgeView {
	return edgeView{Source: e.Source.String(), Target: e.Target.String(), Kind: string(e.Kind)}
}

// FindDependenciesRequest are the find_dependencies arguments.
type FindDependenciesRequest struct {
	NodeID         string `json:"node_id"`
	Symbol         string `json:"symbol"`
	RepoID         string `json:"repo_id"`
	DependencyType string `json:"dependency_type"`
	Direction      string `json:"direction"`
	Transitive     bool   `json:"transitive"`
	MaxDepth       int    `json:"max_depth"`
	MaxResults     int    `json:"max_results"`
}

type dependencyView struct {
	Kind  string   `json:"kind"`
	Depth int      `json:"depth"`
	Node  nodeView `json:"node"`
}

type dependencyResponse struct {
	Target       nodeView         `json:"target"`
	Direction    string           `json:"direction"`
	Dependencies []dependencyView `json:"dependencies"`
	Total        int              `json:"total"`
	Truncated    bool             `json:"truncated"`
}

// AddFindDependenciesTool registers find_dependencies.
func AddFindDependenciesTool(s *server.MCPServer, q *graph.Query, m *ToolMetrics) {
	opts := append([]mcp.ToolOption{}, targetOptions...)
	opts = append(opts,
		mcp.WithString("dependency_type",
			mcp.Description("Edge filter: direct (all edges, default), calls, imports, reads, writes")),
		mcp.WithString("direction",
			mcp.Description("dependencies (what the target uses, default) or dependents (what uses the target)")),
		mcp.WithBoolean("transitive",
			mcp.Description("Follow dependencies transitively (dependencies direction only)")),
		mcp.WithNumber("max_depth",
			mcp.Description("Depth limit for transitive queries (default: 5, max: 20)")),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum results to return (default: 100, max: 500)")),
	)
	tool := newTool("find_dependencies",
		"List what a code element depends on (calls, imports, reads, writes) or what depends on it. Use for impact analysis before changing a function, class or module.",
		opts...)
	s.AddTool(tool, instrument("find_dependencies", m, createFindDependenciesHandler(q)))
}

func createFindDependenciesHandler(q *graph.Query) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req FindDependenciesRequest
		if res := bindArguments(request, &req); res != nil {
			return res, nil
		}
		kinds, err := edgeKinds(req.DependencyType)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		direction := req.Direction
		switch direction {
		case "":
			direction = "dependencies"
		case "dependencies", "dependents":
		default:
			return mcp.NewToolResultError(fmt.Sprintf("invalid direction: %s (must be dependencies or dependents)", direction)), nil
		}
		if req.Transitive && direction == "dependents" {
			return mcp.NewToolResultError("transitive is only supported for the dependencies direction"), nil
		}

		target, err := resolve(q.Store(), targetArgs{NodeID: req.NodeID, Symbol: req.Symbol, RepoID: req.RepoID})
		if err != nil {
			return failure(err)
		}

		var deps []dependencyView
		switch {
		case req.Transitive:
			steps, err := q.TransitiveClosure(target.ID, clamp(req.MaxDepth, defaultMaxDepth, maxMaxDepth), kinds...)
			if err != nil {
				return failure(err)
			}
			for _, st := range steps {
				n, err := q.Store().GetNode(st.Target)
				if err != nil {
					continue
				}
				deps = append(deps, dependencyView{Kind: string(st.Kind), Depth: st.Depth, Node: view(n)})
			}
		default:
			find := q.FindDependencies
			if direction == "dependents" {
				find = q.FindDependents
			}
			found, err := find(target.ID, kinds...)
			if err != nil {
				return failure(err)
			}
			for _, d := range found {
				deps = append(deps, dependencyView{Kind: string(d.Edge.Kind), Depth: 1, Node: view(d.Node)})
			}
		}

		resp := dependencyResponse{
			Target:       view(target),
			Direction:    direction,
			Dependencies: []dependencyView{},
			Total:        len(deps),
		}
		limit := clamp(req.MaxResults, defaultMaxResults, maxMaxResults)
		if len(deps) > limit {
			deps, resp.Truncated = deps[:limit], true
		}
		resp.Dependencies = append(resp.Dependencies, deps...)
		return marshalToolResponse(resp)
	}
}

// AddFindReferencesTool registers find_references.
func AddFindReferencesTool(s *server.MCPServer, q *graph.Query, m *ToolMetrics) {
	opts := append([]mcp.ToolOption{}, targetOptions...)
	opts = append(opts, mcp.WithNumber("max_results",
		mcp.Description("Maximum results to return (default: 100, max: 500)")))
	tool := newTool("find_references",
		"Find every code element that calls, reads, writes, imports, extends or implements the target.",
		opts...)
	s.AddTool(tool, instrument("find_references", m, createFindReferencesHandler(q)))
}

type referencesRequest struct {
	NodeID     string `json:"node_id"`
	Symbol     string `json:"symbol"`
	RepoID     string `json:"repo_id"`
	MaxResults int    `json:"max_results"`
}

type referencesResponse struct {
	Target     nodeView         `json:"target"`
	References []dependencyView `json:"references"`
	Total      int              `json:"total"`
	Truncated  bool             `json:"truncated"`
}

func createFindReferencesHandler(q *graph.Query) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req referencesRequest
		if res := bindArguments(request, &req); res != nil {
			return res, nil
		}
		target, err := resolve(q.Store(), targetArgs{NodeID: req.NodeID, Symbol: req.Symbol, RepoID: req.RepoID})
		if err != nil {
			return failure(err)
		}
		refs, err := q.FindReferences(target.ID)
		if err != nil {
			return failure(err)
		}

		resp := referencesResponse{Target: view(target), References: []dependencyView{}, Total: len(refs)}
		limit := clamp(req.MaxResults, defaultMaxResults, maxMaxResults)
		if len(refs) > limit {
			refs, resp.Truncated = refs[:limit], true
		}
		for _, r := range refs {
			resp.References = append(resp.References, dependencyView{Kind: string(r.Edge.Kind), Depth: 1, Node: view(r.Node)})
		}
		return marshalToolResponse(resp)
	}
}

// FindPathRequest are the find_path arguments.
type FindPathRequest struct {
	FromNodeID     string `json:"from_node_id"`
	FromSymbol     string `json:"from_symbol"`
	ToNodeID       string `json:"to_node_id"`
	ToSymbol       string `json:"to_symbol"`
	RepoID         string `json:"repo_id"`
	DependencyType string `json:"dependency_type"`
	MaxDepth       int    `json:"max_depth"`
}

type pathResponse struct {
	Found  bool       `json:"found"`
	Length int        `json:"length"`
	Nodes  []nodeView `json:"nodes"`
	Edges  []edgeView `json:"edges"`
}

// AddFindPathTool registers find_path.
func AddFindPathTool(s *server.MCPServer, q *graph.Query, m *ToolMetrics) {
	tool := newTool("find_path",
		"Find a shortest dependency chain from one code element to another. Answers 'how does A end up calling B'.",
		mcp.WithString("from_node_id", mcp.Description("Start node id")),
		mcp.WithString("from_symbol", mcp.Description("Start symbol name, used when from_node_id is not given")),
		mcp.WithString("to_node_id", mcp.Description("End node id")),
		mcp.WithString("to_symbol", mcp.Description("End symbol name, used when to_node_id is not given")),
		mcp.WithString("repo_id", mcp.Description("Restrict symbol lookup to one repository")),
		mcp.WithString("dependency_type", mcp.Description("Edge filter: direct (default), calls, imports, reads, writes")),
		mcp.WithNumber("max_depth", mcp.Description("Maximum path length in edges (default: unbounded)")),
	)
	s.AddTool(tool, instrument("find_path", m, createFindPathHandler(q)))
}

func createFindPathHandler(q *graph.Query) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req FindPathRequest
		if res := bindArguments(request, &req); res != nil {
			return res, nil
		}
		kinds, err := edgeKinds(req.DependencyType)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		from, err := resolve(q.Store(), targetArgs{NodeID: req.FromNodeID, Symbol: req.FromSymbol, RepoID: req.RepoID})
		if err != nil {
			return failure(fmt.Errorf("from: %w", err))
		}
		to, err := resolve(q.Store(), targetArgs{NodeID: req.ToNodeID, Symbol: req.ToSymbol, RepoID: req.RepoID})
		if err != nil {
			return failure(fmt.Errorf("to: %w", err))
		}

		path, err := q.FindPath(from.ID, to.ID, req.MaxDepth, kinds...)
		if errors.Is(err, graph.ErrNoPath) {
			return marshalToolResponse(pathResponse{Nodes: []nodeView{}, Edges: []edgeView{}})
		}
		if err != nil {
			return failure(err)
		}

		resp := pathResponse{Found: true, Length: len(path.Edges), Nodes: []nodeView{}, Edges: []edgeView{}}
		for _, id := range path.Nodes {
			n, err := q.Store().GetNode(id)
			if err != nil {
				return failure(err)
			}
			resp.Nodes = append(resp.Nodes, view(n))
		}
		for _, e := range path.Edges {
			resp.Edges = append(resp.Edges, viewEdge(e))
		}
		return marshalToolResponse(resp)
	}
}

// DetectCyclesRequest are the detect_cycles arguments. With a target the
// search starts there; otherwise the whole repository is searched.
type DetectCyclesRequest struct {
	NodeID         string `json:"node_id"`
	Symbol         string `json:"symbol"`
	RepoID         string `json:"repo_id"`
	DependencyType string `json:"dependency_type"`
	MaxResults     int    `json:"max_results"`
}

type cycleView struct {
	Severity string     `json:"severity"`
	Length   int        `json:"length"`
	Nodes    []nodeView `json:"nodes"`
}

type cyclesResponse struct {
	Cycles    []cycleView `json:"cycles"`
	Total     int         `json:"total"`
	Truncated bool        `json:"truncated"`
}

// AddDetectCyclesTool registers detect_cycles.
func AddDetectCyclesTool(s *server.MCPServer, q *graph.Query, m *ToolMetrics) {
	opts := append([]mcp.ToolOption{}, targetOptions...)
	opts = append(opts,
		mcp.WithString("dependency_type", mcp.Description("Edge filter: direct (default), calls, imports, reads, writes")),
		mcp.WithNumber("max_results", mcp.Description("Maximum cycles to return (default: 100, max: 500)")),
	)
	tool := newTool("detect_cycles",
		"Detect circular dependencies (mutual recursion, import cycles). Give a node to search from it, or only repo_id to search a whole repository.",
		opts...)
	s.AddTool(tool, instrument("detect_cycles", m, createDetectCyclesHandler(q)))
}

func createDetectCyclesHandler(q *graph.Query) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		var req DetectCyclesRequest
		if res := bindArguments(request, &req); res != nil {
			return res, nil
		}
		kinds, err := edgeKinds(req.DependencyType)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var cycles []graph.Cycle
		if req.NodeID != "" || req.Symbol != "" {
			root, err := resolve(q.Store(), targetArgs{NodeID: req.NodeID, Symbol: req.Symbol, RepoID: req.RepoID})
			if err != nil {
				return failure(err)
			}
			if cycles, err = q.DetectCycles(root.ID, kinds...); err != nil {
				return failure(err)
			}
		} else {
			if req.RepoID == "" {
				return mcp.NewToolResultError("node_id, symbol or repo_id is required"), nil
			}
			cycles = q.DetectAllCycles(req.RepoID, kinds...)
		}

		resp := cyclesResponse{Cycles: []cycleView{}, Total: len(cycles)}
		limit := clamp(req.MaxResults, defaultMaxResults, maxMaxResults)
		if len(cycles) > limit {
			cycles, resp.Truncated = cycles[:limit], true
		}
		for _, c := range cycles {
			cv := cycleView{Severity: string(c.Severity), Length: c.Len(), Nodes: []nodeView{}}
			for _, id := range c.Nodes {
				if n, err := q.Store().GetNode(id); err == nil {
					cv.Nodes = append(cv.Nodes, view(n))
				}
			}
			resp.Cycles = append(resp.Cycles, cv)
		}
		return marshalToolResponse(resp)
	}
}
