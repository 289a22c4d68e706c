package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	mcputils "github.com/mvp-joe/lattice/internal/mcp-utils"
)

const (
	defaultMaxResults = 100
	maxMaxResults     = 500
	defaultMaxDepth   = 5
	maxMaxDepth       = 20
)

var errNoTarget = errors.New("node_id or symbol is required")

// targetArgs names a node either by hex id or by symbol name.
type targetArgs struct {
	NodeID string `json:"node_id"`
	Symbol string `json:"symbol"`
	RepoID string `json:"repo_id"`
}

// bindArguments decodes a request into args, reporting bad input as a tool
// error result rather than a protocol error.
func bindArguments[T any](request mcp.CallToolRequest, args *T) *mcp.CallToolResult {
	if _, ok := request.GetRawArguments().(map[string]any); !ok && request.GetRawArguments() != nil {
		return mcp.NewToolResultError("invalid arguments format")
	}
	if err := mcputils.CoerceBindArguments(request, args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// resolve finds the node a target refers to. A symbol must name exactly one
// definition.
func resolve(store *graph.Store, t targetArgs) (ast.Node, error) {
	if t.NodeID != "" {
		id, err := ast.ParseNodeID(t.NodeID)
		if err != nil {
			return ast.Node{}, err
		}
		return store.GetNode(id)
	}
	if t.Symbol == "" {
		return ast.Node{}, errNoTarget
	}
	return graph.NewQuery(store).LookupSymbol(t.RepoID, t.Symbol)
}

// edgeKinds turns a dependency_type argument into an edge filter.
func edgeKinds(dependencyType string) ([]ast.EdgeKind, error) {
	switch d := graph.DependencyType(strings.ToLower(dependencyType)); d {
	case "", graph.DependencyDirect:
		return nil, nil
	case graph.DependencyCalls, graph.DependencyImports, graph.DependencyReads, graph.DependencyWrites:
		return d.EdgeKinds(), nil
	}
	return nil, fmt.Errorf("invalid dependency_type: %s (must be one of: direct, calls, imports, reads, writes)", dependencyType)
}

func clamp(v, def, hi int) int {
	if v <= 0 {
		return def
	}
	return min(v, hi)
}

// nodeView is the compact node rendering returned by every tool.
type nodeView struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Name      string `json:"name"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Language  string `json:"language"`
	RepoID    string `json:"repo_id"`
	Signature string `json:"signature,omitempty"`
}

func view(n ast.Node) nodeView {
	return nodeView{
		ID:        n.ID.String(),
		Kind:      string(n.Kind),
		Name:      n.Name,
		File:      n.File,
		Line:      n.Span.StartLine,
		Language:  string(n.Language),
		RepoID:    n.RepoID,
		Signature: n.Signature,
	}
}

// userError reports whether err came from bad input rather than a fault.
func userError(err error) bool {
	return errors.Is(err, graph.ErrNodeNotFound) ||
		errors.Is(err, graph.ErrNoPath) ||
		errors.Is(err, ast.ErrInvalidNodeID) ||
		errors.Is(err, errNoTarget) ||
		errors.Is(err, graph.ErrAmbiguous)
}

// failure converts a query error into a tool result or a protocol error.
func failure(err error) (*mcp.CallToolResult, error) {
	if userError(err) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return nil, err
}

// marshalToolResponse returns response as a JSON text result.
func marshalToolResponse(response any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
