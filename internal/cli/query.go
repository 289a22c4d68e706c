package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/graph"
	"github.com/mvp-joe/lattice/internal/search"
)

var (
	queryRoot      string
	jsonOutput     bool
	dependencyType string
	closureDepth   int
	pathDepth      int
	dependents     bool
	searchKinds    []string
	searchLanguage string
	searchLimit    int
	contentTypes   []string
	contentRegex   bool
	contentFiles   string
	contentLimit   int
)

// queryCmd groups the graph queries. Each loads the saved snapshot of the
// repository at --root, indexing it first when none exists.
var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query the code graph",
	Long: `Query answers structural questions about an indexed repository.

Targets are either a symbol name, which must identify a single definition, or
a hex node id as printed by the other queries.

Examples:
  lattice query deps parse_config
  lattice query deps parse_config --dependents --type calls
  lattice query closure main --depth 3
  lattice query cycles --type imports
  lattice query path main write_file
  lattice query search "http client" --kind Function --kind Method
  lattice query content "retry AND timeout" --type configuration
  lattice query stats --json`,
}

var depsCmd = &cobra.Command{
	Use:   "deps <symbol|node-id>",
	Short: "List direct dependencies (or dependents) of a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, q *graph.Query, repoID string) error {
			target, err := q.Lookup(repoID, args[0])
			if err != nil {
				return err
			}
			kinds, err := parseDependencyType(dependencyType)
			if err != nil {
				return err
			}
			var deps []graph.Dependency
			if dependents {
				deps, err = q.FindDependents(target.ID, kinds...)
			} else {
				deps, err = q.FindDependencies(target.ID, kinds...)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), deps)
			}
			tw := newTable(cmd.OutOrStdout(), "EDGE", "KIND", "NAME", "LOCATION", "ID")
			for _, d := range deps {
				row(tw, string(d.Edge.Kind), string(d.Node.Kind), d.Node.Name, location(d.Node), d.Node.ID.String())
			}
			return tw.Flush()
		})
	},
}

var closureCmd = &cobra.Command{
	Use:   "closure <symbol|node-id>",
	Short: "List everything a node transitively depends on",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, q *graph.Query, repoID string) error {
			target, err := q.Lookup(repoID, args[0])
			if err != nil {
				return err
			}
			kinds, err := parseDependencyType(dependencyType)
			if err != nil {
				return err
			}
			reached, err := q.TransitiveClosure(target.ID, closureDepth, kinds...)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), reached)
			}
			tw := newTable(cmd.OutOrStdout(), "DEPTH", "EDGE", "KIND", "NAME", "LOCATION")
			for _, r := range reached {
				n, err := q.Store().GetNode(r.Target)
				if err != nil {
					continue
				}
				row(tw, fmt.Sprint(r.Depth), string(r.Kind), string(n.Kind), n.Name, location(n))
			}
			return tw.Flush()
		})
	},
}

var cyclesCmd = &cobra.Command{
	Use:   "cycles [symbol|node-id]",
	Short: "Detect dependency cycles from a node or across the repository",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, q *graph.Query, repoID string) error {
			kinds, err := parseDependencyType(dependencyType)
			if err != nil {
				return err
			}
			var cycles []graph.Cycle
			if len(args) == 1 {
				root, err := q.Lookup(repoID, args[0])
				if err != nil {
					return err
				}
				if cycles, err = q.DetectCycles(root.ID, kinds...); err != nil {
					return err
				}
			} else {
				cycles = q.DetectAllCycles(repoID, kinds...)
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), cycles)
			}
			out := cmd.OutOrStdout()
			if len(cycles) == 0 {
				fmt.Fprintln(out, "No cycles found")
				return nil
			}
			for i, c := range cycles {
				fmt.Fprintf(out, "Cycle %d (%s, %d nodes):\n", i+1, c.Severity, c.Len())
				for _, id := range c.Nodes {
					fmt.Fprintf(out, "  %s\n", describe(q.Store(), id))
				}
			}
			return nil
		})
	},
}

var pathCmd = &cobra.Command{
	Use:   "path <from> <to>",
	Short: "Find the shortest dependency path between two nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, q *graph.Query, repoID string) error {
			from, err := q.Lookup(repoID, args[0])
			if err != nil {
				return fmt.Errorf("from: %w", err)
			}
			to, err := q.Lookup(repoID, args[1])
			if err != nil {
				return fmt.Errorf("to: %w", err)
			}
			kinds, err := parseDependencyType(dependencyType)
			if err != nil {
				return err
			}
			path, err := q.FindPath(from.ID, to.ID, pathDepth, kinds...)
			if errors.Is(err, graph.ErrNoPath) {
				fmt.Fprintf(cmd.OutOrStdout(), "No path from %s to %s within %d steps\n", from.Name, to.Name, pathDepth)
				return nil
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), path)
			}
			out := cmd.OutOrStdout()
			for i, id := range path.Nodes {
				if i > 0 {
					fmt.Fprintf(out, "  --%s-->\n", path.Edges[i-1].Kind)
				}
				fmt.Fprintf(out, "%s\n", describe(q.Store(), id))
			}
			return nil
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <text>",
	Short: "Search symbols by name, prefix, words or wildcard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, q *graph.Query, repoID string) error {
			var kinds []ast.NodeKind
			for _, k := range searchKinds {
				kind, ok := ast.ParseNodeKind(k)
				if !ok {
					return fmt.Errorf("invalid kind: %s", k)
				}
				kinds = append(kinds, kind)
			}
			idx, err := search.NewSymbolIndex(ctx, q.Store(), slog.Default())
			if err != nil {
				return err
			}
			defer idx.Close()

			results, err := idx.Search(ctx, args[0], search.Options{
				RepoID:   repoID,
				Kinds:    kinds,
				Language: ast.Language(searchLanguage),
				Limit:    searchLimit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			tw := newTable(cmd.OutOrStdout(), "SCORE", "KIND", "NAME", "LOCATION", "ID")
			for _, r := range results {
				row(tw, fmt.Sprintf("%.2f", r.Score), string(r.Node.Kind), r.Node.Name, location(r.Node), r.Node.ID.String())
			}
			return tw.Flush()
		})
	},
}

var contentCmd = &cobra.Command{
	Use:   "content <query>",
	Short: "Search documentation, configuration files and comments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
			if ws.content == nil {
				return errors.New("content index is disabled (content.enabled)")
			}
			var types []search.ContentType
			for _, t := range contentTypes {
				typ, ok := search.ParseContentType(t)
				if !ok {
					return fmt.Errorf("invalid content type: %s", t)
				}
				types = append(types, typ)
			}
			results, err := ws.content.Search(ctx, search.ContentQuery{
				Text:        args[0],
				Regex:       contentRegex,
				RepoID:      ws.repoID,
				Types:       types,
				FilePattern: contentFiles,
				Limit:       contentLimit,
			})
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), results)
			}
			tw := newTable(cmd.OutOrStdout(), "SCORE", "TYPE", "LOCATION", "TITLE", "TEXT")
			for _, r := range results {
				c := r.Chunk
				row(tw, fmt.Sprintf("%.2f", r.Score), string(c.Type),
					fmt.Sprintf("%s:%d-%d", c.File, c.StartLine, c.EndLine), c.Title, snippet(c.Text))
			}
			return tw.Flush()
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph size by node kind",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withGraph(cmd, func(ctx context.Context, q *graph.Query, repoID string) error {
			stats := q.Store().RepoStats(repoID)
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Repository: %s\n", repoID)
			fmt.Fprintf(out, "Files:      %s\n", formatNumber(stats.TotalFiles))
			fmt.Fprintf(out, "Nodes:      %s\n", formatNumber(stats.TotalNodes))
			fmt.Fprintf(out, "Edges:      %s\n", formatNumber(stats.TotalEdges))
			tw := newTable(out, "KIND", "COUNT")
			for _, kind := range sortedKinds(stats.NodesByKind) {
				row(tw, string(kind), formatNumber(stats.NodesByKind[kind]))
			}
			return tw.Flush()
		})
	},
}

func init() {
	rootCmd.AddCommand(queryCmd)
	queryCmd.AddCommand(depsCmd, closureCmd, cyclesCmd, pathCmd, searchCmd, contentCmd, statsCmd)

	queryCmd.PersistentFlags().StringVar(&queryRoot, "root", ".", "Repository root")
	queryCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")

	for _, c := range []*cobra.Command{depsCmd, closureCmd, cyclesCmd, pathCmd} {
		c.Flags().StringVarP(&dependencyType, "type", "t", "direct", "Dependency type: direct, calls, imports, reads, writes")
	}
	depsCmd.Flags().BoolVar(&dependents, "dependents", false, "List nodes that depend on the target instead")
	closureCmd.Flags().IntVarP(&closureDepth, "depth", "d", 5, "Maximum depth (0 for unlimited)")
	pathCmd.Flags().IntVarP(&pathDepth, "depth", "d", 10, "Maximum path length (0 for unlimited)")

	searchCmd.Flags().StringSliceVarP(&searchKinds, "kind", "k", nil, "Node kinds to include (repeatable)")
	searchCmd.Flags().StringVarP(&searchLanguage, "language", "l", "", "Restrict to one language")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", search.DefaultLimit, "Maximum results")

	contentCmd.Flags().StringSliceVarP(&contentTypes, "type", "t", nil, "Content types: documentation, configuration, comment (repeatable)")
	contentCmd.Flags().BoolVar(&contentRegex, "regex", false, "Treat the query as a regular expression over words")
	contentCmd.Flags().StringVarP(&contentFiles, "file", "f", "", "Wildcard over repository relative paths")
	contentCmd.Flags().IntVarP(&contentLimit, "limit", "n", search.DefaultContentLimit, "Maximum results")
}

// withGraph loads the repository graph and runs fn against it.
func withGraph(cmd *cobra.Command, fn func(ctx context.Context, q *graph.Query, repoID string) error) error {
	return withWorkspace(cmd, func(ctx context.Context, ws *workspace) error {
		return fn(ctx, graph.NewQuery(ws.store), ws.repoID)
	})
}

// withWorkspace opens the workspace at --root, loads its graph and content
// and runs fn.
func withWorkspace(cmd *cobra.Command, fn func(ctx context.Context, ws *workspace) error) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	root, err := resolveRoot([]string{queryRoot})
	if err != nil {
		return err
	}
	ws, err := openWorkspace(root, slog.Default())
	if err != nil {
		return err
	}
	defer ws.Close()

	progress := NewCLIProgressReporter(cmd.ErrOrStderr(), !verbose)
	if _, err := ws.load(ctx, ws.repoID, progress); err != nil {
		return fmt.Errorf("failed to load graph: %w", err)
	}
	return fn(ctx, ws)
}

// snippet is the first line of text, cut to a table-friendly width.
func snippet(text string) string {
	line, _, _ := strings.Cut(text, "\n")
	if r := []rune(line); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return line
}

func parseDependencyType(s string) ([]ast.EdgeKind, error) {
	switch d := graph.DependencyType(strings.ToLower(s)); d {
	case "", graph.DependencyDirect, graph.DependencyCalls, graph.DependencyImports, graph.DependencyReads, graph.DependencyWrites:
		return d.EdgeKinds(), nil
	}
	return nil, fmt.Errorf("invalid dependency type: %s (must be one of: direct, calls, imports, reads, writes)", s)
}

func newTable(w io.Writer, header ...string) *tabwriter.Writer {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row(tw, header...)
	return tw
}

func row(tw *tabwriter.Writer, cols ...string) {
	fmt.Fprintln(tw, strings.Join(cols, "\t"))
}

func location(n ast.Node) string {
	return fmt.Sprintf("%s:%d", n.File, n.Span.StartLine)
}

func describe(store *graph.Store, id ast.NodeID) string {
	n, err := store.GetNode(id)
	if err != nil {
		return id.String()
	}
	return fmt.Sprintf("%s %s (%s)", n.Kind, n.Name, location(n))
}

func sortedKinds(m map[ast.NodeKind]int) []ast.NodeKind {
	kinds := make([]ast.NodeKind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	// Largest first, then by name.
	slices.SortFunc(kinds, func(a, b ast.NodeKind) int {
		if m[a] != m[b] {
			return m[b] - m[a]
		}
		return strings.Compare(string(a), string(b))
	})
	return kinds
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
