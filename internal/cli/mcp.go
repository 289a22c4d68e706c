package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/lattice/internal/mcp"
	"github.com/mvp-joe/lattice/internal/search"
	"github.com/mvp-joe/lattice/internal/storage"
)

// mcpCmd represents the mcp command
var mcpCmd = &cobra.Command{
	Use:   "mcp [path]",
	Short: "Start the MCP server for code graph queries",
	Long: `Start the Model Context Protocol (MCP) server that lets coding assistants
query the code graph.

The MCP server:
- Serves the saved snapshot immediately, then reindexes in the background
- Loads every repository listed in ~/.lattice/config.yml as well
- Keeps the graph current while files change (watcher.enabled)
- Provides find_dependencies, find_references, find_path, detect_cycles,
  search_symbols and get_stats tools, plus search_content over docs,
  configuration files and comments (content.enabled)
- Communicates via stdio (standard MCP transport)

Example:
  lattice mcp`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMCP,
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	root, err := resolveRoot(args)
	if err != nil {
		return err
	}
	logger := slog.Default()
	ws, err := openWorkspace(root, logger)
	if err != nil {
		return err
	}
	defer ws.Close()

	extra, err := ws.registerGlobal()
	if err != nil {
		return err
	}
	repoIDs := append([]string{ws.repoID}, extra...)

	// Serve whatever was saved while the fresh index is built.
	for _, id := range repoIDs {
		if _, err := storage.Restore(ctx, ws.backend, ws.store, id); err != nil {
			logger.Warn("cli.restore_failed", "repo", id, "error", err)
		}
	}

	symbols, err := search.NewSymbolIndex(ctx, ws.store, logger)
	if err != nil {
		return fmt.Errorf("failed to build symbol index: %w", err)
	}
	defer symbols.Close()

	server, err := mcp.NewServer(mcp.Config{
		Name:         "lattice",
		Version:      Version,
		Store:        ws.store,
		Symbols:      symbols,
		Repositories: ws.repos,
		Content:      ws.content,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	for _, id := range repoIDs {
		go refresh(ctx, ws, id)
	}

	fmt.Fprintf(os.Stderr, "Lattice MCP Server\n")
	fmt.Fprintf(os.Stderr, "Repositories: %v\n\n", repoIDs)

	// Serve (blocks until stdin closes or ctx ends)
	serveErr := server.Serve(ctx, os.Stdin, os.Stdout)
	cancel()

	if err := ws.persist(context.WithoutCancel(ctx)); err != nil {
		logger.Error("cli.persist_failed", "error", err)
	}
	return serveErr
}

// refresh reindexes a repository and, when configured, keeps watching it.
func refresh(ctx context.Context, ws *workspace, repoID string) {
	if _, err := ws.index(ctx, repoID, nil); err != nil {
		if ctx.Err() == nil {
			ws.logger.Error("cli.index_failed", "repo", repoID, "error", err)
		}
		return
	}
	if !ws.cfg.Watcher.Enabled {
		return
	}
	if err := ws.repos.StartWatching(ctx, repoID); err != nil && ctx.Err() == nil {
		ws.logger.Error("cli.watch_failed", "repo", repoID, "error", err)
	}
}
