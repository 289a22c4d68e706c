package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/lattice/internal/pipeline"
)

var (
	quietFlag bool
	watchFlag bool
)

// indexCmd represents the index command
var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Build the code graph for a repository",
	Long: `Index scans a repository, parses every supported source file into the
universal graph, resolves cross-file references and saves a snapshot that
later commands load instead of reparsing.

Examples:
  # Index the current directory
  lattice index

  # Index another checkout without progress bars
  lattice index ../service --quiet

  # Index, then keep the graph current as files change
  lattice index --watch
`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(cmd, args, watchFlag)
	},
}

// watchCmd is index --watch.
var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index a repository and apply file changes as they happen",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runIndex(cmd, args, true)
	},
}

func init() {
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(watchCmd)
	indexCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Disable progress bars and non-error output")
	indexCmd.Flags().BoolVarP(&watchFlag, "watch", "w", false, "Watch for file changes and update the graph incrementally")
	watchCmd.Flags().BoolVarP(&quietFlag, "quiet", "q", false, "Disable progress bars and non-error output")
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runIndex(cmd *cobra.Command, args []string, watch bool) error {
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

	out := cmd.OutOrStdout()
	progress := NewCLIProgressReporter(cmd.ErrOrStderr(), quietFlag)
	res, err := ws.index(ctx, ws.repoID, progress)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("indexing cancelled")
		}
		return fmt.Errorf("indexing failed: %w", err)
	}
	for _, fe := range res.Errors {
		logger.Warn("cli.parse_failed", "file", fe.Path, "error", fe.Err)
	}
	if quietFlag {
		fmt.Fprintf(out, "Indexing complete: %d files, %d nodes, %d edges in %.2fs\n",
			res.Stats.FilesProcessed, res.Stats.NodesCreated, res.Stats.EdgesCreated, res.Stats.Duration.Seconds())
	}

	if !watch {
		return nil
	}
	return watchUntilDone(ctx, ws, out)
}

// watchUntilDone keeps the graph current until ctx ends, then saves it.
func watchUntilDone(ctx context.Context, ws *workspace, out io.Writer) error {
	if !ws.cfg.Watcher.Enabled {
		return fmt.Errorf("watching is disabled by configuration (watcher.enabled)")
	}
	if err := ws.repos.StartWatching(ctx, ws.repoID); err != nil {
		return fmt.Errorf("failed to start watching: %w", err)
	}
	if !quietFlag {
		fmt.Fprintf(out, "Watching %s for changes (Ctrl+C to stop)...\n", ws.root)
	}

	<-ctx.Done()

	info, err := ws.repos.Status(ws.repoID)
	if err == nil && info.Pipeline != nil && !quietFlag {
		printPipelineStats(out, info.Pipeline)
	}
	if err := ws.repos.StopWatching(ws.repoID); err != nil {
		ws.logger.Warn("cli.stop_watching", "error", err)
	}
	// ctx is already cancelled; the final save gets its own.
	if err := ws.persist(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

func printPipelineStats(out io.Writer, s *pipeline.Stats) {
	fmt.Fprintf(out, "Watch stopped: %s changes applied, %s failed\n",
		formatNumber(s.PatchesApplied), formatNumber(s.Errors))
}
