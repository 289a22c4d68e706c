package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/mvp-joe/lattice/internal/ast"
	"github.com/mvp-joe/lattice/internal/indexer"
	"github.com/mvp-joe/lattice/internal/scanner"
)

// CLIProgressReporter reports scan and index progress with progress bars. It
// satisfies both indexer.ProgressSink and scanner.ProgressReporter.
type CLIProgressReporter struct {
	out        io.Writer
	quiet      bool
	fileBar    *progressbar.ProgressBar
	discovered int
	failed     int
}

var (
	_ indexer.ProgressSink     = (*CLIProgressReporter)(nil)
	_ scanner.ProgressReporter = (*CLIProgressReporter)(nil)
)

// NewCLIProgressReporter creates a new CLI progress reporter writing to out.
func NewCLIProgressReporter(out io.Writer, quiet bool) *CLIProgressReporter {
	return &CLIProgressReporter{out: out, quiet: quiet}
}

func (c *CLIProgressReporter) OnScanStart(root string) {
	if c.quiet {
		return
	}
	fmt.Fprintf(c.out, "Scanning %s...\n", root)
}

func (c *CLIProgressReporter) OnFileDiscovered(relPath string, lang ast.Language) {
	c.discovered++
}

func (c *CLIProgressReporter) OnScanComplete(result *scanner.ScanResult) {
	if c.quiet {
		return
	}
	var langs []string
	for lang, files := range result.FilesByLanguage {
		langs = append(langs, fmt.Sprintf("%s=%d", lang, len(files)))
	}
	slices.Sort(langs)
	fmt.Fprintf(c.out, "Found %s source files (%s), skipped %s\n",
		formatNumber(result.TotalFiles), strings.Join(langs, " "), formatNumber(result.Skipped))
}

func (c *CLIProgressReporter) OnIndexStart(totalFiles int) {
	if c.quiet {
		return
	}
	c.fileBar = progressbar.NewOptions(totalFiles,
		progressbar.OptionSetWriter(c.out),
		progressbar.OptionSetDescription("Indexing files"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("files/s"),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(c.out)
		}),
	)
}

func (c *CLIProgressReporter) OnFileIndexed(relPath string, err error) {
	if err != nil {
		c.failed++
	}
	if c.quiet || c.fileBar == nil {
		return
	}
	_ = c.fileBar.Add(1)
}

func (c *CLIProgressReporter) OnLinkingStart(totalFiles int) {
	if c.quiet {
		return
	}
	if c.fileBar != nil {
		_ = c.fileBar.Finish()
		c.fileBar = nil
	}
	fmt.Fprintf(c.out, "Linking %s files...\n", formatNumber(totalFiles))
}

func (c *CLIProgressReporter) OnIndexComplete(stats indexer.Stats, elapsed time.Duration) {
	if c.quiet {
		return
	}
	if c.fileBar != nil {
		_ = c.fileBar.Finish()
		c.fileBar = nil
	}
	fmt.Fprintf(c.out, "✓ Graph built: %s nodes, %s edges, %s links (took %.1fs)\n",
		formatNumber(stats.NodesCreated), formatNumber(stats.EdgesCreated),
		formatNumber(stats.LinksCreated), elapsed.Seconds())
	if stats.ErrorCount > 0 {
		fmt.Fprintf(c.out, "  %s files failed to parse\n", formatNumber(stats.ErrorCount))
	}
}

func formatNumber(n int) string {
	if n < 1000 && n > -1000 {
		return fmt.Sprintf("%d", n)
	}

	str := fmt.Sprintf("%d", n)
	sign := ""
	if str[0] == '-' {
		sign, str = "-", str[1:]
	}
	var result strings.Builder
	for i, c := range str {
		if i > 0 && (len(str)-i)%3 == 0 {
			result.WriteByte(',')
		}
		result.WriteRune(c)
	}
	return sign + result.String()
}
