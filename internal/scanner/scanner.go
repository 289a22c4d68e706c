// Package scanner walks a repository and classifies its source files.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/mvp-joe/lattice/internal/ast"
)

// DefaultMaxFileSize is the largest file the scanner returns.
const DefaultMaxFileSize int64 = 10 << 20

// DefaultIgnoredDirs are never descended into. Hidden directories are also skipped.
var DefaultIgnoredDirs = []string{
	".git", "node_modules", "vendor", "target", "build", "dist",
	"__pycache__", ".venv", "venv", ".idea", ".vscode", ".lattice",
}

// ErrFileTooLarge is recorded for files over the size limit.
var ErrFileTooLarge = errors.New("file exceeds size limit")

// Classifier maps a path to a language. *parser.Registry satisfies it.
type Classifier interface {
	Language(path string) (ast.Language, error)
}

// Options configures a Scanner.
type Options struct {
	ExcludePatterns []string
	MaxFileSize     int64
	FollowSymlinks  bool
	// Languages restricts the result. Empty means every classified language.
	Languages []ast.Language
	// Classifier decides which files are source files. Nil uses the
	// extension table in package ast.
	Classifier Classifier
	// IgnoreGitignore disables reading the root .gitignore.
	IgnoreGitignore bool
	// ContentExtensions selects non-source files, such as ".md" or ".yaml",
	// to list in ScanResult.ContentFiles. Matching is case-insensitive.
	ContentExtensions []string
}

// ScanError records one entry the scanner skipped.
type ScanError struct {
	Path string
	Err  error
}

func (e ScanError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e ScanError) Unwrap() error {
	return e.Err
}

// ScanResult lists the source files under a root. Paths are slash separated
// and relative to Root.
type ScanResult struct {
	Root            string
	FilesByLanguage map[ast.Language][]string
	TotalFiles      int
	// ContentFiles are the documentation and configuration files selected
	// by Options.ContentExtensions, sorted. They are not in TotalFiles.
	ContentFiles []string
	Skipped      int
	Errors       []ScanError
	Duration     time.Duration
}

// Files returns every file, sorted.
func (r *ScanResult) Files() []string {
	files := make([]string, 0, r.TotalFiles)
	for _, paths := range r.FilesByLanguage {
		files = append(files, paths...)
	}
	slices.Sort(files)
	return files
}

// Scanner walks directory trees. It holds no per-scan state and may be reused.
type Scanner struct {
	opts      Options
	excludes  *PatternSet
	ignored   map[string]bool
	languages map[ast.Language]bool
	content   map[string]bool
}

// New creates a scanner.
func New(opts Options) (*Scanner, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	excludes, err := NewPatternSet(opts.ExcludePatterns)
	if err != nil {
		return nil, err
	}
	s := &Scanner{
		opts:     opts,
		excludes: excludes,
		ignored:  make(map[string]bool, len(DefaultIgnoredDirs)),
	}
	for _, d := range DefaultIgnoredDirs {
		s.ignored[d] = true
	}
	if len(opts.ContentExtensions) > 0 {
		s.content = make(map[string]bool, len(opts.ContentExtensions))
		for _, ext := range opts.ContentExtensions {
			s.content[strings.ToLower(ext)] = true
		}
	}
	if len(opts.Languages) > 0 {
		s.languages = make(map[ast.Language]bool, len(opts.Languages))
		for _, l := range opts.Languages {
			s.languages[l] = true
		}
	}
	return s, nil
}

// IgnoredDir reports whether a directory is skipped by name or pattern.
func (s *Scanner) IgnoredDir(relPath string) bool {
	name := filepath.Base(relPath)
	if s.ignored[name] || (strings.HasPrefix(name, ".") && name != "." && name != "..") {
		return true
	}
	return s.excludes.Match(relPath)
}

// Classify returns the language of relPath, or false when the file is not
// a source file the scanner would return.
func (s *Scanner) Classify(relPath string) (ast.Language, bool) {
	if s.excludes.Match(relPath) {
		return ast.LangUnknown, false
	}
	var lang ast.Language
	if s.opts.Classifier != nil {
		l, err := s.opts.Classifier.Language(relPath)
		if err != nil {
			return ast.LangUnknown, false
		}
		lang = l
	} else {
		lang = ast.LanguageFromPath(relPath)
	}
	if lang == ast.LangUnknown {
		return lang, false
	}
	if s.languages != nil && !s.languages[lang] {
		return lang, false
	}
	return lang, true
}

// IsContent reports whether relPath is a content file the scanner would list.
func (s *Scanner) IsContent(relPath string) bool {
	if s.content == nil || s.excludes.Match(relPath) {
		return false
	}
	name := strings.ToLower(filepath.Base(relPath))
	// Dotfiles such as ".env" are matched by their whole name.
	return s.content[strings.ToLower(filepath.Ext(name))] || s.content[name]
}

// Scan walks root. Unreadable entries, broken links and oversized files are
// skipped and counted; only context cancellation or an unreadable root abort
// the scan.
func (s *Scanner) Scan(ctx context.Context, root string, progress ProgressReporter) (*ScanResult, error) {
	if progress == nil {
		progress = &NoOpProgressReporter{}
	}
	start := time.Now()

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}

	w := &walk{
		scanner:  s,
		ctx:      ctx,
		root:     abs,
		progress: progress,
		visited:  map[string]bool{},
		result: &ScanResult{
			Root:            abs,
			FilesByLanguage: make(map[ast.Language][]string),
		},
	}
	if !s.opts.IgnoreGitignore {
		w.gitignore = loadGitignore(abs)
	}

	progress.OnScanStart(abs)
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		w.visited[real] = true
	}
	if err := w.dir(abs, ""); err != nil {
		return nil, err
	}

	for lang := range w.result.FilesByLanguage {
		slices.Sort(w.result.FilesByLanguage[lang])
	}
	slices.Sort(w.result.ContentFiles)
	w.result.Duration = time.Since(start)
	progress.OnScanComplete(w.result)
	return w.result, nil
}

func loadGitignore(root string) *ignore.GitIgnore {
	path := filepath.Join(root, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	gi, err := ignore.CompileIgnoreFile(path)
	if err != nil {
		slog.Warn("failed to read .gitignore", "path", path, "error", err)
		return nil
	}
	return gi
}

// walk is the state of one Scan call.
type walk struct {
	scanner   *Scanner
	ctx       context.Context
	root      string
	progress  ProgressReporter
	gitignore *ignore.GitIgnore
	visited   map[string]bool
	result    *ScanResult
}

func (w *walk) skip(path string, err error) {
	w.result.Skipped++
	w.result.Errors = append(w.result.Errors, ScanError{Path: path, Err: err})
	slog.Debug("skipping entry", "path", path, "error", err)
}

func (w *walk) gitignored(rel string, isDir bool) bool {
	if w.gitignore == nil {
		return false
	}
	if isDir {
		return w.gitignore.MatchesPath(rel + "/")
	}
	return w.gitignore.MatchesPath(rel)
}

// dir walks dir, whose path relative to the root is prefix.
func (w *walk) dir(dir, prefix string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := w.ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel := w.relative(dir, prefix, path)
		if err != nil {
			if rel == prefix && prefix == "" {
				return fmt.Errorf("failed to read root %s: %w", w.root, err)
			}
			w.skip(rel, err)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == dir {
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 {
			return w.symlink(path, rel)
		}
		if d.IsDir() {
			if w.scanner.IgnoredDir(rel) || w.gitignored(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			w.skip(rel, err)
			return nil
		}
		w.file(rel, info.Size())
		return nil
	})
}

func (w *walk) relative(dir, prefix, path string) string {
	rel, err := filepath.Rel(dir, path)
	if err != nil || rel == "." {
		return prefix
	}
	rel = filepath.ToSlash(rel)
	if prefix == "" {
		return rel
	}
	return prefix + "/" + rel
}

func (w *walk) file(rel string, size int64) {
	lang, ok := w.scanner.Classify(rel)
	if !ok {
		w.contentFile(rel, size)
		return
	}
	if w.gitignored(rel, false) {
		return
	}
	if size > w.scanner.opts.MaxFileSize {
		w.skip(rel, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size))
		return
	}
	w.result.FilesByLanguage[lang] = append(w.result.FilesByLanguage[lang], rel)
	w.result.TotalFiles++
	w.progress.OnFileDiscovered(rel, lang)
}

func (w *walk) contentFile(rel string, size int64) {
	if !w.scanner.IsContent(rel) || w.gitignored(rel, false) {
		return
	}
	if size > w.scanner.opts.MaxFileSize {
		w.skip(rel, fmt.Errorf("%w: %d bytes", ErrFileTooLarge, size))
		return
	}
	w.result.ContentFiles = append(w.result.ContentFiles, rel)
}

func (w *walk) symlink(path, rel string) error {
	// Broken links are counted whether or not links are followed.
	if _, err := os.Stat(path); err != nil {
		w.skip(rel, fmt.Errorf("broken symlink: %w", err))
		return nil
	}
	if !w.scanner.opts.FollowSymlinks {
		return nil
	}
	target, err := filepath.EvalSymlinks(path)
	if err != nil {
		w.skip(rel, fmt.Errorf("broken symlink: %w", err))
		return nil
	}
	info, err := os.Stat(target)
	if err != nil {
		w.skip(rel, err)
		return nil
	}
	if !info.IsDir() {
		if info.Mode().IsRegular() {
			w.file(rel, info.Size())
		}
		return nil
	}
	if w.visited[target] || w.scanner.IgnoredDir(rel) || w.gitignored(rel, true) {
		return nil
	}
	w.visited[target] = true
	return w.dir(target, rel)
}
