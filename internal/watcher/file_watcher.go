package watcher

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mvp-joe/lattice/internal/scanner"
)

// ErrNotWatched is returned by Unwatch for a root that is not being watched.
var ErrNotWatched = errors.New("root is not watched")

// Options configures a Watcher.
type Options struct {
	// DebounceWindow is the quiet period per path. Zero uses DefaultDebounceWindow.
	DebounceWindow time.Duration

	// QueueSize bounds raw events between the notification callback and the
	// debounce loop. Events arriving on a full queue are dropped and counted.
	QueueSize int

	// Extensions to monitor (e.g. ".go", ".py"). Empty monitors every file.
	Extensions []string

	// IgnorePatterns are globs matched against root-relative paths.
	IgnorePatterns []string

	Logger *slog.Logger
}

// Watcher monitors directory trees for source file changes and emits
// debounced ChangeEvents.
type Watcher struct {
	fsw        *fsnotify.Watcher
	window     time.Duration
	extensions map[string]bool
	ignore     *scanner.PatternSet
	ignoreDirs map[string]bool
	debouncer  *Debouncer
	logger     *slog.Logger

	mu    sync.Mutex
	roots map[string]struct{}
	dirs  map[string]string // watched directory -> root

	errs     chan error
	dropped  atomic.Int64
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// New creates a watcher and starts its goroutines. Call Watch to add roots.
func New(opts Options) (*Watcher, error) {
	ignore, err := scanner.NewPatternSet(opts.IgnorePatterns)
	if err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &Error{Op: "init", Err: err}
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = DefaultDebounceWindow
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		fsw:        fsw,
		window:     opts.DebounceWindow,
		extensions: make(map[string]bool, len(opts.Extensions)),
		ignore:     ignore,
		ignoreDirs: make(map[string]bool, len(scanner.DefaultIgnoredDirs)),
		debouncer:  NewDebouncer(opts.DebounceWindow, opts.QueueSize),
		logger:     logger,
		roots:      make(map[string]struct{}),
		dirs:       make(map[string]string),
		errs:       make(chan error, 16),
		done:       make(chan struct{}),
	}
	for _, ext := range opts.Extensions {
		w.extensions[strings.ToLower(ext)] = true
	}
	for _, d := range scanner.DefaultIgnoredDirs {
		w.ignoreDirs[d] = true
	}

	w.wg.Add(1)
	go w.watch()
	return w, nil
}

// Watch adds root and every directory below it. Directories created later
// are added as they appear. Watching a root twice is a no-op.
func (w *Watcher) Watch(root string) error {
	select {
	case <-w.done:
		return ErrStopped
	default:
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return &Error{Root: root, Op: "watch", Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return &Error{Root: abs, Op: "watch", Err: err}
	}
	if !info.IsDir() {
		return &Error{Root: abs, Op: "watch", Err: errors.New("not a directory")}
	}

	w.mu.Lock()
	if _, ok := w.roots[abs]; ok {
		w.mu.Unlock()
		return nil
	}
	w.roots[abs] = struct{}{}
	w.mu.Unlock()

	if err := w.addTree(abs, abs, false); err != nil {
		w.mu.Lock()
		delete(w.roots, abs)
		w.mu.Unlock()
		return &Error{Root: abs, Op: "watch", Err: err}
	}
	w.logger.Debug("watcher.watch", "root", abs)
	return nil
}

// Unwatch stops watching root. Events already queued for it are still delivered.
func (w *Watcher) Unwatch(root string) error {
	abs, err := filepath.Abs(root)
	if err != nil {
		return &Error{Root: root, Op: "unwatch", Err: err}
	}
	w.mu.Lock()
	if _, ok := w.roots[abs]; !ok {
		w.mu.Unlock()
		return &Error{Root: abs, Op: "unwatch", Err: ErrNotWatched}
	}
	delete(w.roots, abs)
	var dirs []string
	for dir, r := range w.dirs {
		if r == abs {
			dirs = append(dirs, dir)
			delete(w.dirs, dir)
		}
	}
	w.mu.Unlock()

	for _, dir := range dirs {
		// The directory may already be gone; fsnotify drops its watch itself then.
		_ = w.fsw.Remove(dir)
	}
	w.logger.Debug("watcher.unwatch", "root", abs, "dirs", len(dirs))
	return nil
}

// Roots returns the watched roots, sorted.
func (w *Watcher) Roots() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	roots := make([]string, 0, len(w.roots))
	for r := range w.roots {
		roots = append(roots, r)
	}
	slices.Sort(roots)
	return roots
}

// Events delivers debounced changes. The channel is closed by Stop.
func (w *Watcher) Events() <-chan ChangeEvent {
	return w.debouncer.Events()
}

// Errors delivers notification failures as *Error. The channel is closed by
// Stop. Errors are dropped when nobody reads them.
func (w *Watcher) Errors() <-chan error {
	return w.errs
}

// Dropped returns how many raw events were discarded on a full queue.
func (w *Watcher) Dropped() int64 {
	return w.dropped.Load()
}

// Pause holds debounced events until Resume. Changes keep coalescing meanwhile.
func (w *Watcher) Pause() {
	w.debouncer.Pause()
}

// Resume delivers held events and continues normally.
func (w *Watcher) Resume() {
	w.debouncer.Resume()
}

// Stop shuts the watcher down and waits for its goroutines. Pending debounce
// timers are abandoned. Stop is idempotent.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
		w.stopErr = w.fsw.Close()
		w.wg.Wait()
		w.debouncer.Stop()
	})
	return w.stopErr
}

// renameCandidate is the old half of a rename waiting for its Create.
type renameCandidate struct {
	path string
	root string
	at   time.Time
}

// watch is the notification loop. It classifies raw events and hands them
// to the debouncer without ever waiting on it.
func (w *Watcher) watch() {
	defer w.wg.Done()
	defer close(w.errs)

	var renames []renameCandidate
	var expire *time.Timer
	var expireC <-chan time.Time

	for {
		select {
		case <-w.done:
			if expire != nil {
				expire.Stop()
			}
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			renames = w.handle(event, renames)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.report(&Error{Op: "notify", Err: err})

		case now := <-expireC:
			expireC = nil
			renames = w.expireRenames(renames, now)
		}

		if len(renames) > 0 && expireC == nil {
			expire = time.NewTimer(w.window)
			expireC = expire.C
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, renames []renameCandidate) []renameCandidate {
	path := filepath.Clean(event.Name)
	root, isDir := w.rootOf(path)
	if root == "" || w.ignored(root, path) {
		return renames
	}
	now := time.Now()

	switch {
	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		if isDir {
			w.forgetTree(path)
			w.push(ChangeEvent{Kind: Deleted, Path: path, Root: root, Dir: true, At: now})
			return renames
		}
		if !w.monitored(path) {
			return renames
		}
		if event.Has(fsnotify.Rename) {
			return append(renames, renameCandidate{path: path, root: root, at: now})
		}
		w.push(ChangeEvent{Kind: Deleted, Path: path, Root: root, At: now})

	case event.Has(fsnotify.Create):
		info, err := os.Lstat(path)
		if err != nil {
			return renames
		}
		if info.IsDir() {
			if err := w.addTree(root, path, true); err != nil {
				w.report(&Error{Root: root, Op: "watch", Err: err})
			}
			return renames
		}
		if !w.monitored(path) {
			return renames
		}
		if len(renames) > 0 {
			old := renames[0]
			w.push(ChangeEvent{Kind: Renamed, Path: path, OldPath: old.path, Root: root, At: now})
			return renames[1:]
		}
		w.push(ChangeEvent{Kind: Created, Path: path, Root: root, At: now})

	case event.Has(fsnotify.Write):
		if w.monitored(path) {
			w.push(ChangeEvent{Kind: Modified, Path: path, Root: root, At: now})
		}
	}
	return renames
}

// expireRenames turns renames whose Create never arrived into deletions.
func (w *Watcher) expireRenames(renames []renameCandidate, now time.Time) []renameCandidate {
	i := 0
	for ; i < len(renames) && now.Sub(renames[i].at) >= w.window; i++ {
		r := renames[i]
		w.push(ChangeEvent{Kind: Deleted, Path: r.path, Root: r.root, At: r.at})
	}
	return renames[i:]
}

func (w *Watcher) push(ev ChangeEvent) {
	if w.debouncer.TryPush(ev) {
		return
	}
	n := w.dropped.Add(1)
	droppedTotal.Inc()
	if n == 1 || n%100 == 0 {
		w.logger.Warn("watcher.queue_full", "path", ev.Path, "dropped", n)
	}
}

func (w *Watcher) report(err error) {
	w.logger.Warn("watcher.error", "error", err)
	select {
	case w.errs <- err:
	default:
	}
}

// rootOf returns the root a path belongs to and whether the path itself is a
// watched directory.
func (w *Watcher) rootOf(path string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if root, ok := w.dirs[path]; ok {
		return root, true
	}
	return w.dirs[filepath.Dir(path)], false
}

func (w *Watcher) monitored(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

// ignored applies the scanner's directory rules and the ignore patterns.
func (w *Watcher) ignored(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." {
		return false
	}
	rel = filepath.ToSlash(rel)
	for _, seg := range strings.Split(rel, "/") {
		if w.ignoreDirs[seg] || strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return w.ignore.Match(rel)
}

// addTree watches dir and every directory below it. When announce is set,
// files already present are reported as Created: they may have been written
// before the watch on a new directory was in place.
func (w *Watcher) addTree(root, dir string, announce bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			w.logger.Debug("watcher.walk_error", "path", path, "error", err)
			return nil
		}
		if path != dir && w.ignored(root, path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			if announce && d.Type().IsRegular() && w.monitored(path) {
				w.push(ChangeEvent{Kind: Created, Path: path, Root: root, At: time.Now()})
			}
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			if path == dir {
				return err
			}
			w.logger.Warn("watcher.add_failed", "dir", path, "error", err)
			return nil
		}
		w.mu.Lock()
		if _, ok := w.dirs[path]; !ok {
			w.dirs[path] = root
		}
		w.mu.Unlock()
		return nil
	})
}

// forgetTree drops a removed or renamed directory and everything below it.
func (w *Watcher) forgetTree(dir string) {
	prefix := dir + string(filepath.Separator)
	var gone []string
	w.mu.Lock()
	for d := range w.dirs {
		if d == dir || strings.HasPrefix(d, prefix) {
			delete(w.dirs, d)
			gone = append(gone, d)
		}
	}
	w.mu.Unlock()
	for _, d := range gone {
		_ = w.fsw.Remove(d)
	}
}
