package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DetachedHead is reported as the branch of a checkout without a symbolic ref.
const DetachedHead = "detached"

// BranchFunc is called with the previous and current branch after a checkout.
type BranchFunc func(oldBranch, newBranch string)

// BranchWatcher reports branch switches in a git working tree by watching
// .git/HEAD. A checkout rewrites many files at once, so callers typically
// rebuild the repository's graph rather than apply each file event.
type BranchWatcher struct {
	gitDir   string
	headPath string
	fsw      *fsnotify.Watcher
	logger   *slog.Logger

	mu     sync.RWMutex
	branch string

	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	stopOnce sync.Once
}

// NewBranchWatcher watches gitDir, the path of a .git directory. It fails
// when HEAD cannot be read.
func NewBranchWatcher(gitDir string, logger *slog.Logger) (*BranchWatcher, error) {
	headPath := filepath.Join(gitDir, "HEAD")
	branch, err := readBranch(headPath)
	if err != nil {
		return nil, &Error{Root: gitDir, Op: "read HEAD", Err: err}
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, &Error{Root: gitDir, Op: "init", Err: err}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BranchWatcher{
		gitDir:   gitDir,
		headPath: headPath,
		fsw:      fsw,
		logger:   logger,
		branch:   branch,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// GitDir returns the .git directory of root, or "" when root is not the top
// of a git working tree. Worktrees and submodules with a .git file are not
// followed.
func GitDir(root string) string {
	dir := filepath.Join(root, ".git")
	info, err := os.Stat(filepath.Join(dir, "HEAD"))
	if err != nil || info.IsDir() {
		return ""
	}
	return dir
}

// Branch returns the last branch seen.
func (bw *BranchWatcher) Branch() string {
	bw.mu.RLock()
	defer bw.mu.RUnlock()
	return bw.branch
}

// Start watches until Stop or ctx is done. fn runs on the watcher's
// goroutine, so a slow fn delays the next switch rather than racing it.
func (bw *BranchWatcher) Start(ctx context.Context, fn BranchFunc) error {
	// HEAD is replaced by rename on checkout, so watch the directory.
	if err := bw.fsw.Add(bw.gitDir); err != nil {
		return &Error{Root: bw.gitDir, Op: "watch", Err: err}
	}
	bw.started = true
	go bw.watch(ctx, fn)
	return nil
}

// Stop ends the watch and waits for an in-flight fn to return. It is safe
// to call more than once.
func (bw *BranchWatcher) Stop() error {
	var err error
	bw.stopOnce.Do(func() {
		close(bw.stopCh)
		if bw.started {
			<-bw.doneCh
		}
		err = bw.fsw.Close()
	})
	return err
}

func (bw *BranchWatcher) watch(ctx context.Context, fn BranchFunc) {
	defer close(bw.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-bw.stopCh:
			return
		case event, ok := <-bw.fsw.Events:
			if !ok {
				return
			}
			if event.Name != bw.headPath || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			next, err := readBranch(bw.headPath)
			if err != nil {
				// HEAD is briefly missing during some checkouts.
				bw.logger.Debug("watcher.head_unreadable", "git_dir", bw.gitDir, "error", err)
				continue
			}
			bw.mu.Lock()
			prev := bw.branch
			bw.branch = next
			bw.mu.Unlock()
			if prev == next {
				continue
			}
			bw.logger.Info("watcher.branch_switched", "git_dir", bw.gitDir, "from", prev, "to", next)
			bw.notify(fn, prev, next)
		case err, ok := <-bw.fsw.Errors:
			if !ok {
				return
			}
			bw.logger.Warn("watcher.branch_error", "git_dir", bw.gitDir, "error", err)
		}
	}
}

func (bw *BranchWatcher) notify(fn BranchFunc, prev, next string) {
	defer func() {
		if r := recover(); r != nil {
			bw.logger.Error("watcher.branch_callback_panic", "git_dir", bw.gitDir, "panic", fmt.Sprint(r))
		}
	}()
	fn(prev, next)
}

func readBranch(headPath string) (string, error) {
	content, err := os.ReadFile(headPath)
	if err != nil {
		return "", err
	}
	return parseBranch(content), nil
}

// parseBranch reads HEAD content: "ref: refs/heads/<name>" or a bare
// object id for a detached checkout.
func parseBranch(content []byte) string {
	line := strings.TrimSpace(string(content))
	if name, ok := strings.CutPrefix(line, "ref: refs/heads/"); ok {
		return strings.TrimSpace(name)
	}
	if (len(line) == 40 || len(line) == 64) && isHex(line) {
		return DetachedHead
	}
	return line
}

func isHex(s string) bool {
	for _, c := range s {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F') {
			return false
		}
	}
	return true
}
