// Package git reads checkout metadata used to label graph snapshots.
package git

import (
	"os/exec"
	"strings"
)

// Operations abstracts the git commands lattice runs so tests can avoid
// a real checkout.
type Operations interface {
	// CurrentBranch returns the checked out branch, "detached-<short>" for
	// a detached HEAD, or "" outside a git working tree.
	CurrentBranch(dir string) string

	// HeadCommit returns the abbreviated commit id of HEAD, or "" when there
	// is none (outside a working tree or before the first commit).
	HeadCommit(dir string) string
}

type gitOps struct{}

// NewOperations returns Operations backed by the git executable.
func NewOperations() Operations {
	return gitOps{}
}

func (gitOps) CurrentBranch(dir string) string {
	if out, err := run(dir, "branch", "--show-current"); err == nil && out != "" {
		return out
	}
	if sha, err := run(dir, "rev-parse", "--short", "HEAD"); err == nil && sha != "" {
		return "detached-" + sha
	}
	return ""
}

func (gitOps) HeadCommit(dir string) string {
	sha, err := run(dir, "rev-parse", "--short", "HEAD")
	if err != nil {
		return ""
	}
	return sha
}

func run(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Revision labels the state of dir's checkout as "<branch>@<commit>". It is
// "" when dir is not a git working tree or git is unavailable.
func Revision(ops Operations, dir string) string {
	branch := ops.CurrentBranch(dir)
	if branch == "" {
		return ""
	}
	commit := ops.HeadCommit(dir)
	if commit == "" || strings.HasSuffix(branch, "-"+commit) {
		return branch
	}
	return branch + "@" + commit
}

// Mock is a fixed Operations for tests.
type Mock struct {
	Branch string
	Commit string
}

func (m Mock) CurrentBranch(string) string { return m.Branch }

func (m Mock) HeadCommit(string) string { return m.Commit }
