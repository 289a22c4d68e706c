package scanner

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// compiledPattern holds both the pattern string and compiled glob
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// PatternSet matches slash separated relative paths against glob patterns.
// A pattern like "**/*.md" also matches files at the root, and a directory
// matches when "dir/**" would.
type PatternSet struct {
	patterns []compiledPattern
}

// NewPatternSet compiles patterns.
func NewPatternSet(patterns []string) (*PatternSet, error) {
	ps := &PatternSet{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		ps.patterns = append(ps.patterns, compiledPattern{pattern: pattern, glob: g})
		// "**/" requires at least one directory; add the root-level form too.
		if simplified, ok := strings.CutPrefix(pattern, "**/"); ok {
			if sg, err := glob.Compile(simplified, '/'); err == nil {
				ps.patterns = append(ps.patterns, compiledPattern{pattern: simplified, glob: sg})
			}
		}
	}
	return ps, nil
}

// Len returns the number of compiled patterns.
func (ps *PatternSet) Len() int {
	if ps == nil {
		return 0
	}
	return len(ps.patterns)
}

// Match reports whether relPath, or the directory it names, is matched.
func (ps *PatternSet) Match(relPath string) bool {
	if ps == nil {
		return false
	}
	withSuffix := relPath + "/**"
	for _, cp := range ps.patterns {
		if cp.glob.Match(relPath) || cp.glob.Match(withSuffix) {
			return true
		}
	}
	return false
}
