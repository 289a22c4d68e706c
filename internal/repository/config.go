// Package repository manages the lifecycle of indexed repositories: cold
// start through the scanner and bulk indexer, warm updates through a watcher
// and monitoring pipeline, and health reporting.
package repository

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/mvp-joe/lattice/internal/scanner"
)

// DefaultMaxFileSize is the largest file indexed unless configured otherwise.
const DefaultMaxFileSize = scanner.DefaultMaxFileSize

// RepositoryConfig describes one repository.
type RepositoryConfig struct {
	RepoID          string            `json:"repo_id" yaml:"id"`
	RootPath        string            `json:"root_path" yaml:"root"`
	Name            string            `json:"name" yaml:"name"`
	Description     string            `json:"description,omitempty" yaml:"description"`
	ExcludePatterns []string          `json:"exclude_patterns,omitempty" yaml:"exclude"`
	MaxFileSize     int64             `json:"max_file_size" yaml:"max_file_size"`
	FollowSymlinks  bool              `json:"follow_symlinks" yaml:"follow_symlinks"`
	Metadata        map[string]string `json:"metadata,omitempty" yaml:"metadata"`
}

// NewRepositoryConfig returns a config named after the root directory.
func NewRepositoryConfig(repoID, root string) RepositoryConfig {
	name := filepath.Base(filepath.Clean(root))
	if name == "." || name == string(filepath.Separator) {
		name = repoID
	}
	return RepositoryConfig{
		RepoID:      repoID,
		RootPath:    root,
		Name:        name,
		MaxFileSize: DefaultMaxFileSize,
	}
}

// WithMetadata returns a copy of c with key set.
func (c RepositoryConfig) WithMetadata(key, value string) RepositoryConfig {
	md := make(map[string]string, len(c.Metadata)+1)
	for k, v := range c.Metadata {
		md[k] = v
	}
	md[key] = value
	c.Metadata = md
	return c
}

// Validate checks required fields.
func (c RepositoryConfig) Validate() error {
	var errs []error
	if c.RepoID == "" {
		errs = append(errs, errors.New("repository id is required"))
	}
	if c.RootPath == "" {
		errs = append(errs, errors.New("repository root is required"))
	}
	if c.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("max file size must not be negative, got %d", c.MaxFileSize))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
