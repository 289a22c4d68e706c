package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mvp-joe/lattice/internal/storage"
)

var (
	// ErrInvalidBackend indicates an unsupported storage backend
	ErrInvalidBackend = errors.New("invalid storage backend")

	// ErrInvalidWorkers indicates a negative worker count
	ErrInvalidWorkers = errors.New("invalid worker count")

	// ErrInvalidDuration indicates a negative or too small duration
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrInvalidSize indicates a negative size or capacity
	ErrInvalidSize = errors.New("invalid size")
)

// Validate checks that the configuration is valid and complete.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Repository.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("%w: max_file_size cannot be negative, got %d", ErrInvalidSize, cfg.Repository.MaxFileSize))
	}

	if err := validateIndexing(&cfg.Indexing); err != nil {
		errs = append(errs, err)
	}
	if err := validateWatcher(&cfg.Watcher); err != nil {
		errs = append(errs, err)
	}
	if err := validateParser(&cfg.Parser); err != nil {
		errs = append(errs, err)
	}
	if err := validateStorage(&cfg.Storage); err != nil {
		errs = append(errs, err)
	}
	if cfg.Content.ChunkTokens < 0 {
		errs = append(errs, fmt.Errorf("%w: chunk_tokens cannot be negative, got %d", ErrInvalidSize, cfg.Content.ChunkTokens))
	}

	return joinErrors(errs)
}

func validateIndexing(cfg *IndexingConfig) error {
	var errs []error
	if cfg.Workers < 0 {
		errs = append(errs, fmt.Errorf("%w: workers cannot be negative, got %d", ErrInvalidWorkers, cfg.Workers))
	}
	if cfg.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("%w: stale_after cannot be negative, got %s", ErrInvalidDuration, cfg.StaleAfter))
	}
	return joinErrors(errs)
}

func validateWatcher(cfg *WatcherConfig) error {
	var errs []error
	// Zero falls back to the watcher default; anything under a millisecond
	// would coalesce nothing.
	if cfg.Debounce < 0 || (cfg.Debounce > 0 && cfg.Debounce < time.Millisecond) {
		errs = append(errs, fmt.Errorf("%w: debounce must be at least 1ms, got %s", ErrInvalidDuration, cfg.Debounce))
	}
	if cfg.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("%w: queue_size cannot be negative, got %d", ErrInvalidSize, cfg.QueueSize))
	}
	return joinErrors(errs)
}

func validateParser(cfg *ParserConfig) error {
	var errs []error
	if cfg.ParseTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: parse_timeout cannot be negative, got %s", ErrInvalidDuration, cfg.ParseTimeout))
	}
	if cfg.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("%w: max_depth cannot be negative, got %d", ErrInvalidSize, cfg.MaxDepth))
	}
	if cfg.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("%w: pool_size cannot be negative, got %d", ErrInvalidSize, cfg.PoolSize))
	}
	if cfg.TreeCacheSize < 0 {
		errs = append(errs, fmt.Errorf("%w: tree_cache_size cannot be negative, got %d", ErrInvalidSize, cfg.TreeCacheSize))
	}
	return joinErrors(errs)
}

func validateStorage(cfg *StorageConfig) error {
	switch cfg.Backend {
	case storage.BackendJSON, storage.BackendSQLite:
		return nil
	}
	return fmt.Errorf("%w: must be '%s' or '%s', got '%s'", ErrInvalidBackend, storage.BackendJSON, storage.BackendSQLite, cfg.Backend)
}

// joinErrors combines multiple errors into a single error with clear formatting.
// The result still matches every wrapped sentinel with errors.Is.
func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}

	var msgs []string
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return &validationError{msg: "validation failed:\n  - " + strings.Join(msgs, "\n  - "), errs: errs}
}

type validationError struct {
	msg  string
	errs []error
}

func (e *validationError) Error() string   { return e.msg }
func (e *validationError) Unwrap() []error { return e.errs }
