package config

import (
	"time"

	"github.com/mvp-joe/lattice/internal/parser"
	"github.com/mvp-joe/lattice/internal/repository"
	"github.com/mvp-joe/lattice/internal/search"
	"github.com/mvp-joe/lattice/internal/storage"
	"github.com/mvp-joe/lattice/internal/watcher"
)

// Config represents the complete lattice project configuration.
// It can be loaded from .lattice/config.yml with environment variable overrides.
type Config struct {
	Repository RepositoryConfig `yaml:"repository" mapstructure:"repository"`
	Indexing   IndexingConfig   `yaml:"indexing" mapstructure:"indexing"`
	Watcher    WatcherConfig    `yaml:"watcher" mapstructure:"watcher"`
	Parser     ParserConfig     `yaml:"parser" mapstructure:"parser"`
	Storage    StorageConfig    `yaml:"storage" mapstructure:"storage"`
	Content    ContentConfig    `yaml:"content" mapstructure:"content"`
}

// RepositoryConfig identifies the project and bounds what gets scanned.
type RepositoryConfig struct {
	ID             string   `yaml:"id" mapstructure:"id"`                           // defaults to the root directory name
	Name           string   `yaml:"name" mapstructure:"name"`                       // display name
	Description    string   `yaml:"description" mapstructure:"description"`         // free text
	Exclude        []string `yaml:"exclude" mapstructure:"exclude"`                 // gitignore-style patterns
	MaxFileSize    int64    `yaml:"max_file_size" mapstructure:"max_file_size"`     // bytes, 0 disables the limit
	FollowSymlinks bool     `yaml:"follow_symlinks" mapstructure:"follow_symlinks"` // descend into symlinked directories
}

// IndexingConfig controls cold-start indexing.
type IndexingConfig struct {
	Workers         int           `yaml:"workers" mapstructure:"workers"`                     // 0 means one per CPU
	ContinueOnError bool          `yaml:"continue_on_error" mapstructure:"continue_on_error"` // record file failures instead of aborting
	Linking         bool          `yaml:"linking" mapstructure:"linking"`                     // resolve cross-file references
	StaleAfter      time.Duration `yaml:"stale_after" mapstructure:"stale_after"`             // health check freshness window
}

// WatcherConfig controls warm updates.
type WatcherConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Debounce  time.Duration `yaml:"debounce" mapstructure:"debounce"`
	QueueSize int           `yaml:"queue_size" mapstructure:"queue_size"`
}

// ParserConfig tunes the parser engine.
type ParserConfig struct {
	ParseTimeout  time.Duration `yaml:"parse_timeout" mapstructure:"parse_timeout"`
	MaxDepth      int           `yaml:"max_depth" mapstructure:"max_depth"`
	PoolSize      int           `yaml:"pool_size" mapstructure:"pool_size"`             // idle parsers kept per language
	TreeCacheSize int           `yaml:"tree_cache_size" mapstructure:"tree_cache_size"` // trees retained per repository
}

// StorageConfig selects where graph snapshots are persisted.
type StorageConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"` // "json" or "sqlite"
	Path    string `yaml:"path" mapstructure:"path"`       // override the global base_dir
}

// ContentConfig controls the documentation, configuration and comment index.
type ContentConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	Comments    bool `yaml:"comments" mapstructure:"comments"`         // index source comments too
	ChunkTokens int  `yaml:"chunk_tokens" mapstructure:"chunk_tokens"` // approximate chunk size, 0 means the default
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Repository: RepositoryConfig{
			MaxFileSize: repository.DefaultMaxFileSize,
		},
		Indexing: IndexingConfig{
			Workers:         0,
			ContinueOnError: true,
			Linking:         true,
			StaleAfter:      repository.DefaultStaleAfter,
		},
		Watcher: WatcherConfig{
			Enabled:   true,
			Debounce:  watcher.DefaultDebounceWindow,
			QueueSize: watcher.DefaultQueueSize,
		},
		Parser: ParserConfig{
			ParseTimeout:  parser.DefaultParseTimeout,
			MaxDepth:      parser.DefaultMaxDepth,
			PoolSize:      4,
			TreeCacheSize: parser.DefaultTreeCacheSize,
		},
		Storage: StorageConfig{
			Backend: storage.BackendJSON,
		},
		Content: ContentConfig{
			Enabled:     true,
			Comments:    true,
			ChunkTokens: search.DefaultChunkTokens,
		},
	}
}
