package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Loader provides configuration loading capabilities.
type Loader interface {
	// Load loads configuration from file and environment variables.
	// Priority: defaults → config file → environment variables (env wins)
	Load() (*Config, error)
}

type loader struct {
	rootDir    string
	configFile string
}

// NewLoader creates a new configuration loader for the given root directory.
func NewLoader(rootDir string) Loader {
	return &loader{
		rootDir: rootDir,
	}
}

// NewFileLoader creates a loader that reads configFile instead of searching
// rootDir/.lattice. The file must exist.
func NewFileLoader(rootDir, configFile string) Loader {
	return &loader{
		rootDir:    rootDir,
		configFile: configFile,
	}
}

// Load loads configuration with the following priority (highest to lowest):
// 1. Environment variables (LATTICE_*)
// 2. Config file (.lattice/config.yml or .lattice/config.yaml)
// 3. Default values
func (l *loader) Load() (*Config, error) {
	v := viper.New()

	if l.configFile != "" {
		v.SetConfigFile(l.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(filepath.Join(l.rootDir, ".lattice"))
	}

	// LATTICE_WATCHER_DEBOUNCE -> watcher.debounce
	v.SetEnvPrefix("LATTICE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file leaves defaults + env vars
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	for _, key := range []string{
		"repository.id",
		"repository.name",
		"repository.max_file_size",
		"repository.follow_symlinks",
		"indexing.workers",
		"indexing.continue_on_error",
		"indexing.linking",
		"indexing.stale_after",
		"watcher.enabled",
		"watcher.debounce",
		"watcher.queue_size",
		"parser.parse_timeout",
		"parser.max_depth",
		"parser.pool_size",
		"parser.tree_cache_size",
		"storage.backend",
		"storage.path",
		"content.enabled",
		"content.comments",
		"content.chunk_tokens",
	} {
		_ = v.BindEnv(key)
	}
}

// setDefaults configures viper with default values.
func setDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("repository.id", defaults.Repository.ID)
	v.SetDefault("repository.name", defaults.Repository.Name)
	v.SetDefault("repository.description", defaults.Repository.Description)
	v.SetDefault("repository.exclude", defaults.Repository.Exclude)
	v.SetDefault("repository.max_file_size", defaults.Repository.MaxFileSize)
	v.SetDefault("repository.follow_symlinks", defaults.Repository.FollowSymlinks)

	v.SetDefault("indexing.workers", defaults.Indexing.Workers)
	v.SetDefault("indexing.continue_on_error", defaults.Indexing.ContinueOnError)
	v.SetDefault("indexing.linking", defaults.Indexing.Linking)
	v.SetDefault("indexing.stale_after", defaults.Indexing.StaleAfter)

	v.SetDefault("watcher.enabled", defaults.Watcher.Enabled)
	v.SetDefault("watcher.debounce", defaults.Watcher.Debounce)
	v.SetDefault("watcher.queue_size", defaults.Watcher.QueueSize)

	v.SetDefault("parser.parse_timeout", defaults.Parser.ParseTimeout)
	v.SetDefault("parser.max_depth", defaults.Parser.MaxDepth)
	v.SetDefault("parser.pool_size", defaults.Parser.PoolSize)
	v.SetDefault("parser.tree_cache_size", defaults.Parser.TreeCacheSize)

	v.SetDefault("storage.backend", defaults.Storage.Backend)
	v.SetDefault("storage.path", defaults.Storage.Path)

	v.SetDefault("content.enabled", defaults.Content.Enabled)
	v.SetDefault("content.comments", defaults.Content.Comments)
	v.SetDefault("content.chunk_tokens", defaults.Content.ChunkTokens)
}

// LoadConfig is a convenience function that creates a loader and loads config.
// It uses the current working directory as the root.
func LoadConfig() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewLoader(wd).Load()
}

// LoadConfigFromDir loads configuration from a specific directory.
func LoadConfigFromDir(rootDir string) (*Config, error) {
	return NewLoader(rootDir).Load()
}
