// Package config provides configuration loading for lattice.
//
// It supports two distinct configuration scopes:
//
// 1. Global Configuration (~/.lattice/config.yml)
//   - Machine-wide settings shared by every project
//   - Snapshot base directory
//   - Repositories served together by `lattice mcp`
//   - Loaded via LoadGlobalConfig()
//
// 2. Project Configuration (.lattice/config.yml)
//   - Repository identity and exclude patterns
//   - Indexing, watcher and parser tuning
//   - Storage backend
//   - Loaded via Load()
//
// Environment Variable Convention:
//   - Prefix: LATTICE_
//   - Nested fields: Use underscores (LATTICE_WATCHER_QUEUE_SIZE)
//   - Automatic mapping via Viper's SetEnvKeyReplacer
//
// Example usage:
//
//	cfg, err := config.LoadConfigFromDir(root)
//	if err != nil {
//	    return err
//	}
//	global, err := config.LoadGlobalConfig()
//	if err != nil {
//	    return err
//	}
//	backend, err := cfg.OpenStorage(root, global)
package config

// GlobalConfig holds machine-wide configuration.
// Loaded from ~/.lattice/config.yml (not project .lattice/config.yml).
type GlobalConfig struct {
	Storage      GlobalStorageConfig `yaml:"storage" mapstructure:"storage"`
	Repositories []RepositoryEntry   `yaml:"repositories" mapstructure:"repositories"`
}

// GlobalStorageConfig holds the shared snapshot location.
type GlobalStorageConfig struct {
	BaseDir string `yaml:"base_dir" mapstructure:"base_dir"` // default ~/.lattice/graphs
}

// RepositoryEntry names a repository root to load alongside the current one.
type RepositoryEntry struct {
	ID   string `yaml:"id" mapstructure:"id"`
	Root string `yaml:"root" mapstructure:"root"`
}
