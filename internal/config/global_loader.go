package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadGlobalConfig loads global configuration from ~/.lattice/config.yml.
// Returns default values if file doesn't exist (not an error).
// Environment variables override file values (LATTICE_* prefix).
func LoadGlobalConfig() (*GlobalConfig, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}
	latticeDir := filepath.Join(home, ".lattice")

	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(latticeDir)

	v.SetEnvPrefix("LATTICE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// LATTICE_STORAGE_BASE_DIR
	_ = v.BindEnv("storage.base_dir")

	v.SetDefault("storage.base_dir", filepath.Join(latticeDir, "graphs"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &GlobalConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	for i, r := range cfg.Repositories {
		if r.Root == "" {
			return nil, fmt.Errorf("repositories[%d]: root is required", i)
		}
		cfg.Repositories[i].Root = expandHome(r.Root, home)
	}
	cfg.Storage.BaseDir = expandHome(cfg.Storage.BaseDir, home)

	return cfg, nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if rest, ok := strings.CutPrefix(path, "~/"); ok {
		return filepath.Join(home, rest)
	}
	return path
}
