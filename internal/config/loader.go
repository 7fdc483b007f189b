package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".codewright"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path of the config file, honoring
// CODEWRIGHT_CONFIG and CODEWRIGHT_HOME overrides.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("CODEWRIGHT_CONFIG")); explicit != "" {
		return expandHome(explicit)
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

func homeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("CODEWRIGHT_HOME")); h != "" {
		return expandHome(h)
	}
	return os.UserHomeDir()
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		base, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(base, path[1:]), nil
	}
	return path, nil
}

// Load reads the config file (if present), applies CODEWRIGHT_* environment
// overrides and fills in defaults.
func Load() (*Config, error) {
	cfg := Defaults()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// No file is fine; defaults plus environment apply.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if err := envconfig.Process("CODEWRIGHT", cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	if cfg.Paths.Project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.Paths.Project = cwd
	}
	abs, err := filepath.Abs(cfg.Paths.Project)
	if err != nil {
		return nil, fmt.Errorf("resolve project path: %w", err)
	}
	cfg.Paths.Project = abs

	home, err := homeDir()
	if err != nil {
		return nil, err
	}
	if cfg.Paths.GrantsFile == "" {
		cfg.Paths.GrantsFile = filepath.Join(home, ConfigDir, "grants.json")
	}
	if cfg.Paths.AuditDB == "" {
		cfg.Paths.AuditDB = filepath.Join(home, ConfigDir, "audit.db")
	}
	return cfg, nil
}

// Save writes the config file, creating its directory if needed.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, append(encoded, '\n'), 0o600)
}
