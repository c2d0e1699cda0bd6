package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// EnvConfigPath overrides the config file location.
	EnvConfigPath = "XBDM_LOADER_CONFIG"

	defaultDir  = ".xbdm-loader"
	defaultFile = "config.yaml"
)

// Loader handles loading and saving the configuration file.
type Loader struct {
	path string
}

// NewLoader creates a config loader. The file is resolved in this order:
//  1. path, when not empty (the --config flag).
//  2. XBDM_LOADER_CONFIG environment variable.
//  3. ~/.xbdm-loader/config.yaml.
//  4. /tmp/xbdm-loader/config.yaml when there is no home directory.
func NewLoader(path string) *Loader {
	if path != "" {
		return &Loader{path: path}
	}
	if env := os.Getenv(EnvConfigPath); env != "" {
		return &Loader{path: env}
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.TempDir()
	}
	return &Loader{path: filepath.Join(homeDir, defaultDir, defaultFile)}
}

// Path returns the config file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the config file over the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func (l *Loader) Load() (*Config, error) {
	config := Default()

	data, err := os.ReadFile(l.path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", l.path, err)
		}
	}

	// Apply environment variable overrides (layered configuration).
	if err := MergeFromEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", l.path, err)
	}
	return config, nil
}

// Save writes config to the config file.
func (l *Loader) Save(config *Config) error {
	//nolint:gosec // G301: Directory needs standard permissions for traversal
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	//nolint:gosec // G306: Config file is not sensitive
	if err := os.WriteFile(l.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
