package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default returns the built-in parameter defaults, matching the documented
// pipeline behavior.
func Default() Config {
	return Config{
		Vox:         1.5,
		FAThresh:    0.20,
		DOF:         12,
		FracInt:     0.5,
		StreamLines: 100000,
		Cutoff:      0.07,
		LogFile:     "file.log",
	}
}

// Load reads a pipeline configuration from the given YAML file path, layered
// over the built-in defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config YAML: %w", err)
	}
	return cfg, nil
}

// LoadDefault searches standard locations for a config file and loads the
// first one found. When none exists, the built-in defaults are returned.
// Search order: ./tckfactory.yaml, ~/.tckfactory/config.yaml
func LoadDefault() (Config, error) {
	candidates := []string{"tckfactory.yaml"}

	home, err := os.UserHomeDir()
	if err == nil {
		candidates = append(candidates, filepath.Join(home, ".tckfactory", "config.yaml"))
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}

	return Default(), nil
}
