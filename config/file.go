package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

func errMissing(field string) error {
	return fmt.Errorf("config: %s required", field)
}

// LoadFile reads a YAML configuration document layered on top of FromEnv defaults.
// A missing file is not an error; the env-derived configuration is returned as-is.
func LoadFile(path string) (Settings, bool, error) {
	cfg := FromEnv()

	path = strings.TrimSpace(path)
	if path == "" {
		path = os.Getenv("STRATWATCH_CONFIG")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "config/stratwatch.yaml"
	}

	bytes, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- configuration paths are controlled by operators.
	if err != nil {
		if os.IsNotExist(err) {
			cfg.Normalise()
			if verr := cfg.Validate(); verr != nil {
				return Settings{}, false, verr
			}
			return cfg, false, nil
		}
		return Settings{}, false, fmt.Errorf("open config: %w", err)
	}

	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return Settings{}, false, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Normalise()
	if err := cfg.Validate(); err != nil {
		return Settings{}, false, err
	}
	return cfg, true, nil
}
