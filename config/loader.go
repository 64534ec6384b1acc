package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadThresholdsFile overlays threshold values from a YAML file onto dst.
// Keys absent from the file keep their current (env or default) values.
func LoadThresholdsFile(path string, dst *Thresholds) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to get absolute path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return fmt.Errorf("failed to read thresholds file: %w", err)
	}

	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to parse thresholds file: %w", err)
	}
	return nil
}
