// Package config loads and validates dataset pipeline configurations.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/tidemark/pkg/types"
)

// Load reads a dataset config from a YAML file.
func Load(path string) (types.DatasetConfig, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return types.DatasetConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(body)
	if err != nil {
		return types.DatasetConfig{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a dataset config.
func Parse(body []byte) (types.DatasetConfig, error) {
	var cfg types.DatasetConfig
	if err := yaml.Unmarshal(body, &cfg); err != nil {
		return types.DatasetConfig{}, fmt.Errorf("decoding config: %w", err)
	}
	ApplyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return types.DatasetConfig{}, err
	}
	return cfg, nil
}

// ApplyDefaults fills in the plugin tags so minimal configs work out of the box.
func ApplyDefaults(cfg *types.DatasetConfig) {
	if cfg.Parse.Plugin == "" {
		cfg.Parse.Plugin = "generic_csv"
	}
	if cfg.Normalize.Plugin == "" {
		cfg.Normalize.Plugin = "generic"
	}
}

// Validate rejects configs the pipeline cannot safely run with.
func Validate(cfg types.DatasetConfig) error {
	if cfg.DatasetID == "" {
		return fmt.Errorf("datasetId is required")
	}
	if cfg.Frequency == "" {
		return fmt.Errorf("dataset %s: frequency is required", cfg.DatasetID)
	}
	if len(cfg.Normalize.PrimaryKeys) == 0 {
		return fmt.Errorf("dataset %s: normalize.primaryKeys must not be empty", cfg.DatasetID)
	}
	switch cfg.Source.Kind {
	case "http", "local":
		if cfg.Source.URL == "" {
			return fmt.Errorf("dataset %s: source.url is required for %s sources", cfg.DatasetID, cfg.Source.Kind)
		}
	case "":
		return fmt.Errorf("dataset %s: source.kind is required", cfg.DatasetID)
	default:
		return fmt.Errorf("dataset %s: unknown source.kind %q", cfg.DatasetID, cfg.Source.Kind)
	}
	if cfg.LagDays < 0 {
		return fmt.Errorf("dataset %s: lagDays must not be negative", cfg.DatasetID)
	}
	if tz := cfg.Normalize.Timezone; tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("dataset %s: invalid timezone %q: %w", cfg.DatasetID, tz, err)
		}
	}
	return nil
}
