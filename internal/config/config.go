// Package config provides unified configuration for the stash server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"stash/internal/stash"
)

// Config holds the configuration for the stash server.
type Config struct {
	// Listen is the address the S3 API listens on
	Listen string `json:"listen" yaml:"listen"`

	// AdminListen is the address for metrics and health endpoints.
	// Empty disables the admin listener.
	AdminListen string `json:"admin_listen" yaml:"admin_listen"`

	// DataDir is the root directory holding bucket directories
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// ShardDepth is the number of hash-derived directory levels
	// inserted between a bucket and its objects
	ShardDepth int `json:"shard_depth" yaml:"shard_depth"`

	// Region is the region reported by the bucket location API
	Region string `json:"region" yaml:"region"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Listen:      ":9000",
		AdminListen: "",
		DataDir:     "./data/stash",
		ShardDepth:  0,
		Region:      "us-east-1",
	}
}

// Resolve resolves relative paths and sets defaults.
func (c *Config) Resolve() error {
	if c.DataDir == "" {
		c.DataDir = "./data/stash"
	}
	abs, err := filepath.Abs(c.DataDir)
	if err != nil {
		return fmt.Errorf("failed to resolve data dir: %w", err)
	}
	c.DataDir = abs

	if c.Region == "" {
		c.Region = "us-east-1"
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.ShardDepth < 0 || c.ShardDepth > stash.MaxShardDepth {
		return fmt.Errorf("shard_depth must be between 0 and %d, got %d", stash.MaxShardDepth, c.ShardDepth)
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the STASH_ prefix.
func LoadFromEnv(cfg *Config) error {
	if v := os.Getenv("STASH_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("STASH_ADMIN_LISTEN"); v != "" {
		cfg.AdminListen = v
	}
	if v := os.Getenv("STASH_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("STASH_SHARD_DEPTH"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("failed to parse STASH_SHARD_DEPTH: %w", err)
		}
		cfg.ShardDepth = depth
	}
	if v := os.Getenv("STASH_REGION"); v != "" {
		cfg.Region = v
	}
	return nil
}
