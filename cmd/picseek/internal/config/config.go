// Package config loads picseek service configuration from an optional
// YAML file overridden by PICSEEK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full service configuration.
//
// Precedence: defaults < YAML file < environment. Nested env variable
// names join the section and field, e.g. PICSEEK_STORAGE_BACKEND,
// PICSEEK_QDRANT_URL, PICSEEK_EMBEDDER_KIND.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// APIKey, when set, is required in the Image-Search-Api-Key header of
	// every request.
	APIKey string `yaml:"api_key" envconfig:"API_KEY"`

	// CacheDir enables the on-disk embedding cache when non-empty.
	CacheDir string `yaml:"cache_dir" envconfig:"CACHE_DIR"`

	Storage  Storage  `yaml:"storage"`
	Qdrant   Qdrant   `yaml:"qdrant"`
	Embedder Embedder `yaml:"embedder"`
}

// Storage selects and configures the image blob backend.
type Storage struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`

	// Dir is the root directory of the local backend.
	Dir string `yaml:"dir"`

	// S3 backend settings. Endpoint is optional and enables
	// S3-compatible stores (MinIO, R2).
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key" envconfig:"ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" envconfig:"SECRET_KEY"`
}

// Qdrant configures the vector index connection.
type Qdrant struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key" envconfig:"API_KEY"`
	Collection string `yaml:"collection"`
}

// Embedder selects and configures the embedding backend.
type Embedder struct {
	// Kind is "grid" (built-in, deterministic) or "remote" (an
	// OpenAI-compatible embeddings server).
	Kind string `yaml:"kind"`

	// Remote backend settings.
	BaseURL   string `yaml:"base_url" envconfig:"BASE_URL"`
	APIKey    string `yaml:"api_key" envconfig:"API_KEY"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// Load reads the YAML file at path (skipped when path is empty), applies
// PICSEEK_* environment overrides, fills defaults, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := envconfig.Process("PICSEEK", cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "local"
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "./data/images"
	}
	if c.Embedder.Kind == "" {
		c.Embedder.Kind = "grid"
	}
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return errors.New("config: storage.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q (want local or s3)", c.Storage.Backend)
	}

	switch c.Embedder.Kind {
	case "grid", "remote":
	default:
		return fmt.Errorf("config: unknown embedder kind %q (want grid or remote)", c.Embedder.Kind)
	}
	return nil
}
