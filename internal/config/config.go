// Package config handles application configuration from defaults, an
// optional YAML file and environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// FileEnv names the variable pointing at an optional YAML config file
const FileEnv = "CATALOG_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Remote   RemoteConfig `yaml:"remote"`
	Cache    CacheConfig  `yaml:"cache"`
	Port     string       `yaml:"port" env:"PORT"`
	LogLevel string       `yaml:"log_level" env:"LOG_LEVEL"`
}

// RemoteConfig describes the REST service being cached
type RemoteConfig struct {
	BaseURL    string        `yaml:"base_url" env:"CATALOG_BASE_URL"`
	Collection string        `yaml:"collection" env:"CATALOG_COLLECTION"`
	CreatePath *string       `yaml:"create_path" env:"CATALOG_CREATE_PATH"`
	Timeout    time.Duration `yaml:"timeout" env:"CATALOG_TIMEOUT"`
}

// CacheConfig holds the freshness and retention windows
type CacheConfig struct {
	StaleTime time.Duration `yaml:"stale_time" env:"CATALOG_STALE_TIME"`
	GCTime    time.Duration `yaml:"gc_time" env:"CATALOG_GC_TIME"`
}

// Default returns the configuration used when nothing is set
func Default() Config {
	createPath := "add"
	return Config{
		Remote: RemoteConfig{
			BaseURL:    "https://dummyjson.com",
			Collection: "products",
			CreatePath: &createPath,
			Timeout:    10 * time.Second,
		},
		Cache: CacheConfig{
			StaleTime: 5 * time.Minute,
			GCTime:    10 * time.Minute,
		},
		Port:     "8080",
		LogLevel: "info",
	}
}

// Load builds the configuration. Environment variables win over the file,
// which wins over the defaults. A .env file in the working directory is
// read first if present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "read config file %s", path)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return errors.Wrapf(err, "parse config file %s", path)
	}
	return nil
}

// CreatePathOrDefault returns the create path, which may legitimately be
// empty
func (c Config) CreatePathOrDefault() string {
	if c.Remote.CreatePath == nil {
		return "add"
	}
	return *c.Remote.CreatePath
}

// Validate rejects settings the client cannot run with
func (c Config) Validate() error {
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid CATALOG_BASE_URL %q: must be an absolute URL", c.Remote.BaseURL)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("CATALOG_TIMEOUT must be positive, got %s", c.Remote.Timeout)
	}
	if c.Cache.StaleTime < 0 {
		return fmt.Errorf("CATALOG_STALE_TIME must not be negative, got %s", c.Cache.StaleTime)
	}
	if c.Cache.GCTime < 0 {
		return fmt.Errorf("CATALOG_GC_TIME must not be negative, got %s", c.Cache.GCTime)
	}
	return nil
}
