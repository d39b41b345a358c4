package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/poseworks/posepool/runtime"
)

// workerConfig is the poseworker YAML configuration.
type workerConfig struct {
	// Codec names the wire codec; must match the pool side.
	Codec string `yaml:"codec,omitempty"`

	// CacheDir is where fetched artifacts are materialized. Defaults to
	// the user cache directory.
	CacheDir string `yaml:"cacheDir,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`

	// Redis optionally adds a shared artifact cache tier between the
	// local disk and the network.
	Redis redisConfig `yaml:"redis,omitempty"`

	// Sources are the dependency sources tried in order.
	Sources []runtime.Source `yaml:"sources"`
}

type redisConfig struct {
	Addr     string        `yaml:"addr,omitempty"`
	Password string        `yaml:"password,omitempty"`
	DB       int           `yaml:"db,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
}

func loadConfig(path string) (*workerConfig, error) {
	cfg := &workerConfig{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if cfg.CacheDir == "" {
		base, err := os.UserCacheDir()
		if err != nil {
			base = os.TempDir()
		}
		cfg.CacheDir = filepath.Join(base, "posepool")
	}
	if len(cfg.Sources) == 0 {
		// With no sources configured, try the platform-default runtime
		// library and models alongside the cache.
		cfg.Sources = []runtime.Source{{
			Name:         "default",
			ModelBaseURL: filepath.Join(cfg.CacheDir, "models"),
		}}
	}
	return cfg, nil
}
