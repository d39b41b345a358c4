package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/poseworks/posepool"
	"github.com/poseworks/posepool/model"
)

// daemonConfig is the posepoold YAML configuration.
type daemonConfig struct {
	// Listen is the HTTP bind address.
	Listen string `yaml:"listen,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"logLevel,omitempty"`

	// Pool configures the worker pool.
	Pool posepool.Config `yaml:"pool"`

	// Model, when set, is loaded on every worker right after the pool
	// initializes so the daemon starts ready to serve predictions.
	Model *modelConfig `yaml:"model,omitempty"`
}

type modelConfig struct {
	Type   string        `yaml:"type"`
	Config *model.Config `yaml:"config,omitempty"`
}

func loadConfig(path string) (*daemonConfig, error) {
	cfg := &daemonConfig{Pool: posepool.DefaultConfig()}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// Environment wins over file for deployment-level settings.
	if v := os.Getenv("POSEPOOLD_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if len(cfg.Pool.WorkerCommand) == 0 {
		cfg.Pool.WorkerCommand = []string{"poseworker"}
	}
	return cfg, nil
}
