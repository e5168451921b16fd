// Package config loads the daemon's on-disk YAML configuration: a
// default-path search, then a yaml.v3 decode-then-validate pass.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var defaultConfigPaths = []string{
	"./agent.yaml",
	"/etc/hostexec/agent.yaml",
}

// Config is the daemon's full runtime configuration.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	LogDir   string `yaml:"log_dir"`
	LogLevel int    `yaml:"log_level"`

	QueueCapacity int `yaml:"queue_capacity"`

	StatusLogInterval time.Duration `yaml:"status_log_interval"`
}

// Load reads and validates the config at path, or the first default path
// that exists if path is empty.
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		for _, p := range defaultConfigPaths {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
	}
	if configPath == "" {
		return nil, fmt.Errorf("config: no config file found in default paths")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", configPath, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8443"
	}
	if c.LogDir == "" {
		c.LogDir = "/var/log/hostexec-agent"
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 64
	}
	if c.StatusLogInterval == 0 {
		c.StatusLogInterval = 60 * time.Second
	}
}

// Validate checks the structural invariants a Config must satisfy before the
// daemon starts.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr is required")
	}
	if c.LogLevel < 0 || c.LogLevel > 7 {
		return fmt.Errorf("config: log_level must be in [0,7], got %d", c.LogLevel)
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: queue_capacity must be > 0")
	}
	return nil
}
