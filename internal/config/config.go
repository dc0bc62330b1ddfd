package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cippm/cip/internal/server"
	"gopkg.in/yaml.v3"
)

// Config is the cipd server configuration.
type Config struct {
	Server server.Config `yaml:"server"`
	HTTP   HTTP          `yaml:"http"`
	Log    Log           `yaml:"log"`
}

// HTTP configures the read-only browse API. An empty address disables
// it.
type HTTP struct {
	Addr string `yaml:"addr"`
}

type Log struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Filename   string `yaml:"filename"`    // log file path; empty logs to stdout only
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of backups
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // compress rotated files
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: server.Config{
			Addr:          ":7399",
			ReadTimeout:   5 * time.Minute,
			WriteTimeout:  time.Minute,
			SweepInterval: 100 * time.Millisecond,
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the configuration from path, applied over the defaults.
// An empty path yields the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}
