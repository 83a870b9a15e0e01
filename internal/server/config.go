package server

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config controls the HTTP server. Values come from the environment,
// optionally overridden by a YAML file.
type Config struct {
	Addr              string        `env:"DBSYNC_ADDR"                envDefault:":8080"`
	ReadHeaderTimeout time.Duration `env:"DBSYNC_READ_HEADER_TIMEOUT" envDefault:"5s"`
	ShutdownTimeout   time.Duration `env:"DBSYNC_SHUTDOWN_TIMEOUT"    envDefault:"10s"`
}

// LoadConfig returns server configuration from the environment.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return cfg, nil
}

// fileConfig mirrors Config with durations as strings, which is what
// YAML carries.
type fileConfig struct {
	Addr              string `yaml:"addr"`
	ReadHeaderTimeout string `yaml:"read_header_timeout"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
}

// LoadConfigFile layers a YAML file over the environment configuration.
// Fields absent from the file keep their environment values.
func LoadConfigFile(path string) (Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.Addr != "" {
		cfg.Addr = fc.Addr
	}
	if fc.ReadHeaderTimeout != "" {
		d, err := time.ParseDuration(fc.ReadHeaderTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse read_header_timeout: %w", err)
		}
		cfg.ReadHeaderTimeout = d
	}
	if fc.ShutdownTimeout != "" {
		d, err := time.ParseDuration(fc.ShutdownTimeout)
		if err != nil {
			return Config{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}
