// Package config holds the settings of a hosted kernel instance, read from
// REDSHIRT_* environment variables.
package config

import (
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

const Prefix = "redshirt"

type Config struct {
	// Largest memory a single image may declare.
	MaxProcessMemory uint64 `envconfig:"MAX_PROCESS_MEMORY" default:"67108864"`

	// Memory the allocator hands out in total, process memory and queued
	// payloads included.
	TotalMemory uint64 `envconfig:"TOTAL_MEMORY" default:"1073741824"`

	LoaderCacheSize int `envconfig:"LOADER_CACHE_SIZE" default:"100"`
	ResolvedHistory int `envconfig:"RESOLVED_HISTORY" default:"4096"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Address to serve metrics on; empty disables the endpoint.
	MetricsAddr string `envconfig:"METRICS_ADDR"`

	// Boot manifest to load when none is given on the command line.
	Manifest string `envconfig:"MANIFEST"`
}

func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func Default() *Config {
	return &Config{
		MaxProcessMemory: 64 << 20,
		TotalMemory:      1 << 30,
		LoaderCacheSize:  100,
		ResolvedHistory:  4096,
		LogLevel:         "info",
	}
}

func (c *Config) Validate() error {
	switch {
	case c.TotalMemory == 0:
		return errors.New("total memory must be positive")
	case c.MaxProcessMemory == 0:
		return errors.New("process memory limit must be positive")
	case c.MaxProcessMemory > c.TotalMemory:
		return errors.Errorf("process memory limit %d exceeds total memory %d", c.MaxProcessMemory, c.TotalMemory)
	case c.LoaderCacheSize <= 0:
		return errors.New("loader cache size must be positive")
	case c.ResolvedHistory <= 0:
		return errors.New("resolved history must be positive")
	}

	return nil
}
