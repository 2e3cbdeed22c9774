package main

import (
	"fmt"
	"os"
	"time"

	"github.com/kanavdutta/fastlimit/pkg/fastlimit"
	"gopkg.in/yaml.v3"
)

// serverConfig is the configuration of the admission service. Flags (with
// environment defaults) fill it first; a config file then overrides every
// key it sets.
//
// Example file:
//
//	listen: ":8080"
//	log_level: debug
//	metrics_namespaces: 10000
//	limiter:
//	  threshold: 100
//	  ttl: 60
//	redis:
//	  addr: localhost:6379
//	  publish_interval: 5s
type serverConfig struct {
	Listen   string           `yaml:"listen"`
	LogLevel string           `yaml:"log_level"`
	Shards   int              `yaml:"shards"`
	Limiter  fastlimit.Config `yaml:"limiter"`
	Redis    redisConfig      `yaml:"redis"`

	// MetricsNamespaces caps the namespaces that keep per-namespace stats
	MetricsNamespaces int `yaml:"metrics_namespaces"`
}

type redisConfig struct {
	Addr            string        `yaml:"addr"`
	Password        string        `yaml:"password"`
	DB              int           `yaml:"db"`
	Key             string        `yaml:"key"`
	Channel         string        `yaml:"channel"`
	PublishInterval time.Duration `yaml:"publish_interval"`
}

func loadServerConfig(path string, cfg *serverConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse config: %v", fastlimit.ErrInvalidConfig, err)
	}
	if err := cfg.validate(); err != nil {
		return err
	}
	return nil
}

func (c *serverConfig) validate() error {
	if c.Listen == "" {
		return fmt.Errorf("%w: listen address is required", fastlimit.ErrInvalidConfig)
	}
	if c.Shards <= 0 {
		return fmt.Errorf("%w: shards must be positive", fastlimit.ErrInvalidConfig)
	}
	if c.MetricsNamespaces <= 0 {
		return fmt.Errorf("%w: metrics_namespaces must be positive", fastlimit.ErrInvalidConfig)
	}
	if c.Redis.Addr != "" && c.Redis.PublishInterval <= 0 {
		return fmt.Errorf("%w: redis publish_interval must be positive", fastlimit.ErrInvalidConfig)
	}
	return c.Limiter.Validate()
}
