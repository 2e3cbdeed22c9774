package fastlimit

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/kanavdutta/fastlimit/core"
	"gopkg.in/yaml.v3"
)

// maxTTLSeconds is the largest ttl that still fits in a time.Duration
const maxTTLSeconds = float64(math.MaxInt64) / float64(time.Second)

// Config holds the limiter configuration.
// Both fields are required; a nil field means the option was not given.
type Config struct {
	// Threshold is the number of permits granted per window
	Threshold *int64 `yaml:"threshold"`

	// TTL is the window length in seconds (fractions allowed, e.g. 0.5)
	TTL *float64 `yaml:"ttl"`

	// exactTTL is set when the window was given as a time.Duration. It is
	// used while TTL still holds the matching number of seconds.
	exactTTL *time.Duration
}

// NewConfig creates a Config with both options set.
func NewConfig(threshold int64, ttl time.Duration) *Config {
	c := &Config{Threshold: &threshold}
	c.setTTL(ttl)
	return c
}

// LoadConfigFromFile loads configuration from a YAML file.
//
// Example file:
//
//	threshold: 100
//	ttl: 60
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses and validates a YAML document.
func ParseConfig(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Threshold == nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrMissingThreshold)
	}
	if *c.Threshold < 0 {
		return fmt.Errorf("%w: %w (got %d)", ErrInvalidConfig, ErrInvalidThreshold, *c.Threshold)
	}

	if c.TTL == nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, ErrMissingTTL)
	}
	if exact, ok := c.exact(); ok {
		if exact < 0 {
			return fmt.Errorf("%w: %w (got %s)", ErrInvalidConfig, ErrInvalidTTL, exact)
		}
		return nil
	}
	ttl := *c.TTL
	// maxTTLSeconds itself rounds up to 2^63 ns and overflows
	if math.IsNaN(ttl) || math.IsInf(ttl, 0) || ttl < 0 || ttl >= maxTTLSeconds {
		return fmt.Errorf("%w: %w (got %v)", ErrInvalidConfig, ErrInvalidTTL, ttl)
	}

	return nil
}

// Policy converts a validated Config into the policy used by the limiter.
func (c *Config) Policy() core.Policy {
	ttl := secondsToDuration(*c.TTL)
	if exact, ok := c.exact(); ok {
		ttl = exact
	}
	return core.Policy{
		Threshold: *c.Threshold,
		TTL:       ttl,
	}
}

// setTTL records an exact window length along with its value in seconds.
func (c *Config) setTTL(ttl time.Duration) {
	secs := ttl.Seconds()
	c.TTL = &secs
	c.exactTTL = &ttl
}

func (c *Config) exact() (time.Duration, bool) {
	if c.exactTTL == nil || c.TTL == nil || *c.TTL != c.exactTTL.Seconds() {
		return 0, false
	}
	return *c.exactTTL, true
}

// setTTLSeconds records a window length given in seconds.
func (c *Config) setTTLSeconds(secs float64) {
	c.TTL = &secs
	c.exactTTL = nil
}

// secondsToDuration saturates at the largest Duration instead of overflowing.
func secondsToDuration(secs float64) time.Duration {
	ns := secs * float64(time.Second)
	if ns >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}
