package fastlimit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kanavdutta/fastlimit/store"
)

// Option is a functional option for configuring a Limiter.
type Option func(*Limiter) error

// WithThreshold sets the number of permits granted per window.
func WithThreshold(threshold int64) Option {
	return func(l *Limiter) error {
		l.config.Threshold = &threshold
		return nil
	}
}

// WithTTL sets the window length.
func WithTTL(ttl time.Duration) Option {
	return func(l *Limiter) error {
		l.config.setTTL(ttl)
		return nil
	}
}

// WithTTLSeconds sets the window length in seconds.
func WithTTLSeconds(secs float64) Option {
	return func(l *Limiter) error {
		l.config.setTTLSeconds(secs)
		return nil
	}
}

// WithConfig sets threshold and ttl from a Config.
// Fields left nil in config keep whatever earlier options set.
func WithConfig(config *Config) Option {
	return func(l *Limiter) error {
		if config == nil {
			return fmt.Errorf("%w: config cannot be nil", ErrInvalidConfig)
		}
		if config.Threshold != nil {
			threshold := *config.Threshold
			l.config.Threshold = &threshold
		}
		if exact, ok := config.exact(); ok {
			l.config.setTTL(exact)
		} else if config.TTL != nil {
			l.config.setTTLSeconds(*config.TTL)
		}
		return nil
	}
}

// WithConfigFile loads configuration from a YAML file.
func WithConfigFile(path string) Option {
	return func(l *Limiter) error {
		config, err := LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		return WithConfig(config)(l)
	}
}

// WithStore sets a custom bucket store.
// If not provided, a sharded in-memory store is created and owned by the limiter.
func WithStore(s store.Store) Option {
	return func(l *Limiter) error {
		if s == nil {
			return fmt.Errorf("%w: store cannot be nil", ErrInvalidConfig)
		}
		l.store = s
		return nil
	}
}

// WithShards sets the shard count of the default in-memory store.
func WithShards(n int) Option {
	return func(l *Limiter) error {
		if n <= 0 {
			return fmt.Errorf("%w: shard count must be positive", ErrInvalidConfig)
		}
		l.shards = n
		return nil
	}
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) error {
		if now == nil {
			return fmt.Errorf("%w: clock cannot be nil", ErrInvalidConfig)
		}
		l.now = now
		return nil
	}
}

// WithLogger sets the logger used for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) error {
		if logger == nil {
			return fmt.Errorf("%w: logger cannot be nil", ErrInvalidConfig)
		}
		l.logger = logger
		return nil
	}
}

// WithRecorder sets the recorder notified of every admission check.
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) error {
		if r == nil {
			return fmt.Errorf("%w: recorder cannot be nil", ErrInvalidConfig)
		}
		l.recorder = r
		return nil
	}
}
