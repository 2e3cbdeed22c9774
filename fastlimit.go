package fastlimit

import (
	"github.com/kanavdutta/fastlimit/pkg/fastlimit"
)

// Re-export main types for convenience
type (
	Limiter      = fastlimit.Limiter
	RateLimiter  = fastlimit.RateLimiter
	Option       = fastlimit.Option
	Config       = fastlimit.Config
	Decision     = fastlimit.Decision
	Recorder     = fastlimit.Recorder
	KeyExtractor = fastlimit.KeyExtractor
	LimitError   = fastlimit.LimitError
)

var (
	// New creates a limiter; see pkg/fastlimit for the options
	New = fastlimit.New

	WithThreshold  = fastlimit.WithThreshold
	WithTTL        = fastlimit.WithTTL
	WithTTLSeconds = fastlimit.WithTTLSeconds
	WithConfig     = fastlimit.WithConfig
	WithConfigFile = fastlimit.WithConfigFile
	WithLogger     = fastlimit.WithLogger

	ErrLimit         = fastlimit.ErrLimit
	ErrNoToken       = fastlimit.ErrNoToken
	ErrInvalidConfig = fastlimit.ErrInvalidConfig
)
