package fastlimit

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingThreshold is returned when no threshold was configured
	ErrMissingThreshold = errors.New("threshold is required")

	// ErrInvalidThreshold is returned when threshold is negative
	ErrInvalidThreshold = errors.New("threshold must be zero or positive")

	// ErrMissingTTL is returned when no ttl was configured
	ErrMissingTTL = errors.New("ttl is required")

	// ErrInvalidTTL is returned when ttl is negative or not a finite number
	ErrInvalidTTL = errors.New("ttl must be a finite, zero or positive number of seconds")

	// ErrLimit is matched by the error Consume returns when the window is exhausted
	ErrLimit = errors.New("rate limit exceeded")

	// ErrNoToken is returned by HasToken when the window has no capacity left
	ErrNoToken = errors.New("no token available")

	// ErrKeyExtractionFailed is returned when key extraction from request fails
	ErrKeyExtractionFailed = errors.New("failed to extract key from request")
)

// LimitKind is the kind reported by LimitError
const LimitKind = "LIMIT"

// LimitError is the rejection returned by Consume. It carries the namespace
// that was denied and matches ErrLimit with errors.Is.
type LimitError struct {
	Kind      string
	Namespace string
}

func (e *LimitError) Error() string {
	return ErrLimit.Error() + ": " + e.Namespace
}

// Is reports ErrLimit as the target of this error
func (e *LimitError) Is(target error) bool {
	return target == ErrLimit
}
