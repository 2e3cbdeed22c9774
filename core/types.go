package core

import "time"

// Policy defines the admission policy for every namespace of a limiter
type Policy struct {
	Threshold int64         // Permits granted per window
	TTL       time.Duration // Window length
}

// BucketState represents the current window of a single namespace
type BucketState struct {
	Remaining   int64     // Permits left in the current window
	WindowStart time.Time // When the current window began
}

// Action tells the store what to do with a bucket after a check
type Action int

const (
	ActionNone   Action = iota // Leave the stored bucket untouched
	ActionPut                  // Write the returned state
	ActionDelete               // Drop the bucket entirely
)

func (a Action) String() string {
	switch a {
	case ActionPut:
		return "put"
	case ActionDelete:
		return "delete"
	default:
		return "none"
	}
}

// CheckResult contains the result of an admission check
type CheckResult struct {
	Allowed   bool      // Whether the caller may proceed
	Remaining int64     // Permits left after this check
	Limit     int64     // Configured threshold
	ResetAt   time.Time // When the current window ends
	Action    Action    // Store mutation required by this check
	Fresh     bool      // The window was (re)started by this check
}
