package store

import (
	"time"

	"github.com/kanavdutta/fastlimit/core"
)

// UpdateFunc evaluates the current bucket of a key and returns the state the
// store should hold afterwards. It runs while the key is locked.
type UpdateFunc func(current *core.BucketState) (*core.BucketState, core.CheckResult)

// Store defines the interface for bucket state storage
type Store interface {
	// Get returns the bucket for key, or nil when absent
	Get(key string) *core.BucketState

	// Set inserts or overwrites the bucket for key
	Set(key string, state *core.BucketState)

	// Delete removes the bucket for key; it is a no-op when absent
	Delete(key string)

	// ScheduleExpiry arranges for Delete(key) to run once after the given
	// duration. A newer schedule for the same key supersedes the older one.
	ScheduleExpiry(key string, after time.Duration)

	// Update runs fn atomically for key and applies the returned action.
	// Fresh windows are scheduled to expire after ttl.
	Update(key string, ttl time.Duration, fn UpdateFunc) core.CheckResult

	// Count returns the number of buckets currently held
	Count() int

	// Clear removes all buckets and pending expiries
	Clear()

	// Close stops all pending expiry timers
	Close() error
}
