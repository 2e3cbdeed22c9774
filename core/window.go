package core

import "time"

// Window implements the fixed-quota, lazily refilled bucket used by the limiter
type Window struct {
	policy Policy
}

// NewWindow creates a new window evaluator with the given policy
func NewWindow(policy Policy) *Window {
	return &Window{policy: policy}
}

// Policy returns the policy the window was built with
func (w *Window) Policy() Policy {
	return w.policy
}

// Expired reports whether state no longer belongs to a live window at now
func (w *Window) Expired(state *BucketState, now time.Time) bool {
	return state == nil || now.Sub(state.WindowStart) > w.policy.TTL
}

// Check evaluates one admission attempt against the current bucket state.
// It returns the state the store should hold afterwards together with the
// result; state is never modified in place.
//
// A consuming check charges one permit. A non-consuming check (peek) that
// finds capacity discards the bucket, so the next access starts a new window.
func (w *Window) Check(state *BucketState, now time.Time, consume bool) (*BucketState, CheckResult) {
	fresh := false

	// Refill happens only here, lazily, on access
	if w.Expired(state, now) {
		state = &BucketState{
			Remaining:   w.policy.Threshold,
			WindowStart: now,
		}
		fresh = true
	}

	result := CheckResult{
		Remaining: state.Remaining,
		Limit:     w.policy.Threshold,
		ResetAt:   state.WindowStart.Add(w.policy.TTL),
		Fresh:     fresh,
	}

	if state.Remaining <= 0 {
		// Quota exhausted; a freshly started window is still recorded
		if fresh {
			result.Action = ActionPut
			return state, result
		}
		result.Action = ActionNone
		return state, result
	}

	result.Allowed = true

	if !consume {
		result.Action = ActionDelete
		return nil, result
	}

	next := &BucketState{
		Remaining:   state.Remaining - 1,
		WindowStart: state.WindowStart,
	}
	result.Remaining = next.Remaining
	result.Action = ActionPut
	return next, result
}
