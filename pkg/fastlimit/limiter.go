package fastlimit

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kanavdutta/fastlimit/core"
	"github.com/kanavdutta/fastlimit/store"
)

// Operation names reported to a Recorder
const (
	OpConsume = "consume"
	OpPeek    = "peek"
)

// RateLimiter is the admission interface implemented by Limiter.
type RateLimiter interface {
	// ConsumeSync reports whether namespace may proceed and, if so,
	// charges one permit.
	ConsumeSync(namespace string) bool

	// HasTokenSync reports whether namespace currently has capacity
	// without charging a permit.
	HasTokenSync(namespace string) bool

	// Consume is ConsumeSync as an error: nil on admit, *LimitError on deny.
	Consume(namespace string) error

	// HasToken is HasTokenSync as an error: nil on capacity, ErrNoToken otherwise.
	HasToken(namespace string) error

	// Check runs one admission check and returns the full decision.
	Check(namespace string, consume bool) Decision

	// Inspect returns the live bucket of namespace without modifying it.
	Inspect(namespace string) (Decision, bool)

	// Reset drops the bucket of namespace.
	Reset(namespace string)

	// Policy returns the configured threshold and ttl.
	Policy() core.Policy
}

// Recorder receives the outcome of every admission check.
type Recorder interface {
	RecordCheck(namespace, op string, allowed bool)
	RecordBypass(op string)
}

// noopRecorder keeps the hot path free of nil checks.
type noopRecorder struct{}

func (noopRecorder) RecordCheck(string, string, bool) {}
func (noopRecorder) RecordBypass(string)              {}

// Decision contains the result of an admission check.
type Decision struct {
	// Allowed indicates whether the caller may proceed
	Allowed bool

	// Bypassed is true when the namespace was empty and nothing was checked
	Bypassed bool

	// Remaining is the number of permits left in the window after this check
	Remaining int64

	// Limit is the configured threshold
	Limit int64

	// ResetAt is when the current window ends
	ResetAt time.Time

	// RetryAfter is how long until the window ends. 0 if Allowed is true
	RetryAfter time.Duration

	// Namespace is the key that was checked
	Namespace string
}

// Limiter is an in-process rate limiter granting a fixed number of permits
// per namespace per window. It is safe for concurrent use.
type Limiter struct {
	window   *core.Window
	store    store.Store
	ownStore bool
	shards   int
	now      func() time.Time
	logger   *slog.Logger
	recorder Recorder

	// config collects threshold and ttl from options until New validates it
	config Config
}

// Ensure Limiter implements RateLimiter interface
var _ RateLimiter = (*Limiter)(nil)

// New creates a new Limiter with the given options.
// Threshold and ttl are both required; construction fails without them.
//
// Example:
//
//	limiter, err := New(
//	    WithThreshold(100),       // 100 permits
//	    WithTTL(time.Minute),     // per minute
//	)
func New(opts ...Option) (*Limiter, error) {
	l := &Limiter{
		shards:   store.DefaultShards,
		now:      time.Now,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		recorder: noopRecorder{},
	}

	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := l.config.Validate(); err != nil {
		return nil, err
	}

	policy := l.config.Policy()
	l.window = core.NewWindow(policy)

	// Create default store only once everything else is valid
	if l.store == nil {
		l.store = store.NewShardedMemoryStore(l.shards)
		l.ownStore = true
	}

	l.logger.Debug("limiter_created",
		slog.Int64("threshold", policy.Threshold),
		slog.Duration("ttl", policy.TTL),
	)

	return l, nil
}

// ConsumeSync checks namespace and charges one permit when capacity exists.
func (l *Limiter) ConsumeSync(namespace string) bool {
	return l.evaluate(namespace, true).Allowed
}

// HasTokenSync reports whether namespace has capacity without charging it.
//
// When capacity exists the namespace's bucket is discarded, so the next
// access starts a new window. Peeking alone therefore never exhausts a
// namespace.
func (l *Limiter) HasTokenSync(namespace string) bool {
	return l.evaluate(namespace, false).Allowed
}

// Consume returns nil when namespace was admitted and charged one permit,
// and a *LimitError of kind LIMIT otherwise.
func (l *Limiter) Consume(namespace string) error {
	if l.ConsumeSync(namespace) {
		return nil
	}
	return &LimitError{Kind: LimitKind, Namespace: namespace}
}

// HasToken returns nil when namespace has capacity and ErrNoToken otherwise.
func (l *Limiter) HasToken(namespace string) error {
	if l.HasTokenSync(namespace) {
		return nil
	}
	return ErrNoToken
}

// Check runs one admission check and returns the full decision.
func (l *Limiter) Check(namespace string, consume bool) Decision {
	return l.evaluate(namespace, consume)
}

// evaluate is the shared admission routine behind every public check.
func (l *Limiter) evaluate(namespace string, consume bool) Decision {
	op := OpPeek
	if consume {
		op = OpConsume
	}

	policy := l.window.Policy()

	// No identity to throttle
	if namespace == "" {
		l.recorder.RecordBypass(op)
		return Decision{
			Allowed:   true,
			Bypassed:  true,
			Remaining: policy.Threshold,
			Limit:     policy.Threshold,
		}
	}

	now := l.now()
	result := l.store.Update(namespace, policy.TTL, func(current *core.BucketState) (*core.BucketState, core.CheckResult) {
		return l.window.Check(current, now, consume)
	})

	l.recorder.RecordCheck(namespace, op, result.Allowed)

	decision := Decision{
		Allowed:   result.Allowed,
		Remaining: result.Remaining,
		Limit:     result.Limit,
		ResetAt:   result.ResetAt,
		Namespace: namespace,
	}
	if !result.Allowed {
		decision.RetryAfter = max(result.ResetAt.Sub(now), 0)
	}

	return decision
}

// Inspect returns the live bucket of namespace. It reports false when the
// namespace has no bucket or its window already ended. No state is changed.
func (l *Limiter) Inspect(namespace string) (Decision, bool) {
	if namespace == "" {
		return Decision{}, false
	}

	now := l.now()
	state := l.store.Get(namespace)
	if l.window.Expired(state, now) {
		return Decision{}, false
	}

	policy := l.window.Policy()
	resetAt := state.WindowStart.Add(policy.TTL)
	decision := Decision{
		Allowed:   state.Remaining > 0,
		Remaining: state.Remaining,
		Limit:     policy.Threshold,
		ResetAt:   resetAt,
		Namespace: namespace,
	}
	if !decision.Allowed {
		decision.RetryAfter = max(resetAt.Sub(now), 0)
	}
	return decision, true
}

// Reset drops the bucket of namespace. The next check starts a new window.
func (l *Limiter) Reset(namespace string) {
	if namespace == "" {
		return
	}
	l.store.Delete(namespace)
}

// Policy returns the configured threshold and ttl.
func (l *Limiter) Policy() core.Policy {
	return l.window.Policy()
}

// Count returns the number of namespaces currently holding a bucket.
func (l *Limiter) Count() int {
	return l.store.Count()
}

// Close releases the pending expiry timers of a store created by New.
// A store passed with WithStore is left to its owner.
func (l *Limiter) Close() error {
	if !l.ownStore {
		return nil
	}
	l.logger.Debug("limiter_closed")
	return l.store.Close()
}
