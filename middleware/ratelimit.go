package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/kanavdutta/fastlimit/pkg/fastlimit"
	"golang.org/x/time/rate"
)

// Error kinds written in the body of rejected requests
const (
	KindLimit         = fastlimit.LimitKind
	KindNoToken       = "NO_TOKEN"
	KindKeyExtraction = "key_extraction_failed"
)

// LimitHandler writes the response for a request that was not admitted.
type LimitHandler func(w http.ResponseWriter, r *http.Request, decision fastlimit.Decision)

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// RateLimiter provides HTTP middleware that admits requests through a
// fastlimit.RateLimiter, one namespace per client.
type RateLimiter struct {
	limiter  fastlimit.RateLimiter
	extract  fastlimit.KeyExtractor
	peek     bool
	global   *rate.Limiter
	onLimit  LimitHandler
	failOpen bool
	logger   *slog.Logger
}

// New creates a rate limiting middleware around limiter.
// Clients are identified by IP address unless WithKeyExtractor is given.
func New(limiter fastlimit.RateLimiter, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		limiter: limiter,
		extract: fastlimit.ExtractIP(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(rl)
	}
	if rl.onLimit == nil {
		rl.onLimit = rl.defaultOnLimit
	}
	return rl
}

// WithKeyExtractor sets how the namespace is derived from a request.
func WithKeyExtractor(extract fastlimit.KeyExtractor) Option {
	return func(rl *RateLimiter) {
		if extract != nil {
			rl.extract = extract
		}
	}
}

// WithPeek makes the middleware only check for capacity instead of
// charging a permit per request.
func WithPeek() Option {
	return func(rl *RateLimiter) {
		rl.peek = true
	}
}

// WithGlobalLimit puts a ceiling on the total request rate across all
// namespaces. It is checked before the per-namespace limiter; requests over
// it reach the limit handler with a Decision carrying only RetryAfter.
func WithGlobalLimit(limit rate.Limit, burst int) Option {
	return func(rl *RateLimiter) {
		rl.global = rate.NewLimiter(limit, burst)
	}
}

// WithOnLimit replaces the default 429 response.
func WithOnLimit(fn LimitHandler) Option {
	return func(rl *RateLimiter) {
		if fn != nil {
			rl.onLimit = fn
		}
	}
}

// WithFailOpen admits requests whose namespace cannot be extracted, the
// same way an empty namespace is admitted. Otherwise they get a 400.
func WithFailOpen(failOpen bool) Option {
	return func(rl *RateLimiter) {
		rl.failOpen = failOpen
	}
}

// WithLogger sets the logger used for requests without a namespace.
func WithLogger(logger *slog.Logger) Option {
	return func(rl *RateLimiter) {
		if logger != nil {
			rl.logger = logger
		}
	}
}

// Handler wraps next with rate limiting.
//
// Every response carries X-RateLimit-Limit and X-RateLimit-Remaining, plus
// X-RateLimit-Reset (unix seconds) when a window exists. Rejected requests
// also get Retry-After (seconds).
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.global != nil && !rl.global.Allow() {
			w.Header().Set("Retry-After", "1")
			rl.onLimit(w, r, fastlimit.Decision{RetryAfter: time.Second})
			return
		}

		namespace, err := rl.extract(r)
		if err != nil {
			if !rl.failOpen {
				rl.logger.Debug("key_extraction_failed",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				writeError(w, http.StatusBadRequest, KindKeyExtraction, 0)
				return
			}
			namespace = ""
		}

		decision := rl.limiter.Check(namespace, !rl.peek)
		setHeaders(w, decision)

		if !decision.Allowed {
			rl.onLimit(w, r, decision)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) defaultOnLimit(w http.ResponseWriter, r *http.Request, decision fastlimit.Decision) {
	kind := KindLimit
	if rl.peek {
		kind = KindNoToken
	}
	writeError(w, http.StatusTooManyRequests, kind, decision.RetryAfter)
}

func setHeaders(w http.ResponseWriter, decision fastlimit.Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(decision.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
	if !decision.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
	}
	if !decision.Allowed {
		h.Set("Retry-After", strconv.FormatInt(retryAfterSeconds(decision.RetryAfter), 10))
	}
}

// retryAfterSeconds rounds up and never returns less than one second.
func retryAfterSeconds(d time.Duration) int64 {
	secs := int64(math.Ceil(d.Seconds()))
	return max(secs, 1)
}

type errorBody struct {
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retry_after_ms,omitempty"`
}

func writeError(w http.ResponseWriter, status int, kind string, retryAfter time.Duration) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{
		Error:        kind,
		RetryAfterMs: retryAfter.Milliseconds(),
	})
}
