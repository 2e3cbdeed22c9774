// Package fastlimit provides an in-process, per-namespace rate limiter.
//
// A Limiter grants a fixed number of permits (the threshold) to every
// namespace per window of ttl length. The window of a namespace starts on
// its first access and refills lazily: the next check after the window ended
// starts a new one with the full threshold. There is no background sweep;
// each window schedules its own removal.
//
// # Quick Start
//
//	limiter, err := fastlimit.New(
//	    fastlimit.WithThreshold(100),     // 100 permits
//	    fastlimit.WithTTL(time.Minute),   // per minute
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer limiter.Close()
//
//	if !limiter.ConsumeSync("user-123") {
//	    // throttled
//	}
//
// The empty namespace is never throttled: checks against "" always admit and
// leave no state behind.
//
// # Consume and Peek
//
// ConsumeSync charges one permit when the window has capacity. HasTokenSync
// only reports capacity. When capacity exists, a peek discards the namespace's
// bucket so the next access starts a new window; a peek on an exhausted
// window changes nothing.
//
// Consume and HasToken are the same checks expressed as errors:
//
//	if err := limiter.Consume(ns); errors.Is(err, fastlimit.ErrLimit) {
//	    var le *fastlimit.LimitError
//	    errors.As(err, &le) // le.Kind == "LIMIT"
//	}
//
// # Configuration
//
// Threshold and ttl are both required. Missing, negative or non-numeric
// values make New fail; no limiter is returned in that case. The values can
// come from a YAML file:
//
//	threshold: 100
//	ttl: 60      # seconds, fractions allowed
//
//	limiter, err := fastlimit.New(fastlimit.WithConfigFile("limits.yaml"))
//
// # Key Extraction
//
// KeyExtractor turns an HTTP request into a namespace. See ExtractIP,
// ExtractIPWithProxy, ExtractHeader, ExtractBearer, ExtractJWTSubject,
// ExtractCookie, ExtractStatic, ExtractComposite and Normalized, or build one
// from a string with ParseKeyExtractorConfig. The middleware package uses
// them to guard http.Handlers.
//
// # Concurrency
//
// All methods are safe for concurrent use. The read-modify-write of a
// namespace happens under the lock of the shard owning it, so a window never
// admits more than threshold callers. Namespaces on different shards do not
// contend.
package fastlimit
