package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/kanavdutta/fastlimit/pkg/fastlimit"
)

func newLimiter(t *testing.T, threshold int64, ttl time.Duration) *fastlimit.Limiter {
	t.Helper()
	limiter, err := fastlimit.New(
		fastlimit.WithThreshold(threshold),
		fastlimit.WithTTL(ttl),
	)
	if err != nil {
		t.Fatalf("fastlimit.New() failed: %v", err)
	}
	t.Cleanup(func() { limiter.Close() })
	return limiter
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("success"))
	})
}

func serve(handler http.Handler, setup func(r *http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if setup != nil {
		setup(req)
	}
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func TestHandler_AllowedRequest(t *testing.T) {
	handler := New(newLimiter(t, 5, time.Minute)).Handler(okHandler())

	rr := serve(handler, nil)

	if rr.Code != http.StatusOK {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Header().Get("X-RateLimit-Limit") != "5" {
		t.Errorf("X-RateLimit-Limit = %s, want 5", rr.Header().Get("X-RateLimit-Limit"))
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "4" {
		t.Errorf("X-RateLimit-Remaining = %s, want 4", rr.Header().Get("X-RateLimit-Remaining"))
	}
	if rr.Header().Get("X-RateLimit-Reset") == "" {
		t.Error("X-RateLimit-Reset should be set once a window exists")
	}
	if rr.Header().Get("Retry-After") != "" {
		t.Error("Retry-After should not be set for allowed requests")
	}
	if rr.Body.String() != "success" {
		t.Errorf("body = %s, want success", rr.Body.String())
	}
}

func TestHandler_RateLimited(t *testing.T) {
	handler := New(newLimiter(t, 3, 10*time.Second)).Handler(okHandler())

	for i := 0; i < 3; i++ {
		if rr := serve(handler, nil); rr.Code != http.StatusOK {
			t.Errorf("request %d: status code = %d, want %d", i+1, rr.Code, http.StatusOK)
		}
	}

	rr := serve(handler, nil)

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("X-RateLimit-Remaining = %s, want 0", rr.Header().Get("X-RateLimit-Remaining"))
	}

	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil {
		t.Fatalf("Retry-After parsing failed: %v", err)
	}
	if retryAfter < 1 || retryAfter > 10 {
		t.Errorf("Retry-After = %d, want between 1 and 10", retryAfter)
	}

	resetTime, err := strconv.ParseInt(rr.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Fatalf("X-RateLimit-Reset parsing failed: %v", err)
	}
	if resetTime < time.Now().Unix() {
		t.Error("X-RateLimit-Reset should not be in the past")
	}

	body := decodeError(t, rr)
	if body.Error != KindLimit {
		t.Errorf("error = %s, want %s", body.Error, KindLimit)
	}
	if body.RetryAfterMs <= 0 {
		t.Errorf("retry_after_ms = %d, want > 0", body.RetryAfterMs)
	}
}

func TestHandler_DifferentIPs(t *testing.T) {
	handler := New(newLimiter(t, 2, time.Minute)).Handler(okHandler())

	serve(handler, nil)
	serve(handler, nil)

	if rr := serve(handler, nil); rr.Code != http.StatusTooManyRequests {
		t.Errorf("IP1 should be rate limited, got status %d", rr.Code)
	}

	rr := serve(handler, func(r *http.Request) { r.RemoteAddr = "192.168.1.2:12345" })
	if rr.Code != http.StatusOK {
		t.Errorf("IP2 should be allowed, got status %d", rr.Code)
	}
}

func TestHandler_WithAPIKey(t *testing.T) {
	handler := New(newLimiter(t, 3, time.Minute),
		WithKeyExtractor(fastlimit.ExtractHeader("X-API-Key")),
	).Handler(okHandler())

	withKey := func(key string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-API-Key", key) }
	}

	for i := 0; i < 3; i++ {
		if rr := serve(handler, withKey("key123")); rr.Code != http.StatusOK {
			t.Errorf("request %d should be allowed, got status %d", i+1, rr.Code)
		}
	}

	if rr := serve(handler, withKey("key123")); rr.Code != http.StatusTooManyRequests {
		t.Errorf("4th request should be rate limited, got status %d", rr.Code)
	}

	if rr := serve(handler, withKey("key456")); rr.Code != http.StatusOK {
		t.Errorf("different API key should be allowed, got status %d", rr.Code)
	}
}

func TestHandler_MissingAPIKey(t *testing.T) {
	limiter := newLimiter(t, 1, time.Minute)

	t.Run("fail closed", func(t *testing.T) {
		handler := New(limiter,
			WithKeyExtractor(fastlimit.ExtractHeader("X-API-Key")),
		).Handler(okHandler())

		rr := serve(handler, nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status code = %d, want %d", rr.Code, http.StatusBadRequest)
		}
		if body := decodeError(t, rr); body.Error != KindKeyExtraction {
			t.Errorf("error = %s, want %s", body.Error, KindKeyExtraction)
		}
	})

	t.Run("fail open", func(t *testing.T) {
		handler := New(limiter,
			WithKeyExtractor(fastlimit.ExtractHeader("X-API-Key")),
			WithFailOpen(true),
		).Handler(okHandler())

		// No namespace means no throttling, however many requests arrive
		for i := 0; i < 5; i++ {
			if rr := serve(handler, nil); rr.Code != http.StatusOK {
				t.Errorf("request %d: status code = %d, want %d", i+1, rr.Code, http.StatusOK)
			}
		}
		if limiter.Count() != 0 {
			t.Errorf("Count() = %d, bypassed requests must not create buckets", limiter.Count())
		}
	})
}

func TestHandler_Peek(t *testing.T) {
	limiter := newLimiter(t, 1, time.Minute)
	peek := New(limiter, WithPeek()).Handler(okHandler())
	consume := New(limiter).Handler(okHandler())

	for i := 0; i < 3; i++ {
		if rr := serve(peek, nil); rr.Code != http.StatusOK {
			t.Errorf("peek %d: status code = %d, want %d", i+1, rr.Code, http.StatusOK)
		}
	}

	if rr := serve(consume, nil); rr.Code != http.StatusOK {
		t.Fatalf("consume after peeks: status code = %d, want %d", rr.Code, http.StatusOK)
	}

	rr := serve(peek, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("peek after consume: status code = %d, want %d", rr.Code, http.StatusTooManyRequests)
	}
	if body := decodeError(t, rr); body.Error != KindNoToken {
		t.Errorf("error = %s, want %s", body.Error, KindNoToken)
	}
}

func TestHandler_GlobalLimit(t *testing.T) {
	handler := New(newLimiter(t, 100, time.Minute),
		WithGlobalLimit(0, 2),
	).Handler(okHandler())

	for i := 0; i < 2; i++ {
		ip := "10.0.0." + strconv.Itoa(i+1) + ":1234"
		if rr := serve(handler, func(r *http.Request) { r.RemoteAddr = ip }); rr.Code != http.StatusOK {
			t.Errorf("request %d: status code = %d, want %d", i+1, rr.Code, http.StatusOK)
		}
	}

	rr := serve(handler, func(r *http.Request) { r.RemoteAddr = "10.0.0.9:1234" })
	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("status code = %d, want %d once the global burst is spent", rr.Code, http.StatusTooManyRequests)
	}
	if rr.Header().Get("Retry-After") != "1" {
		t.Errorf("Retry-After = %s, want 1", rr.Header().Get("Retry-After"))
	}
}

func TestHandler_GlobalLimitUsesLimitHandler(t *testing.T) {
	t.Run("peek reports no token", func(t *testing.T) {
		handler := New(newLimiter(t, 100, time.Minute),
			WithPeek(),
			WithGlobalLimit(0, 1),
		).Handler(okHandler())

		serve(handler, nil)
		rr := serve(handler, nil)

		if rr.Code != http.StatusTooManyRequests {
			t.Fatalf("status code = %d, want %d", rr.Code, http.StatusTooManyRequests)
		}
		if body := decodeError(t, rr); body.Error != KindNoToken {
			t.Errorf("error = %s, want %s", body.Error, KindNoToken)
		}
	})

	t.Run("custom handler", func(t *testing.T) {
		var got *fastlimit.Decision
		handler := New(newLimiter(t, 100, time.Minute),
			WithGlobalLimit(0, 1),
			WithOnLimit(func(w http.ResponseWriter, r *http.Request, decision fastlimit.Decision) {
				got = &decision
				w.WriteHeader(http.StatusServiceUnavailable)
			}),
		).Handler(okHandler())

		serve(handler, nil)
		rr := serve(handler, nil)

		if rr.Code != http.StatusServiceUnavailable {
			t.Errorf("status code = %d, want %d", rr.Code, http.StatusServiceUnavailable)
		}
		if got == nil {
			t.Fatal("OnLimit was not called for the global ceiling")
		}
		if got.Allowed || got.RetryAfter != time.Second {
			t.Errorf("decision = %+v, want a denial with a 1s retry", *got)
		}
		if rr.Header().Get("Retry-After") != "1" {
			t.Errorf("Retry-After = %s, want 1", rr.Header().Get("Retry-After"))
		}
	})
}

func TestHandler_OnLimit(t *testing.T) {
	var got fastlimit.Decision
	handler := New(newLimiter(t, 0, time.Minute),
		WithOnLimit(func(w http.ResponseWriter, r *http.Request, decision fastlimit.Decision) {
			got = decision
			w.WriteHeader(http.StatusServiceUnavailable)
		}),
	).Handler(okHandler())

	rr := serve(handler, nil)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status code = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	if got.Namespace != "ip:192.168.1.1" {
		t.Errorf("decision.Namespace = %s, want ip:192.168.1.1", got.Namespace)
	}
	if got.Allowed {
		t.Error("decision passed to OnLimit should be a denial")
	}
}

func TestHandler_SharedAcrossRoutes(t *testing.T) {
	handler := New(newLimiter(t, 5, time.Minute)).Handler(okHandler())

	for _, route := range []string{"/api/users", "/api/posts", "/api/comments"} {
		rr := serve(handler, func(r *http.Request) { r.URL.Path = route })
		if rr.Code != http.StatusOK {
			t.Errorf("request to %s should be allowed, got status %d", route, rr.Code)
		}
	}

	// Same IP, same namespace: 5 - 4 = 1
	rr := serve(handler, nil)
	if rr.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Errorf("X-RateLimit-Remaining = %s, want 1", rr.Header().Get("X-RateLimit-Remaining"))
	}
}

func TestHandler_Concurrent(t *testing.T) {
	handler := New(newLimiter(t, 100, time.Minute)).Handler(okHandler())

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)

	for i := 0; i < 300; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if rr := serve(handler, nil); rr.Code == http.StatusOK {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 100 {
		t.Errorf("allowed %d requests, want 100", success)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{200 * time.Millisecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{10 * time.Second, 10},
	}

	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
