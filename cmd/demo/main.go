package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/kanavdutta/fastlimit/cmd/demo/handlers"
	"github.com/kanavdutta/fastlimit/internal/env"
	"github.com/kanavdutta/fastlimit/internal/logger"
	"github.com/kanavdutta/fastlimit/middleware"
	"github.com/kanavdutta/fastlimit/pkg/fastlimit"
)

func main() {
	listen := flag.String("listen", env.String("LISTEN_ADDR", ":8080"), "listen address")
	configFile := flag.String("config", env.String("FASTLIMIT_CONFIG", ""), "limiter YAML file (overrides -threshold and -ttl)")
	threshold := flag.Int64("threshold", env.Int64("RATE_THRESHOLD", 5), "messages per window per user")
	ttl := flag.Float64("ttl", env.Float64("RATE_TTL", 10), "window length in seconds")
	keyExtractor := flag.String("key", env.String("KEY_EXTRACTOR", "nfkc:header:X-User"), "key extractor (ip, header:X, jwt:ENV, nfkc:...)")
	globalRate := flag.Float64("global-rate", env.Float64("GLOBAL_RATE", 50), "max messages per second across all users (0 disables)")
	failOpen := flag.Bool("fail-open", env.Bool("FAIL_OPEN", false), "let requests without a key through unthrottled")
	logLevel := flag.String("log-level", env.String("LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.Parse()

	log := logger.New(*logLevel)

	opts := []fastlimit.Option{
		fastlimit.WithThreshold(*threshold),
		fastlimit.WithTTLSeconds(*ttl),
		fastlimit.WithLogger(log),
	}
	if *configFile != "" {
		opts = append(opts, fastlimit.WithConfigFile(*configFile))
	}

	limiter, err := fastlimit.New(opts...)
	if err != nil {
		log.Error("limiter_create_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer limiter.Close()

	extract, err := fastlimit.ParseKeyExtractorConfig(*keyExtractor)
	if err != nil {
		log.Error("key_extractor_invalid", slog.String("key", *keyExtractor), slog.String("error", err.Error()))
		os.Exit(1)
	}

	postOpts := []middleware.Option{
		middleware.WithKeyExtractor(extract),
		middleware.WithFailOpen(*failOpen),
		middleware.WithLogger(log),
	}
	if *globalRate > 0 {
		postOpts = append(postOpts, middleware.WithGlobalLimit(rate.Limit(*globalRate), globalBurst(*globalRate)))
	}
	posting := middleware.New(limiter, postOpts...)
	peeking := middleware.New(limiter, middleware.WithKeyExtractor(extract), middleware.WithPeek())

	chat := handlers.NewChat()

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/health", handlers.Health)
	r.Route("/rooms/{room}", func(r chi.Router) {
		r.Get("/messages", chat.List)
		r.With(posting.Handler).Post("/messages", chat.Post)
		r.With(peeking.Handler).Get("/can-post", chat.CanPost)
	})
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, usage(*listen))
	})

	policy := limiter.Policy()
	log.Info("demo_listen",
		slog.String("addr", *listen),
		slog.Int64("threshold", policy.Threshold),
		slog.Duration("ttl", policy.TTL),
		slog.String("key", *keyExtractor),
	)

	server := &http.Server{
		Addr:              *listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("demo_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

// globalBurst lets at least one message through for rates below one per second.
func globalBurst(perSecond float64) int {
	return max(int(math.Ceil(perSecond)), 1)
}

func usage(addr string) string {
	return fmt.Sprintf(`fastlimit chat demo

  GET  /health                  health check (not limited)
  GET  /rooms/{room}/messages   read a room (not limited)
  POST /rooms/{room}/messages   post {"text": "..."} (limited per X-User)
  GET  /rooms/{room}/can-post   check capacity without spending it

Try it:
  curl -X POST -H 'X-User: alice' -d '{"text":"hi"}' http://localhost%[1]s/rooms/go/messages
  curl -H 'X-User: alice' http://localhost%[1]s/rooms/go/can-post

Requests without X-User are rejected with 400 unless -fail-open is set. Rejected posts get 429
{"error":"LIMIT"} plus Retry-After and X-RateLimit-* headers.
`, addr)
}
