package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kanavdutta/fastlimit/api"
	"github.com/kanavdutta/fastlimit/internal/env"
	"github.com/kanavdutta/fastlimit/internal/logger"
	"github.com/kanavdutta/fastlimit/metrics"
	"github.com/kanavdutta/fastlimit/pkg/fastlimit"
	"github.com/kanavdutta/fastlimit/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", env.String("FASTLIMIT_CONFIG", ""), "path to YAML config file")
	listen := flag.String("listen", env.String("LISTEN_ADDR", ":8080"), "listen address")
	logLevel := flag.String("log-level", env.String("LOG_LEVEL", "info"), "debug, info, warn or error")
	threshold := flag.Int64("threshold", env.Int64("RATE_THRESHOLD", 100), "permits per window")
	ttl := flag.Float64("ttl", env.Float64("RATE_TTL", 60), "window length in seconds")
	shards := flag.Int("shards", int(env.Int64("SHARDS", store.DefaultShards)), "bucket store shards")
	metricsNamespaces := flag.Int("metrics-namespaces", int(env.Int64("METRICS_NAMESPACES", metrics.DefaultMaxNamespaces)), "namespaces kept in per-namespace metrics")
	redisAddr := flag.String("redis-addr", env.String("REDIS_ADDR", ""), "redis address for metrics snapshots (empty disables)")
	redisPassword := flag.String("redis-password", env.String("REDIS_PASSWORD", ""), "redis password")
	publishInterval := flag.Duration("publish-interval", env.Duration("PUBLISH_INTERVAL", 5*time.Second), "metrics snapshot interval")
	flag.Parse()

	th, secs := *threshold, *ttl
	cfg := serverConfig{
		Listen:   *listen,
		LogLevel: *logLevel,
		Shards:   *shards,
		Limiter:  fastlimit.Config{Threshold: &th, TTL: &secs},
		Redis: redisConfig{
			Addr:            *redisAddr,
			Password:        *redisPassword,
			PublishInterval: *publishInterval,
		},
		MetricsNamespaces: *metricsNamespaces,
	}

	if *configPath != "" {
		if err := loadServerConfig(*configPath, &cfg); err != nil {
			logger.New(cfg.LogLevel).Error("config_load_failed",
				slog.String("path", *configPath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
	}

	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg serverConfig, log *slog.Logger) error {
	if err := cfg.validate(); err != nil {
		return err
	}

	var limiter *fastlimit.Limiter
	tracker := metrics.NewMetrics(
		metrics.WithBucketCounter(func() int { return limiter.Count() }),
		metrics.WithMaxNamespaces(cfg.MetricsNamespaces),
	)

	limiter, err := fastlimit.New(
		fastlimit.WithConfig(&cfg.Limiter),
		fastlimit.WithShards(cfg.Shards),
		fastlimit.WithLogger(log),
		fastlimit.WithRecorder(tracker),
	)
	if err != nil {
		return fmt.Errorf("create limiter: %w", err)
	}
	defer limiter.Close()

	if cfg.Redis.Addr != "" {
		publisher := metrics.NewRedisPublisher(metrics.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Key:      cfg.Redis.Key,
			Channel:  cfg.Redis.Channel,
		}, tracker, log)
		defer publisher.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := publisher.Ping(pingCtx); err != nil {
			log.Warn("metrics_publisher_unreachable",
				slog.String("redis_addr", cfg.Redis.Addr),
				slog.String("error", err.Error()),
			)
		}
		cancel()

		go publisher.Run(ctx, cfg.Redis.PublishInterval)
	}

	router := api.NewHandler(limiter, tracker, log).Routes()
	router.Get("/dashboard", dashboardHandler)
	router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	})

	server := &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		policy := limiter.Policy()
		log.Info("api_listen",
			slog.String("addr", cfg.Listen),
			slog.Int64("threshold", policy.Threshold),
			slog.Duration("ttl", policy.TTL),
			slog.Bool("redis_metrics", cfg.Redis.Addr != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("api_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
