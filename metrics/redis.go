package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults used by NewRedisPublisher for zero config fields
const (
	DefaultRedisKey     = "fastlimit:metrics"
	DefaultRedisChannel = "fastlimit:metrics:updates"
)

// SnapshotSource provides metrics snapshots
type SnapshotSource interface {
	GetSnapshot() *Snapshot
}

// RedisConfig for creating a Redis publisher
type RedisConfig struct {
	Addr     string        // Redis address (e.g., "localhost:6379")
	Password string        // Redis password (empty for no auth)
	DB       int           // Redis database number
	Key      string        // Key holding the latest snapshot
	Channel  string        // Pub/sub channel announcing new snapshots
	TTL      time.Duration // Expiry of the snapshot key (default: 3 publish intervals, see Run)
}

// RedisPublisher copies metrics snapshots to Redis so dashboards running
// elsewhere can read them. Bucket state never leaves the process.
type RedisPublisher struct {
	client  *redis.Client
	source  SnapshotSource
	key     string
	channel string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewRedisPublisher creates a publisher for the snapshots of source
func NewRedisPublisher(config RedisConfig, source SnapshotSource, logger *slog.Logger) *RedisPublisher {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	if config.Key == "" {
		config.Key = DefaultRedisKey
	}
	if config.Channel == "" {
		config.Channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &RedisPublisher{
		client:  client,
		source:  source,
		key:     config.Key,
		channel: config.Channel,
		ttl:     config.TTL,
		logger:  logger,
	}
}

// Ping checks if Redis is reachable
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Publish stores the current snapshot under the configured key and
// announces it on the channel.
func (p *RedisPublisher) Publish(ctx context.Context) error {
	data, err := json.Marshal(p.source.GetSnapshot())
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.key, data, p.ttl)
	pipe.Publish(ctx, p.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// Latest reads the most recently published snapshot.
// It returns nil and no error when nothing has been published.
func (p *RedisPublisher) Latest(ctx context.Context) (*Snapshot, error) {
	data, err := p.client.Get(ctx, p.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snapshot, nil
}

// Run publishes a snapshot every interval until ctx is done. Failures are
// logged and retried on the next tick.
func (p *RedisPublisher) Run(ctx context.Context, interval time.Duration) {
	if p.ttl == 0 {
		p.ttl = 3 * interval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Publish(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("metrics_publish_failed",
					slog.String("key", p.key),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
