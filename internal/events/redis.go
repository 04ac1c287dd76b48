package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is used when no channel is configured.
const DefaultChannel = "relister:events"

// Redis publishes events as JSON on a pub/sub channel.
type Redis struct {
	rdb     *redis.Client
	channel string
	logger  *slog.Logger
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL, channel string, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("events: redis.ParseURL: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("events: redis ping failed: %w", err)
	}
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{rdb: rdb, channel: channel, logger: logger}, nil
}

// Publish is non-fatal: failures are logged and dropped.
func (r *Redis) Publish(ctx context.Context, e Event) {
	payload, err := encode(e)
	if err != nil {
		r.logger.Warn("encode event failed", slog.String("type", string(e.Type)), slog.String("error", err.Error()))
		return
	}
	if err := r.rdb.Publish(ctx, r.channel, payload).Err(); err != nil {
		r.logger.Warn("publish event failed",
			slog.String("type", string(e.Type)),
			slog.String("channel", r.channel),
			slog.String("error", err.Error()))
	}
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

func encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}
