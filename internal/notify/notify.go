package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joseph-ayodele/paperless-ai/internal/pipeline"
)

// Log writes bulk progress to the structured log.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{logger: logger}
}

func (l *Log) Publish(ctx context.Context, p pipeline.Progress) error {
	level := slog.LevelInfo
	if p.Status == pipeline.ProgressFailed {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "notify.progress",
		"run_id", p.RunID,
		"document_id", p.DocumentID,
		"progress", fmt.Sprintf("%d/%d", p.Index, p.Total),
		"status", p.Status,
		"succeeded", p.Succeeded,
		"failed", p.Failed,
		"error", p.Error,
	)
	return nil
}

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string        // pub/sub channel for every event
	StateTTL time.Duration // lifetime of the per-run state key
}

type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Redis publishes each event on a channel and keeps the latest event of a
// run under "<channel>:run:<run_id>" so status checks can read it.
type Redis struct {
	client  redisClient
	closer  func() error
	channel string
	ttl     time.Duration
	logger  *slog.Logger
}

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg RedisConfig, logger *slog.Logger) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	r := newRedis(client, cfg, logger)
	r.closer = client.Close
	return r, nil
}

func newRedis(client redisClient, cfg RedisConfig, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Channel == "" {
		cfg.Channel = "paperless-ai:progress"
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = 24 * time.Hour
	}
	return &Redis{client: client, channel: cfg.Channel, ttl: cfg.StateTTL, logger: logger}
}

func (r *Redis) Publish(ctx context.Context, p pipeline.Progress) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish progress: %w", err)
	}
	if err := r.client.Set(ctx, r.StateKey(p.RunID), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("store run state: %w", err)
	}
	r.logger.Debug("notify.redis.published", "run_id", p.RunID, "document_id", p.DocumentID)
	return nil
}

// StateKey is where the latest event of runID is kept.
func (r *Redis) StateKey(runID string) string {
	return r.channel + ":run:" + runID
}

func (r *Redis) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}
