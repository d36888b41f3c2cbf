package openai

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/paperless-ai/internal/entity"
)

// Config for the OpenAI client.
type Config struct {
	APIKey          string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL         string        // default https://api.openai.com/v1
	Model           string        // e.g., "gpt-4-turbo-preview"
	Temperature     float32       // 0..2
	Timeout         time.Duration // per attempt
	MaxRetries      int           // retries after the first attempt for transient failures
	RetryBaseDelay  time.Duration // backoff base, doubled per retry
	RPS             float64       // request pacing; <= 0 disables
	Burst           int
	MaxTokens       int // text requests, default 2000
	VisionMaxTokens int // requests with images, default 4000
}

// CallRecorder receives one entry per attempt.
type CallRecorder interface {
	RecordCall(ctx context.Context, call entity.APICallLog) error
}

type Client struct {
	cfg      Config
	http     *http.Client
	limiter  *rate.Limiter
	recorder CallRecorder
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewClient(cfg Config, recorder CallRecorder, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = "gpt-4-turbo-preview"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.VisionMaxTokens <= 0 {
		cfg.VisionMaxTokens = 4000
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{},
		limiter:  limiter,
		recorder: recorder,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.cfg.Model }

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
