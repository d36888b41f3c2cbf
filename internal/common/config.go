package common

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig
	Paperless  PaperlessConfig
	LLM        LLMConfig
	OCR        OCRConfig
	Processing ProcessingConfig
	Redis      RedisConfig
	Daemon     DaemonConfig
	Log        LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "sqlite" | "postgres"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// PaperlessConfig holds document store connection defaults.
// Values stored in the settings table take precedence.
type PaperlessConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model       string
	APIKey      string
	BaseURL     string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int
	RPS         float64
	Burst       int
}

// OCRConfig holds local PDF tooling configuration
type OCRConfig struct {
	Pdftotext      string
	Pdftoppm       string
	DPI            int
	VisionMaxPages int
}

// ProcessingConfig holds pipeline defaults
type ProcessingConfig struct {
	MaxTextLength     int
	DisplayTextLength int
	VisionFallback    bool
	JSONMode          bool
}

// RedisConfig enables the Redis progress publisher when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// DaemonConfig holds settings for the watch daemon
type DaemonConfig struct {
	GRPCAddr      string
	WatchInterval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "sqlite"),
			DSN:              getEnv("DB_URL", "file:paperless-ai.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 10),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 1),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Paperless: PaperlessConfig{
			URL:     getEnv("PAPERLESS_URL", ""),
			Token:   getEnv("PAPERLESS_TOKEN", ""),
			Timeout: getEnvAsDuration("PAPERLESS_TIMEOUT", 30*time.Second),
		},
		LLM: LLMConfig{
			Model:       getEnv("OPENAI_MODEL", "gpt-4-turbo-preview"),
			APIKey:      getEnv("OPENAI_API_KEY", ""),
			BaseURL:     getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Temperature: getEnvAsFloat32("OPENAI_TEMPERATURE", 0.3),
			Timeout:     getEnvAsDuration("OPENAI_TIMEOUT", 120*time.Second),
			MaxRetries:  getEnvAsInt("OPENAI_MAX_RETRIES", 3),
			RPS:         getEnvAsFloat64("OPENAI_RPS", 1),
			Burst:       getEnvAsInt("OPENAI_BURST", 1),
		},
		OCR: OCRConfig{
			Pdftotext:      getEnv("PDFTOTEXT", "pdftotext"),
			Pdftoppm:       getEnv("PDFTOPPM", "pdftoppm"),
			DPI:            getEnvAsInt("OCR_DPI", 150),
			VisionMaxPages: getEnvAsInt("VISION_MAX_PAGES", 0),
		},
		Processing: ProcessingConfig{
			MaxTextLength:     getEnvAsInt("MAX_TEXT_LENGTH", 10000),
			DisplayTextLength: getEnvAsInt("DISPLAY_TEXT_LENGTH", 5000),
			VisionFallback:    getEnvAsBool("VISION_FALLBACK", true),
			JSONMode:          getEnvAsBool("USE_JSON_MODE", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
			Channel:  getEnv("REDIS_PROGRESS_CHANNEL", "paperless-ai:progress"),
		},
		Daemon: DaemonConfig{
			GRPCAddr:      getEnv("GRPC_ADDR", ":8080"),
			WatchInterval: getEnvAsDuration("WATCH_INTERVAL", 5*time.Minute),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// Validate checks the settings needed before anything can be opened.
// Document store and model credentials are checked later by the settings
// provider since they may come from the settings table.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return NewConfigurationError("DB_DRIVER", "must be sqlite or postgres")
	}
	if c.Database.DSN == "" {
		return NewConfigurationError("DB_URL", "is required")
	}
	if c.Processing.MaxTextLength <= 0 {
		return NewConfigurationError("MAX_TEXT_LENGTH", "must be positive")
	}
	return nil
}

// NewLogger builds the process logger from LogConfig.
func NewLogger(cfg LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
