package settings

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
)

// Keys recognized in the settings table.
const (
	KeyPaperlessURL       = "paperless_url"
	KeyPaperlessToken     = "paperless_token"
	KeyOpenAIAPIKey       = "openai_api_key"
	KeyOpenAIModel        = "openai_model"
	KeyMaxTextLength      = "max_text_length"
	KeyDisplayTextLength  = "display_text_length"
	KeyUseJSONMode        = "use_json_mode"
	KeyPromptSystem       = "prompt_system"
	KeyPromptTemplate     = "prompt_template"
	KeyDefaultTagID       = "default_tag_id"
	KeyAutoUpdateMetadata = "auto_update_metadata"
	KeyActivePrompt       = "active_prompt"
	KeyVisionFallback     = "vision_fallback"
)

// Keys lists every recognized key in display order.
var Keys = []string{
	KeyPaperlessURL, KeyPaperlessToken, KeyOpenAIAPIKey, KeyOpenAIModel,
	KeyMaxTextLength, KeyDisplayTextLength, KeyUseJSONMode, KeyPromptSystem,
	KeyPromptTemplate, KeyDefaultTagID, KeyAutoUpdateMetadata, KeyActivePrompt,
	KeyVisionFallback,
}

var secretKeys = map[string]bool{KeyPaperlessToken: true, KeyOpenAIAPIKey: true}

// IsSecret reports whether key must be masked when displayed.
func IsSecret(key string) bool { return secretKeys[key] }

// Mask hides all but the last four characters of a secret.
func Mask(v string) string {
	if len(v) <= 4 {
		return strings.Repeat("*", len(v))
	}
	return strings.Repeat("*", len(v)-4) + v[len(v)-4:]
}

// Store is the persisted key/value source.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// Settings is an immutable snapshot handed to one pipeline invocation.
type Settings struct {
	PaperlessURL       string
	PaperlessToken     string
	OpenAIAPIKey       string
	OpenAIModel        string
	MaxTextLength      int
	DisplayTextLength  int
	UseJSONMode        bool
	PromptSystem       string
	PromptTemplate     string // overrides the active configuration's free instructions
	DefaultTagID       *int
	AutoUpdateMetadata bool
	ActivePrompt       string
	VisionFallback     bool
}

// Validate reports the first missing setting needed to process documents.
func (s Settings) Validate() error {
	switch {
	case strings.TrimSpace(s.PaperlessURL) == "":
		return common.NewConfigurationError(KeyPaperlessURL, "is required")
	case strings.TrimSpace(s.PaperlessToken) == "":
		return common.NewConfigurationError(KeyPaperlessToken, "is required")
	case strings.TrimSpace(s.OpenAIAPIKey) == "":
		return common.NewConfigurationError(KeyOpenAIAPIKey, "is required")
	case s.MaxTextLength <= 0:
		return common.NewConfigurationError(KeyMaxTextLength, "must be positive")
	}
	return nil
}

// Provider layers persisted settings over the environment configuration.
type Provider struct {
	cfg    *common.Config
	store  Store
	logger *slog.Logger
}

func NewProvider(cfg *common.Config, store Store, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{cfg: cfg, store: store, logger: logger}
}

// Load reads a fresh snapshot. A stored value that cannot be parsed is
// ignored in favor of the environment default.
func (p *Provider) Load(ctx context.Context) (Settings, error) {
	s := p.defaults()
	if p.store == nil {
		return s, nil
	}
	for _, key := range Keys {
		v, ok, err := p.store.Get(ctx, key)
		if err != nil {
			return Settings{}, common.WrapError(err, "load settings")
		}
		if !ok {
			continue
		}
		if err := s.set(key, v); err != nil {
			p.logger.Warn("settings.value.invalid", "key", key, "error", err)
		}
	}
	return s, nil
}

// Set validates and persists one value.
func (p *Provider) Set(ctx context.Context, key, value string) error {
	var scratch Settings
	if err := scratch.set(key, value); err != nil {
		return err
	}
	if p.store == nil {
		return common.NewAppError("INTERNAL", "no settings store configured", common.ErrInternal)
	}
	return p.store.Set(ctx, key, strings.TrimSpace(value))
}

func (p *Provider) defaults() Settings {
	c := p.cfg
	if c == nil {
		c = common.LoadConfig()
	}
	return Settings{
		PaperlessURL:      c.Paperless.URL,
		PaperlessToken:    c.Paperless.Token,
		OpenAIAPIKey:      c.LLM.APIKey,
		OpenAIModel:       c.LLM.Model,
		MaxTextLength:     c.Processing.MaxTextLength,
		DisplayTextLength: c.Processing.DisplayTextLength,
		UseJSONMode:       c.Processing.JSONMode,
		VisionFallback:    c.Processing.VisionFallback,
	}
}

func (s *Settings) set(key, raw string) error {
	v := strings.TrimSpace(raw)
	switch key {
	case KeyPaperlessURL:
		s.PaperlessURL = v
	case KeyPaperlessToken:
		s.PaperlessToken = v
	case KeyOpenAIAPIKey:
		s.OpenAIAPIKey = v
	case KeyOpenAIModel:
		s.OpenAIModel = v
	case KeyPromptSystem:
		s.PromptSystem = raw
	case KeyPromptTemplate:
		s.PromptTemplate = raw
	case KeyActivePrompt:
		s.ActivePrompt = v
	case KeyMaxTextLength, KeyDisplayTextLength:
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return common.NewConfigurationError(key, "must be a positive integer")
		}
		if key == KeyMaxTextLength {
			s.MaxTextLength = n
		} else {
			s.DisplayTextLength = n
		}
	case KeyUseJSONMode, KeyAutoUpdateMetadata, KeyVisionFallback:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return common.NewConfigurationError(key, "must be true or false")
		}
		switch key {
		case KeyUseJSONMode:
			s.UseJSONMode = b
		case KeyAutoUpdateMetadata:
			s.AutoUpdateMetadata = b
		default:
			s.VisionFallback = b
		}
	case KeyDefaultTagID:
		if v == "" {
			s.DefaultTagID = nil
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return common.NewConfigurationError(key, "must be a positive tag id")
		}
		s.DefaultTagID = &n
	default:
		return common.NewAppError("INVALID_INPUT", "unknown setting "+key, common.ErrInvalidInput)
	}
	return nil
}

// Value renders the effective value of key in its stored form.
func (s Settings) Value(key string) string {
	switch key {
	case KeyPaperlessURL:
		return s.PaperlessURL
	case KeyPaperlessToken:
		return s.PaperlessToken
	case KeyOpenAIAPIKey:
		return s.OpenAIAPIKey
	case KeyOpenAIModel:
		return s.OpenAIModel
	case KeyMaxTextLength:
		return strconv.Itoa(s.MaxTextLength)
	case KeyDisplayTextLength:
		return strconv.Itoa(s.DisplayTextLength)
	case KeyUseJSONMode:
		return strconv.FormatBool(s.UseJSONMode)
	case KeyPromptSystem:
		return s.PromptSystem
	case KeyPromptTemplate:
		return s.PromptTemplate
	case KeyDefaultTagID:
		if s.DefaultTagID == nil {
			return ""
		}
		return strconv.Itoa(*s.DefaultTagID)
	case KeyAutoUpdateMetadata:
		return strconv.FormatBool(s.AutoUpdateMetadata)
	case KeyActivePrompt:
		return s.ActivePrompt
	case KeyVisionFallback:
		return strconv.FormatBool(s.VisionFallback)
	}
	return ""
}
