package server

import (
	"context"
	"log/slog"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/export"
	"github.com/joseph-ayodele/paperless-ai/internal/extract"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/llm/openai"
	"github.com/joseph-ayodele/paperless-ai/internal/notify"
	"github.com/joseph-ayodele/paperless-ai/internal/ocr"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
	"github.com/joseph-ayodele/paperless-ai/internal/pipeline"
	repo "github.com/joseph-ayodele/paperless-ai/internal/repository"
	"github.com/joseph-ayodele/paperless-ai/internal/settings"
)

// Services holds the repositories shared by the CLI and the daemon and
// builds a pipeline from the current settings.
type Services struct {
	cfg    *common.Config
	logger *slog.Logger

	DB          *repo.DB
	History     repo.HistoryRepository
	APILogs     repo.APILogRepository
	Prompts     repo.PromptRepository
	SettingsDB  repo.SettingsRepository
	Settings    *settings.Provider
	Export      *export.Service
	redis       *notify.Redis
	redisFailed bool
}

func NewServices(cfg *common.Config, db *repo.DB, logger *slog.Logger) *Services {
	history := repo.NewHistoryRepository(db, logger)
	apiLogs := repo.NewAPILogRepository(db, logger)
	settingsRepo := repo.NewSettingsRepository(db, logger)
	return &Services{
		cfg:        cfg,
		logger:     logger,
		DB:         db,
		History:    history,
		APILogs:    apiLogs,
		Prompts:    repo.NewPromptRepository(db, logger),
		SettingsDB: settingsRepo,
		Settings:   settings.NewProvider(cfg, settingsRepo, logger),
		Export:     export.NewService(history, apiLogs, logger),
	}
}

// Pipeline loads a settings snapshot and wires a processor for it. A
// missing required setting is returned as a ConfigurationError before any
// client is built.
func (s *Services) Pipeline(ctx context.Context) (*pipeline.Processor, settings.Settings, error) {
	st, err := s.Settings.Load(ctx)
	if err != nil {
		return nil, st, err
	}
	if err := st.Validate(); err != nil {
		return nil, st, err
	}

	store := s.DocumentStore(st)
	model := openai.NewClient(openai.Config{
		APIKey:      st.OpenAIAPIKey,
		BaseURL:     s.cfg.LLM.BaseURL,
		Model:       st.OpenAIModel,
		Temperature: s.cfg.LLM.Temperature,
		Timeout:     s.cfg.LLM.Timeout,
		MaxRetries:  s.cfg.LLM.MaxRetries,
		RPS:         s.cfg.LLM.RPS,
		Burst:       s.cfg.LLM.Burst,
	}, s.APILogs, s.logger)

	proc := pipeline.NewProcessor(st, pipeline.Deps{
		Store:     store,
		Selector:  s.TextSelector(st, store),
		Suggester: llm.NewInvoker(model, s.logger),
		History:   s.History,
		Prompts:   s.Prompts,
		Notifiers: s.notifiers(ctx),
	}, s.logger)
	return proc, st, nil
}

// DocumentStore returns a store client for the snapshot's credentials.
func (s *Services) DocumentStore(st settings.Settings) *paperless.Client {
	return paperless.NewClient(paperless.Config{
		BaseURL: st.PaperlessURL,
		Token:   st.PaperlessToken,
		Timeout: s.cfg.Paperless.Timeout,
	}, s.APILogs, s.logger)
}

// TextSelector wires the local PDF tooling behind the selector.
func (s *Services) TextSelector(st settings.Settings, dl extract.Downloader) *extract.Selector {
	extractor := ocr.NewExtractor(ocr.Config{
		Pdftotext: s.cfg.OCR.Pdftotext,
		Pdftoppm:  s.cfg.OCR.Pdftoppm,
		DPI:       s.cfg.OCR.DPI,
		MaxPages:  s.cfg.OCR.VisionMaxPages,
	}, s.logger)
	return extract.NewSelector(extract.Config{
		MaxTextLength:  st.MaxTextLength,
		VisionFallback: st.VisionFallback,
	}, dl, extractor, s.logger)
}

// notifiers always includes the log notifier. Redis is added when
// configured and reachable; a failed connection is not retried.
func (s *Services) notifiers(ctx context.Context) []pipeline.Notifier {
	out := []pipeline.Notifier{notify.NewLog(s.logger)}
	if s.cfg.Redis.Addr == "" || s.redisFailed {
		return out
	}
	if s.redis == nil {
		r, err := notify.NewRedis(ctx, notify.RedisConfig{
			Addr:     s.cfg.Redis.Addr,
			Password: s.cfg.Redis.Password,
			DB:       s.cfg.Redis.DB,
			Channel:  s.cfg.Redis.Channel,
		}, s.logger)
		if err != nil {
			s.redisFailed = true
			s.logger.Warn("notify.redis.unavailable", "addr", s.cfg.Redis.Addr, "error", err)
			return out
		}
		s.redis = r
	}
	return append(out, s.redis)
}

func (s *Services) Close() {
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("failed to close redis client", "error", err)
		}
	}
	CloseDB(s.DB, s.logger)
}
