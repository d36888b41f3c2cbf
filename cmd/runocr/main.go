package main

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/extract"
	"github.com/joseph-ayodele/paperless-ai/internal/server"
	"github.com/joseph-ayodele/paperless-ai/internal/settings"
)

// runocr runs only the text source selection for one document and prints
// what the model would receive.
func main() {
	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		logger.Error("usage", "cmd", "runocr <document-id> [paperless_ocr|ai_ocr|auto]")
		os.Exit(2)
	}
	docID, err := strconv.Atoi(os.Args[1])
	if err != nil || docID <= 0 {
		logger.Error("invalid document id", "arg", os.Args[1], "error", err)
		os.Exit(2)
	}
	mode := constants.ModeAuto
	if len(os.Args) >= 3 {
		m, ok := constants.ParseTextMode(os.Args[2])
		if !ok {
			logger.Error("invalid mode", "arg", os.Args[2])
			os.Exit(2)
		}
		mode = m
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		os.Exit(1)
	}
	svc := server.NewServices(cfg, db, logger)
	defer svc.Close()

	st, err := svc.Settings.Load(ctx)
	if err != nil {
		logger.Error("load settings", "error", err)
		os.Exit(1)
	}
	if strings.TrimSpace(st.PaperlessURL) == "" || strings.TrimSpace(st.PaperlessToken) == "" {
		logger.Error("document store is not configured", "error",
			common.NewConfigurationError(settings.KeyPaperlessURL+"/"+settings.KeyPaperlessToken, "is required"))
		os.Exit(2)
	}

	store := svc.DocumentStore(st)
	doc, err := store.GetDocument(ctx, docID)
	if err != nil {
		logger.Error("fetch document", "document_id", docID, "error", err)
		os.Exit(1)
	}

	start := time.Now()
	res, err := svc.TextSelector(st, store).Select(ctx, doc, mode)
	dur := time.Since(start)
	if err != nil {
		logger.Error("text extraction failed", "document_id", docID, "category", common.Category(err),
			"error", err, "duration_ms", dur.Milliseconds())
		os.Exit(1)
	}

	logger.Info("text extraction OK",
		"document_id", docID,
		"source", res.Source,
		"source_info", res.SourceInfo,
		"pages", res.Pages,
		"chars", res.CharLength,
		"original_chars", res.OriginalLength,
		"truncated", res.Truncated,
		"images", len(res.Images),
		"duration_ms", dur.Milliseconds(),
	)
	if !res.NeedsImages() {
		preview := extract.HeadRunes(res.Text, st.DisplayTextLength)
		_, _ = os.Stdout.WriteString(preview + "\n")
	}
}
