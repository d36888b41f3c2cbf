package extract

import (
	"context"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
)

type Config struct {
	MaxTextLength  int  // head truncation in characters; <= 0 disables
	VisionFallback bool // paperless_ocr mode may fall through to vision
}

// Selector runs an ordered chain of strategies and stops at the first success.
type Selector struct {
	cfg      Config
	dl       Downloader
	storeOCR Strategy
	pdfText  Strategy
	vision   Strategy
	logger   *slog.Logger
}

func NewSelector(cfg Config, dl Downloader, pdf PDFTooling, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		cfg:      cfg,
		dl:       dl,
		storeOCR: StoreOCR{},
		pdfText:  PDFText{PDF: pdf},
		vision:   Vision{PDF: pdf},
		logger:   logger,
	}
}

// Chain returns the strategies tried for mode, in order.
func (s *Selector) Chain(mode constants.TextMode) []Strategy {
	switch mode {
	case constants.ModeAIOCR:
		return []Strategy{s.vision}
	case constants.ModePaperlessOCR:
		if !s.cfg.VisionFallback {
			return []Strategy{s.storeOCR, s.pdfText}
		}
	}
	return []Strategy{s.storeOCR, s.pdfText, s.vision}
}

// Select extracts text for doc. Failures with a later fallback are recorded
// in Result.Attempts; only a failure of the whole chain is returned.
func (s *Selector) Select(ctx context.Context, doc paperless.Document, mode constants.TextMode) (Result, error) {
	start := time.Now()
	d := NewDocument(doc, s.dl)
	reqID := common.RequestIDFromContext(ctx)

	var attempts []Attempt
	var lastErr error
	for _, st := range s.Chain(mode) {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res, err := st.Extract(ctx, d)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			s.logger.Warn("extract.strategy.failed",
				"req_id", reqID, "document_id", doc.ID, "source", string(st.Source()), "error", err)
			attempts = append(attempts, Attempt{Source: st.Source(), Error: err.Error()})
			lastErr = err
			continue
		}
		res.Source = st.Source()
		res.Attempts = attempts
		res.Duration = time.Since(start)
		s.truncate(&res)
		s.logger.Info("extract.selected",
			"req_id", reqID,
			"document_id", doc.ID,
			"mode", string(mode),
			"source", string(res.Source),
			"chars", res.CharLength,
			"original_chars", res.OriginalLength,
			"images", len(res.Images),
			"elapsed_ms", res.Duration.Milliseconds(),
		)
		return res, nil
	}
	if lastErr == nil {
		lastErr = common.NewExtractionError(common.KindEmptyText, "no extraction strategy available", nil)
	}
	return Result{Attempts: attempts}, lastErr
}

func (s *Selector) truncate(res *Result) {
	res.OriginalLength = utf8.RuneCountInString(res.Text)
	res.CharLength = res.OriginalLength
	if s.cfg.MaxTextLength <= 0 || res.OriginalLength <= s.cfg.MaxTextLength {
		return
	}
	res.Text = HeadRunes(res.Text, s.cfg.MaxTextLength)
	res.CharLength = s.cfg.MaxTextLength
	res.Truncated = true
}

// HeadRunes returns the first n characters of s.
func HeadRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
