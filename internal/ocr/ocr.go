package ocr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrUnparseable marks PDFs that neither pdfcpu nor poppler can read.
var ErrUnparseable = errors.New("unparseable pdf")

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	DPI       int    // rasterization DPI for vision pages, default 150
	MaxPages  int    // 0 = no limit
	TempDir   string // "" = os.TempDir()
}

// PDFText is the text layer of a PDF.
type PDFText struct {
	Text     string
	Pages    int
	Duration time.Duration
}

// Page is one rendered PNG page.
type Page struct {
	Number int
	PNG    []byte
}

type Extractor struct {
	cfg       Config
	runner    Runner
	pageCount func(path string) (int, error)
	logger    *slog.Logger
}

type Option func(*Extractor)

// WithRunner replaces the exec runner (tests).
func WithRunner(r Runner) Option {
	return func(e *Extractor) {
		if r != nil {
			e.runner = r
		}
	}
}

// WithPageCounter replaces the pdfcpu page counter (tests).
func WithPageCounter(f func(path string) (int, error)) Option {
	return func(e *Extractor) {
		if f != nil {
			e.pageCount = f
		}
	}
}

func NewExtractor(cfg Config, logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 150
	}
	e := &Extractor{
		cfg:       cfg,
		runner:    execRunner{logger: logger},
		pageCount: api.PageCountFile,
		logger:    logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// ExtractText reads the embedded text layer of a PDF.
func (e *Extractor) ExtractText(ctx context.Context, pdf []byte) (PDFText, error) {
	start := time.Now()
	dir, cleanup, err := e.tempDir()
	if err != nil {
		return PDFText{}, err
	}
	defer cleanup()

	path := filepath.Join(dir, "document.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		return PDFText{}, fmt.Errorf("write temp pdf: %w", err)
	}
	pages, err := e.pageCount(path)
	if err != nil {
		e.logger.Warn("ocr.pdf.page_count_failed", "error", err)
		return PDFText{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}

	// pdftotext -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		if ctx.Err() != nil {
			return PDFText{}, ctx.Err()
		}
		return PDFText{}, fmt.Errorf("%w: pdftotext: %v: %s", ErrUnparseable, err, truncate(string(errb), 512))
	}
	res := PDFText{Text: Normalize(string(out)), Pages: pages, Duration: time.Since(start)}
	e.logger.Debug("ocr.pdf.text", "pages", pages, "chars", len(res.Text), "elapsed_ms", res.Duration.Milliseconds())
	return res, nil
}

// RenderPages rasterizes up to MaxPages pages to PNG.
// It returns the rendered pages and the document's total page count.
func (e *Extractor) RenderPages(ctx context.Context, pdf []byte) ([]Page, int, error) {
	dir, cleanup, err := e.tempDir()
	if err != nil {
		return nil, 0, err
	}
	defer cleanup()

	path := filepath.Join(dir, "document.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		return nil, 0, fmt.Errorf("write temp pdf: %w", err)
	}
	total, err := e.pageCount(path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	last := total
	if e.cfg.MaxPages > 0 && last > e.cfg.MaxPages {
		last = e.cfg.MaxPages
	}

	prefix := filepath.Join(dir, "page")
	// pdftoppm -r <dpi> -png -f 1 -l <last> <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm,
		"-r", strconv.Itoa(e.cfg.DPI), "-png", "-f", "1", "-l", strconv.Itoa(last), path, prefix)
	if err != nil {
		if ctx.Err() != nil {
			return nil, total, ctx.Err()
		}
		return nil, total, fmt.Errorf("%w: pdftoppm: %v: %s", ErrUnparseable, err, truncate(string(errb), 512))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) > last {
		matches = matches[:last]
	}
	if len(matches) == 0 {
		return nil, total, fmt.Errorf("%w: pdftoppm produced no images", ErrUnparseable)
	}

	pages := make([]Page, 0, len(matches))
	for i, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, total, fmt.Errorf("read rendered page: %w", err)
		}
		pages = append(pages, Page{Number: i + 1, PNG: b})
	}
	e.logger.Info("ocr.pdf.rendered", "pages", len(pages), "total_pages", total, "dpi", e.cfg.DPI)
	return pages, total, nil
}

func (e *Extractor) tempDir() (string, func(), error) {
	dir, err := os.MkdirTemp(e.cfg.TempDir, "pai-pdf-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("ocr.tempdir.remove_failed", "dir", dir, "error", err)
		}
	}, nil
}
