package extract

import (
	"context"
	"time"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/ocr"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
)

// Downloader fetches a document's original bytes from the store.
type Downloader interface {
	DownloadDocument(ctx context.Context, id int) ([]byte, string, error)
}

// PDFTooling is the local PDF surface (text layer and page rendering).
type PDFTooling interface {
	ExtractText(ctx context.Context, pdf []byte) (ocr.PDFText, error)
	RenderPages(ctx context.Context, pdf []byte) ([]ocr.Page, int, error)
}

// Strategy is one way of obtaining text for a document.
type Strategy interface {
	Source() constants.TextSource
	Extract(ctx context.Context, d *Document) (Result, error)
}

// Result is the ExtractedText handed to the prompt builder.
type Result struct {
	Text           string
	Source         constants.TextSource
	SourceInfo     string // human-readable note
	CharLength     int    // after truncation
	OriginalLength int    // before truncation
	Truncated      bool
	Images         []llm.Image // set only for vision; the model produces the text
	Pages          int
	Duration       time.Duration
	Attempts       []Attempt
}

// NeedsImages reports whether the prompt must carry page images.
func (r Result) NeedsImages() bool { return r.Source == constants.SourceVisionAPI }

// Attempt records a strategy that was tried and failed.
type Attempt struct {
	Source constants.TextSource
	Error  string
}

// Document wraps the store document and downloads the original at most once.
type Document struct {
	paperless.Document

	dl       Downloader
	fetched  bool
	data     []byte
	mimeType string
	err      error
}

func NewDocument(doc paperless.Document, dl Downloader) *Document {
	return &Document{Document: doc, dl: dl}
}
