package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/ocr"
)

// Original returns the downloaded bytes and their sniffed mime type.
func (d *Document) Original(ctx context.Context) ([]byte, string, error) {
	if d.fetched {
		return d.data, d.mimeType, d.err
	}
	data, _, err := d.dl.DownloadDocument(ctx, d.ID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		d.fetched = true
		d.err = common.NewExtractionError(common.KindDownloadFailed, fmt.Sprintf("download document %d", d.ID), err)
		return nil, "", d.err
	}
	d.fetched = true
	d.data = data
	d.mimeType = mimetype.Detect(data).String()
	if i := strings.IndexByte(d.mimeType, ';'); i >= 0 {
		d.mimeType = d.mimeType[:i]
	}
	return d.data, d.mimeType, nil
}

// StoreOCR uses the OCR text the store already holds.
type StoreOCR struct{}

func (StoreOCR) Source() constants.TextSource { return constants.SourcePaperlessOCR }

func (StoreOCR) Extract(_ context.Context, d *Document) (Result, error) {
	if strings.TrimSpace(d.Content) == "" {
		return Result{}, common.NewExtractionError(common.KindEmptyText, "document has no OCR text", nil)
	}
	return Result{Text: d.Content, SourceInfo: "Paperless OCR text"}, nil
}

// PDFText reads the text layer of the original PDF.
type PDFText struct {
	PDF PDFTooling
}

func (PDFText) Source() constants.TextSource { return constants.SourcePDFExtraction }

func (s PDFText) Extract(ctx context.Context, d *Document) (Result, error) {
	data, mt, err := d.Original(ctx)
	if err != nil {
		return Result{}, err
	}
	if mt != constants.MimePDF {
		return Result{}, common.NewExtractionError(common.KindParseFailed, "original is "+mt+", not a PDF", nil)
	}
	out, err := s.PDF.ExtractText(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, parseFailed(err)
	}
	if strings.TrimSpace(out.Text) == "" {
		return Result{}, common.NewExtractionError(common.KindEmptyText, "PDF has no text layer", nil)
	}
	return Result{
		Text:       out.Text,
		SourceInfo: fmt.Sprintf("Text extracted from PDF (%d pages)", out.Pages),
		Pages:      out.Pages,
	}, nil
}

// Vision renders pages to images for a vision-capable model.
type Vision struct {
	PDF PDFTooling
}

func (Vision) Source() constants.TextSource { return constants.SourceVisionAPI }

func (s Vision) Extract(ctx context.Context, d *Document) (Result, error) {
	data, mt, err := d.Original(ctx)
	if err != nil {
		return Result{}, err
	}
	if constants.IsVisionImage(mt) {
		return Result{
			Images:     []llm.Image{{MimeType: mt, Data: data}},
			SourceInfo: "Vision analysis of original " + mt + " image",
			Pages:      1,
		}, nil
	}
	if mt != constants.MimePDF {
		return Result{}, common.NewExtractionError(common.KindParseFailed, "cannot render "+mt+" for vision", nil)
	}
	pages, total, err := s.PDF.RenderPages(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, parseFailed(err)
	}
	images := make([]llm.Image, 0, len(pages))
	for _, p := range pages {
		images = append(images, llm.Image{MimeType: constants.MimePNG, Data: p.PNG})
	}
	return Result{
		Images:     images,
		SourceInfo: fmt.Sprintf("Vision analysis of %d of %d pages", len(pages), total),
		Pages:      total,
	}, nil
}

func parseFailed(err error) error {
	msg := "PDF could not be read"
	if !errors.Is(err, ocr.ErrUnparseable) {
		msg = "PDF tooling failed"
	}
	return common.NewExtractionError(common.KindParseFailed, msg, err)
}
