package constants

import "strings"

// TextSource records where the text handed to the prompt came from.
type TextSource string

const (
	SourcePaperlessOCR  TextSource = "paperless_ocr"
	SourcePDFExtraction TextSource = "pdf_extraction"
	SourceVisionAPI     TextSource = "vision_api"
)

// TextMode is the caller's extraction preference.
type TextMode string

const (
	ModePaperlessOCR TextMode = "paperless_ocr"
	ModeAIOCR        TextMode = "ai_ocr"
	ModeAuto         TextMode = "auto"
)

// ParseTextMode maps user input to a TextMode; empty means auto.
func ParseTextMode(s string) (TextMode, bool) {
	switch TextMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, true
	case ModePaperlessOCR:
		return ModePaperlessOCR, true
	case ModeAIOCR, "vision":
		return ModeAIOCR, true
	}
	return "", false
}

// Vision payload formats accepted by the model API.
const (
	MimePDF  = "application/pdf"
	MimePNG  = "image/png"
	MimeJPEG = "image/jpeg"
	MimeWEBP = "image/webp"
	MimeGIF  = "image/gif"
)

// IsVisionImage reports whether a sniffed mime type can be sent as-is as an image part.
func IsVisionImage(mime string) bool {
	switch mime {
	case MimePNG, MimeJPEG, MimeWEBP, MimeGIF:
		return true
	}
	return false
}
