package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Date is a calendar date without time of day.
type Date struct {
	time.Time
}

// NewDate builds a UTC calendar date.
func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(time.DateOnly) }

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, ok := ParseDate(s)
	if !ok {
		return fmt.Errorf("invalid date %q", s)
	}
	*d = parsed
	return nil
}

var dateLayouts = []string{
	time.DateOnly,
	"2006/01/02",
	"02.01.2006",
	"2006.01.02",
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseDate accepts the date spellings models commonly emit and normalizes to a calendar date.
func ParseDate(s string) (Date, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewDate(t.Year(), t.Month(), t.Day()), true
		}
	}
	return Date{}, false
}

// Field names a SuggestedMetadata field; values match the JSON keys.
type Field string

const (
	FieldTitle         Field = "title"
	FieldDocumentDate  Field = "document_date"
	FieldCorrespondent Field = "correspondent"
	FieldDocumentType  Field = "document_type"
	FieldStoragePath   Field = "storage_path"
	FieldKeywords      Field = "keywords"
	FieldTags          Field = "suggested_tags"
)

// AllFields lists every field in response order.
var AllFields = []Field{
	FieldTitle, FieldDocumentDate, FieldCorrespondent, FieldDocumentType,
	FieldStoragePath, FieldKeywords, FieldTags,
}

// ParseFields parses a comma-separated field list; "all" or "" selects everything.
func ParseFields(s string) ([]Field, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "all" {
		return append([]Field(nil), AllFields...), nil
	}
	var out []Field
	for _, part := range strings.Split(s, ",") {
		f := Field(strings.TrimSpace(part))
		switch f {
		case "tags":
			f = FieldTags
		case "date":
			f = FieldDocumentDate
		}
		known := false
		for _, a := range AllFields {
			if a == f {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("unknown field %q", part)
		}
		out = append(out, f)
	}
	return out, nil
}

// SuggestedMetadata is the model's suggestion. A nil field means no suggestion.
type SuggestedMetadata struct {
	Title         *string  `json:"title,omitempty"`
	DocumentDate  *Date    `json:"document_date,omitempty"`
	Correspondent *string  `json:"correspondent,omitempty"`
	DocumentType  *string  `json:"document_type,omitempty"`
	StoragePath   *string  `json:"storage_path,omitempty"`
	Keywords      *string  `json:"keywords,omitempty"`
	SuggestedTags []string `json:"suggested_tags,omitempty"` // tag names, never ids
}

// Has reports whether f carries a suggestion.
func (m SuggestedMetadata) Has(f Field) bool {
	switch f {
	case FieldTitle:
		return m.Title != nil
	case FieldDocumentDate:
		return m.DocumentDate != nil
	case FieldCorrespondent:
		return m.Correspondent != nil
	case FieldDocumentType:
		return m.DocumentType != nil
	case FieldStoragePath:
		return m.StoragePath != nil
	case FieldKeywords:
		return m.Keywords != nil
	case FieldTags:
		return m.SuggestedTags != nil
	}
	return false
}

// Select returns a copy holding only the given fields.
func (m SuggestedMetadata) Select(fields ...Field) SuggestedMetadata {
	var out SuggestedMetadata
	for _, f := range fields {
		switch f {
		case FieldTitle:
			out.Title = m.Title
		case FieldDocumentDate:
			out.DocumentDate = m.DocumentDate
		case FieldCorrespondent:
			out.Correspondent = m.Correspondent
		case FieldDocumentType:
			out.DocumentType = m.DocumentType
		case FieldStoragePath:
			out.StoragePath = m.StoragePath
		case FieldKeywords:
			out.Keywords = m.Keywords
		case FieldTags:
			if m.SuggestedTags != nil {
				out.SuggestedTags = append([]string{}, m.SuggestedTags...)
			}
		}
	}
	return out
}

// Present lists the fields carrying a suggestion.
func (m SuggestedMetadata) Present() []Field {
	var out []Field
	for _, f := range AllFields {
		if m.Has(f) {
			out = append(out, f)
		}
	}
	return out
}

// Image is one page or picture sent to a vision-capable model.
type Image struct {
	MimeType string
	Data     []byte
}

// DataURL encodes the image for an image_url content part.
func (i Image) DataURL() string {
	mt := i.MimeType
	if mt == "" {
		mt = "image/png"
	}
	return "data:" + mt + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// CompletionRequest is one structured completion call.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Images       []Image
	JSONMode     bool
	MaxTokens    int // 0 = client default
}

// Completion is the raw model output.
type Completion struct {
	Raw        string
	TokenUsage int
	Model      string
}

// Completer is the model API client the pipeline depends on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}
