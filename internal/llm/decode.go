package llm

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"strings"
)

// ErrMalformedResponse means the model output could not be read as a suggestion at all.
var ErrMalformedResponse = errors.New("malformed model response")

// DecodeResult is a decoded suggestion plus diagnostics.
type DecodeResult struct {
	Metadata      SuggestedMetadata
	ExtractedText string   // vision mode only
	Dropped       []string // fields dropped for type or parse errors
	Notes         []string // renames and other normalizations
	Format        string   // "json" | "lines"
	JSON          []byte   // normalized JSON for persistence
}

// DecodeSuggestion turns raw model output into SuggestedMetadata. Invalid
// individual fields are dropped; only output that is neither a JSON object
// nor the line format fails with ErrMalformedResponse. When strictJSON is
// set the line format is not accepted.
func DecodeSuggestion(raw string, strictJSON bool, logger *slog.Logger) (DecodeResult, error) {
	if logger == nil {
		logger = slog.Default()
	}
	text := strings.TrimSpace(raw)

	// vision answers in line mode carry the transcription first
	var extracted string
	if !strictJSON {
		extracted, text = splitVisionSections(text)
	}

	if m, ok := decodeJSONObject(text); ok {
		res := fromMap(m, logger)
		if res.ExtractedText == "" {
			res.ExtractedText = extracted
		}
		return res, nil
	}
	if strictJSON {
		return DecodeResult{}, ErrMalformedResponse
	}

	m := parseLines(text)
	if len(m) == 0 {
		return DecodeResult{}, ErrMalformedResponse
	}
	res := fromMap(m, logger)
	res.Format = "lines"
	if res.ExtractedText == "" {
		res.ExtractedText = extracted
	}
	return res, nil
}

func fromMap(m map[string]any, logger *slog.Logger) DecodeResult {
	res := DecodeResult{Format: "json"}
	res.Notes = NormalizeSuggestionMap(m)

	invalid, err := InvalidTopLevelFields(m)
	if err != nil {
		logger.Warn("llm.decode.schema_unavailable", "error", err)
	}
	for _, k := range invalid {
		delete(m, k)
		res.Dropped = append(res.Dropped, k)
	}

	str := func(k string) *string {
		if s, ok := m[k].(string); ok {
			return &s
		}
		return nil
	}
	md := SuggestedMetadata{
		Title:         str("title"),
		Correspondent: str("correspondent"),
		DocumentType:  str("document_type"),
		StoragePath:   str("storage_path"),
		Keywords:      str("keywords"),
	}
	if s, ok := m["document_date"].(string); ok {
		if d, ok := ParseDate(s); ok {
			md.DocumentDate = &d
			m["document_date"] = d.String()
		} else {
			delete(m, "document_date")
			res.Dropped = append(res.Dropped, "document_date")
		}
	}
	if tags, ok := m["suggested_tags"].([]any); ok {
		md.SuggestedTags = make([]string, 0, len(tags))
		for _, t := range tags {
			md.SuggestedTags = append(md.SuggestedTags, t.(string))
		}
	}
	if s, ok := m["extracted_text"].(string); ok {
		res.ExtractedText = s
	}
	res.Metadata = md

	// unknown keys are ignored, not persisted
	known := map[string]bool{"extracted_text": true}
	for _, f := range AllFields {
		known[string(f)] = true
	}
	for k := range m {
		if !known[k] {
			delete(m, k)
		}
	}
	res.JSON, _ = json.Marshal(m)

	if len(res.Dropped) > 0 {
		sort.Strings(res.Dropped)
		logger.Warn("llm.decode.fields_dropped", "dropped", res.Dropped)
	}
	return res
}

// decodeJSONObject accepts a bare object, a fenced code block, or an object
// embedded in surrounding prose.
func decodeJSONObject(text string) (map[string]any, bool) {
	text = stripCodeFence(text)
	var m map[string]any
	if err := json.Unmarshal([]byte(text), &m); err == nil && m != nil {
		return m, true
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	if err := json.Unmarshal([]byte(text[start:end+1]), &m); err == nil && m != nil {
		return m, true
	}
	return nil, false
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:] // drop language tag
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var lineKeys = map[string]string{
	"TITLE":         "title",
	"DATE":          "document_date",
	"DOCUMENT_DATE": "document_date",
	"CORRESPONDENT": "correspondent",
	"TYPE":          "document_type",
	"DOCUMENT_TYPE": "document_type",
	"STORAGE_PATH":  "storage_path",
	"KEYWORDS":      "keywords",
	"TAGS":          "suggested_tags",
}

// parseLines reads the legacy "KEY: value" answer format.
func parseLines(text string) map[string]any {
	m := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(strings.Trim(key, "*-# ")))
		field, known := lineKeys[strings.ReplaceAll(key, " ", "_")]
		if !known {
			continue
		}
		m[field] = strings.TrimSpace(value)
	}
	return m
}

// splitVisionSections splits "EXTRACTED_TEXT: ... ANALYSIS: ..." answers.
func splitVisionSections(text string) (extracted, rest string) {
	const (
		textMarker     = "EXTRACTED_TEXT:"
		analysisMarker = "ANALYSIS:"
	)
	i := strings.Index(text, textMarker)
	j := strings.Index(text, analysisMarker)
	if i < 0 || j < i {
		return "", text
	}
	return strings.TrimSpace(text[i+len(textMarker) : j]), strings.TrimSpace(text[j+len(analysisMarker):])
}
