package llm

// BuildSuggestionJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// Unknown keys are allowed; decoding ignores them.
func BuildSuggestionJSONSchema() map[string]any {
	str := func() map[string]any { return map[string]any{"type": "string"} }
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"title":         str(),
			"document_date": str(),
			"correspondent": str(),
			"document_type": str(),
			"storage_path":  str(),
			"keywords":      str(),
			"suggested_tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "minLength": 1},
			},
			"extracted_text": str(),
		},
	}
}

// ResponseSkeleton is the JSON shape shown to the model.
func ResponseSkeleton(vision bool) string {
	s := `{
  "title": "concise descriptive title",
  "document_date": "YYYY-MM-DD",
  "correspondent": "sender or issuing organization",
  "document_type": "document type",
  "storage_path": "storage path name",
  "keywords": "comma, separated, keywords",
  "suggested_tags": ["tag1", "tag2"]`
	if vision {
		s += `,
  "extracted_text": "full text transcribed from the page images"`
	}
	return s + "\n}"
}
