package entity

import "time"

// PromptTemplate is a named set of per-field instructions.
type PromptTemplate struct {
	ID               int64     `json:"id" yaml:"-"`
	Name             string    `json:"name" yaml:"name"`
	DocumentDate     string    `json:"document_date" yaml:"document_date,omitempty"`
	Correspondent    string    `json:"correspondent" yaml:"correspondent,omitempty"`
	DocumentType     string    `json:"document_type" yaml:"document_type,omitempty"`
	StoragePath      string    `json:"storage_path" yaml:"storage_path,omitempty"`
	ContentKeywords  string    `json:"content_keywords" yaml:"content_keywords,omitempty"`
	SuggestedTitle   string    `json:"suggested_title" yaml:"suggested_title,omitempty"`
	SuggestedTag     string    `json:"suggested_tag" yaml:"suggested_tag,omitempty"`
	FreeInstructions string    `json:"free_instructions" yaml:"free_instructions,omitempty"`
	JSONMode         bool      `json:"json_mode" yaml:"json_mode"`
	IsActive         bool      `json:"is_active" yaml:"-"`
	CreatedAt        time.Time `json:"created_at" yaml:"-"`
	UpdatedAt        time.Time `json:"updated_at" yaml:"-"`
}

// DefaultPromptTemplate is used when no configuration has been stored.
func DefaultPromptTemplate() PromptTemplate {
	return PromptTemplate{
		Name:             "default",
		DocumentDate:     "Extract the document date in YYYY-MM-DD format. Prefer the issue date over due dates or print dates.",
		Correspondent:    "Identify the sender or issuing organization. Prefer one of the available correspondents if it matches; otherwise give the organization's common name.",
		DocumentType:     "Classify the document. Prefer one of the available document types; otherwise suggest a short, general type such as Invoice, Contract or Letter.",
		StoragePath:      "Identify the most appropriate storage location from the available storage paths. Leave empty if none fits.",
		ContentKeywords:  "List up to ten comma-separated keywords describing the content.",
		SuggestedTitle:   "Suggest a concise, descriptive title (max 100 characters) without dates or file extensions.",
		SuggestedTag:     "Suggest up to five relevant tags. Reuse available tags where they fit.",
		FreeInstructions: "Please respond in English.",
		JSONMode:         true,
	}
}
