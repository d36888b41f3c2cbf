package entity

import (
	"encoding/json"
	"time"

	"github.com/joseph-ayodele/paperless-ai/constants"
)

// ProcessingHistoryEntry represents one processing attempt for data transfer between layers.
type ProcessingHistoryEntry struct {
	ID              int64                   `json:"id"`
	DocumentID      int                     `json:"document_id"`
	DocumentTitle   string                  `json:"document_title"`
	TagID           *int                    `json:"tag_id,omitempty"`
	Status          constants.HistoryStatus `json:"status"`
	TextSource      string                  `json:"text_source,omitempty"`
	ModelResponse   json.RawMessage         `json:"model_response,omitempty"`
	ErrorMessage    *string                 `json:"error_message,omitempty"`
	MetadataApplied bool                    `json:"metadata_applied"`
	TokenUsage      int                     `json:"token_usage"`
	ProcessedAt     *time.Time              `json:"processed_at,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
}
