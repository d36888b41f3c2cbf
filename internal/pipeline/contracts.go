package pipeline

import (
	"context"
	"encoding/json"

	"github.com/joseph-ayodele/paperless-ai/constants"
	"github.com/joseph-ayodele/paperless-ai/internal/entity"
	"github.com/joseph-ayodele/paperless-ai/internal/extract"
	"github.com/joseph-ayodele/paperless-ai/internal/llm"
	"github.com/joseph-ayodele/paperless-ai/internal/paperless"
	"github.com/joseph-ayodele/paperless-ai/internal/reconcile"
	"github.com/joseph-ayodele/paperless-ai/internal/repository"
)

// DocumentStore is the document store surface used by the processor.
type DocumentStore interface {
	reconcile.DocumentStore
	extract.Downloader
	ListDocuments(ctx context.Context, filter paperless.DocumentFilter) ([]paperless.Document, error)
}

// TextSelector produces the text (or page images) for a document.
type TextSelector interface {
	Select(ctx context.Context, doc paperless.Document, mode constants.TextMode) (extract.Result, error)
}

// Suggester turns a rendered prompt into SuggestedMetadata.
type Suggester interface {
	Suggest(ctx context.Context, in llm.Invocation) (llm.Result, error)
}

// HistoryRecorder persists processing attempts.
type HistoryRecorder interface {
	Start(ctx context.Context, documentID int, title string, tagID *int) (int64, error)
	MarkProcessing(ctx context.Context, id int64) error
	Complete(ctx context.Context, id int64, p repository.CompleteParams) error
	Fail(ctx context.Context, id int64, message string) error
	MarkCancelled(ctx context.Context, id int64) error
	MarkApplied(ctx context.Context, id int64) error
	Latest(ctx context.Context, documentID int) (*entity.ProcessingHistoryEntry, error)
}

// PromptSource returns stored prompt configurations.
type PromptSource interface {
	Active(ctx context.Context) (*entity.PromptTemplate, error)
	GetByName(ctx context.Context, name string) (*entity.PromptTemplate, error)
}

// Notifier receives bulk progress events.
type Notifier interface {
	Publish(ctx context.Context, p Progress) error
}

// ProcessRequest asks for suggestions for one document.
type ProcessRequest struct {
	DocumentID int
	Mode       constants.TextMode
	TagID      *int // tag the document was selected by, recorded in history
	AutoApply  bool
	ApplyOptions
}

// ApplyOptions is the field selection and tag policy used when applying.
type ApplyOptions struct {
	Fields            []llm.Field // nil = every suggested field
	ClearExistingTags bool
	ProcessingTagID   *int
}

// ExtractionInfo describes where the prompt text came from.
type ExtractionInfo struct {
	Source         constants.TextSource `json:"source"`
	SourceInfo     string               `json:"source_info"`
	CharLength     int                  `json:"char_length"`
	OriginalLength int                  `json:"original_length"`
	Truncated      bool                 `json:"truncated"`
	Preview        string               `json:"preview"` // first display_text_length characters
	Attempts       []extract.Attempt    `json:"attempts,omitempty"`
}

// ProcessResult is returned to the caller for review.
type ProcessResult struct {
	HistoryID  int64                 `json:"history_id"`
	DocumentID int                   `json:"document_id"`
	Title      string                `json:"document_title"`
	Extraction ExtractionInfo        `json:"extraction"`
	Metadata   llm.SuggestedMetadata `json:"suggested_metadata"`
	TokenUsage int                   `json:"token_usage"`
	Model      string                `json:"model,omitempty"`
	Dropped    []string              `json:"dropped_fields,omitempty"`
	Applied    *reconcile.Outcome    `json:"-"`

	ModelResponse json.RawMessage `json:"-"` // normalized suggestion stored in history
}

// ApplyRequest writes caller-confirmed metadata to the store.
type ApplyRequest struct {
	DocumentID int
	Metadata   llm.SuggestedMetadata
	HistoryID  *int64 // nil = latest completed attempt for the document
	ApplyOptions
}

// BulkRequest processes documents given by id, or every document carrying TagID.
type BulkRequest struct {
	DocumentIDs []int
	TagID       *int
	Mode        constants.TextMode
	AutoApply   bool
	SkipApplied bool // skip documents whose latest attempt was already applied
	// SkipCompleted skips documents whose latest attempt completed, applied
	// or not. Implies SkipApplied.
	SkipCompleted bool
	ApplyOptions
}

// Progress status values.
const (
	ProgressCompleted = "completed"
	ProgressFailed    = "failed"
	ProgressSkipped   = "skipped"
	ProgressCancelled = "cancelled"
)

// Progress is emitted once per document of a bulk run.
type Progress struct {
	RunID      string `json:"run_id"`
	DocumentID int    `json:"document_id"`
	Index      int    `json:"index"`
	Total      int    `json:"total"`
	Processed  int    `json:"processed"`
	Succeeded  int    `json:"succeeded"`
	Failed     int    `json:"failed"`
	Skipped    int    `json:"skipped"`
	Status     string `json:"status"`
	Category   string `json:"category,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Tally is the final count of a bulk run. Processed counts attempted
// documents that reached a terminal outcome; a document interrupted by
// cancellation is in neither Processed nor Failed.
type Tally struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Processed int    `json:"processed"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
	Cancelled bool   `json:"cancelled"`
}
