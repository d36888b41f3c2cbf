package constants

// HistoryStatus is the canonical status for rows in processing_history.
type HistoryStatus string

// Stable values (store these exact strings in DB).
const (
	HistoryStatusPending    HistoryStatus = "pending"    // row reserved, nothing started
	HistoryStatusProcessing HistoryStatus = "processing" // extraction / model call in progress
	HistoryStatusCompleted  HistoryStatus = "completed"  // terminal success
	HistoryStatusFailed     HistoryStatus = "failed"     // terminal failure
)

// IsTerminal reports whether no further transition is allowed.
func (s HistoryStatus) IsTerminal() bool {
	return s == HistoryStatusCompleted || s == HistoryStatusFailed
}

// APIService identifies the remote party of an api_logs row.
type APIService string

const (
	ServiceDocumentStore APIService = "document_store"
	ServiceModelAPI      APIService = "model_api"
)
