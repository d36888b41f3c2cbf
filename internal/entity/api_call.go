package entity

import (
	"time"

	"github.com/joseph-ayodele/paperless-ai/constants"
)

// APICallLog is one outbound network call. Rows are append-only.
type APICallLog struct {
	ID           int64                `json:"id"`
	Service      constants.APIService `json:"service"`
	Endpoint     string               `json:"endpoint"`
	Method       string               `json:"method"`
	StatusCode   *int                 `json:"status_code,omitempty"`
	RequestData  string               `json:"request_data,omitempty"`
	ResponseData string               `json:"response_data,omitempty"`
	ErrorMessage *string              `json:"error_message,omitempty"`
	DurationMS   int64                `json:"duration_ms"`
	CreatedAt    time.Time            `json:"created_at"`
}
