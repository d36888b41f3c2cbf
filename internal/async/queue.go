package async

import (
	"context"
	"errors"
	"time"

	"github.com/joseph-ayodele/paperless-ai/internal/pipeline"
)

var (
	ErrQueueFull   = errors.New("queue full")
	ErrQueueClosed = errors.New("queue is shutting down")
)

// Job is one bulk run waiting for a worker.
type Job struct {
	Request     pipeline.BulkRequest
	SubmittedAt time.Time
	TraceID     string
}

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Shutdown(ctx context.Context)
}
