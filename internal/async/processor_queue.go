package async

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"github.com/joseph-ayodele/paperless-ai/internal/pipeline"
)

// Handler executes one job.
type Handler func(ctx context.Context, job Job) (pipeline.Tally, error)

// ProcessorQueue runs jobs on a fixed set of workers. Enqueue never blocks;
// a full queue rejects the job with ErrQueueFull.
type ProcessorQueue struct {
	base    context.Context
	handle  Handler
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}
func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}
func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewProcessorQueue starts the workers. Cancelling base aborts running jobs.
func NewProcessorQueue(base context.Context, handle Handler, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		base:    base,
		handle:  handle,
		logger:  logger,
		workers: 1,
		timeout: 30 * time.Minute,
		ch:      make(chan Job, 1),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					if q.base.Err() != nil {
						q.logger.Warn("dropping job after cancellation", "worker_id", workerID, "trace_id", job.TraceID)
						continue
					}
					ctx, cancel := context.WithTimeout(q.base, q.timeout)
					tally, err := q.handle(ctx, job)
					cancel()

					if err != nil {
						q.logger.Error("job failed", "worker_id", workerID, "trace_id", job.TraceID, "run_id", tally.RunID, "error", err)
					} else {
						q.logger.Info("job finished", "worker_id", workerID, "trace_id", job.TraceID, "run_id", tally.RunID,
							"processed", tally.Processed, "failed", tally.Failed, "skipped", tally.Skipped,
							"wait_ms", time.Since(job.SubmittedAt).Milliseconds())
					}
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.logger.Warn("cannot enqueue: queue is shutting down", "trace_id", job.TraceID)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Info("queued job", "trace_id", job.TraceID)
		return nil
	default:
		q.logger.Warn("queue full, job rejected", "trace_id", job.TraceID)
		return ErrQueueFull
	}
}

func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context")
	case <-done:
		q.logger.Info("queue drained, shutdown complete")
	}
}
