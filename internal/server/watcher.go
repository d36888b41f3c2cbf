package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/joseph-ayodele/paperless-ai/internal/async"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/pipeline"
	"github.com/joseph-ayodele/paperless-ai/internal/settings"
)

// HealthService is the service name reported next to the overall ("") status.
const HealthService = "paperless-ai"

// BulkRunner is the part of the processor the watcher drives.
type BulkRunner interface {
	BulkProcess(ctx context.Context, req pipeline.BulkRequest, progress chan<- pipeline.Progress) (pipeline.Tally, error)
}

// PipelineFactory builds a runner from the current settings.
type PipelineFactory func(ctx context.Context) (BulkRunner, settings.Settings, error)

// FactoryFor adapts Services to a PipelineFactory.
func FactoryFor(s *Services) PipelineFactory {
	return func(ctx context.Context) (BulkRunner, settings.Settings, error) {
		p, st, err := s.Pipeline(ctx)
		if err != nil {
			return nil, st, err
		}
		return p, st, nil
	}
}

type WatchConfig struct {
	Interval   time.Duration // default 5m
	RunTimeout time.Duration // default 30m
}

// Watcher processes documents carrying default_tag_id on a fixed interval.
// Settings are reloaded for every run so changes apply without a restart.
type Watcher struct {
	cfg     WatchConfig
	factory PipelineFactory
	health  *health.Server
	logger  *slog.Logger
}

func NewWatcher(cfg WatchConfig, factory PipelineFactory, hs *health.Server, logger *slog.Logger) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 30 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{cfg: cfg, factory: factory, health: hs, logger: logger}
}

// Run ticks until ctx is cancelled, then cancels the in-flight run, waits for
// it and reports NOT_SERVING.
func (w *Watcher) Run(ctx context.Context) {
	queue := async.NewProcessorQueue(ctx, w.runOnce, w.logger,
		async.WithWorkers(1),
		async.WithQueueSize(1),
		async.WithProcessTimeout(w.cfg.RunTimeout),
	)
	w.setServing(true)
	w.logger.Info("watch.start", "interval", w.cfg.Interval.String())

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()
	w.tick(ctx, queue)
	for {
		select {
		case <-ctx.Done():
			w.health.Shutdown()
			w.logger.Info("watch.stop")
			queue.Shutdown(context.Background())
			return
		case <-ticker.C:
			w.tick(ctx, queue)
		}
	}
}

func (w *Watcher) tick(ctx context.Context, q async.Queue) {
	job := async.Job{SubmittedAt: time.Now(), TraceID: uuid.New().String()}
	if err := q.Enqueue(ctx, job); errors.Is(err, async.ErrQueueFull) {
		w.logger.Info("watch.tick.skipped", "reason", "previous run still active")
	}
}

// runOnce performs one watch cycle.
func (w *Watcher) runOnce(ctx context.Context, job async.Job) (pipeline.Tally, error) {
	ctx = common.WithRequestID(ctx, job.TraceID)
	runner, st, err := w.factory(ctx)
	if err != nil {
		if common.IsConfigurationError(err) {
			w.setServing(false)
		}
		gs, _ := status.FromError(common.GRPCStatus(err))
		w.logger.Error("watch.run.unavailable", "code", gs.Code().String(), "error", err)
		return pipeline.Tally{}, err
	}
	if st.DefaultTagID == nil {
		w.setServing(false)
		err := common.NewConfigurationError(settings.KeyDefaultTagID, "is required for watching")
		w.logger.Error("watch.run.unavailable", "code", "FailedPrecondition", "error", err)
		return pipeline.Tally{}, err
	}
	w.setServing(true)

	return runner.BulkProcess(ctx, pipeline.BulkRequest{
		TagID:         st.DefaultTagID,
		AutoApply:     st.AutoUpdateMetadata,
		SkipApplied:   true,
		SkipCompleted: !st.AutoUpdateMetadata,
	}, nil)
}

func (w *Watcher) setServing(ok bool) {
	s := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		s = healthpb.HealthCheckResponse_SERVING
	}
	w.health.SetServingStatus("", s)
	w.health.SetServingStatus(HealthService, s)
}
