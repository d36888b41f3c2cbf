package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joseph-ayodele/paperless-ai/internal/async"
	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/pipeline"
	"github.com/joseph-ayodele/paperless-ai/internal/settings"
)

type fakeRunner struct {
	mu    sync.Mutex
	reqs  []pipeline.BulkRequest
	onRun func()
}

func (f *fakeRunner) BulkProcess(_ context.Context, req pipeline.BulkRequest, _ chan<- pipeline.Progress) (pipeline.Tally, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.onRun != nil {
		f.onRun()
	}
	return pipeline.Tally{RunID: "run"}, nil
}

func servingStatus(t *testing.T, hs *health.Server) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := hs.Check(context.Background(), &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	return resp.GetStatus()
}

func asyncJob(id string) async.Job { return async.Job{TraceID: id, SubmittedAt: time.Now()} }

func factory(r BulkRunner, st settings.Settings, err error) PipelineFactory {
	return func(context.Context) (BulkRunner, settings.Settings, error) { return r, st, err }
}

func TestWatcherRunOnceProcessesDefaultTag(t *testing.T) {
	tag := 9
	runner := &fakeRunner{}
	hs := health.NewServer()
	w := NewWatcher(WatchConfig{}, factory(runner, settings.Settings{DefaultTagID: &tag, AutoUpdateMetadata: true}, nil), hs, nil)

	if _, err := w.runOnce(context.Background(), asyncJob("t1")); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	want := []pipeline.BulkRequest{{TagID: &tag, AutoApply: true, SkipApplied: true}}
	if diff := cmp.Diff(want, runner.reqs); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
	if got := servingStatus(t, hs); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", got)
	}
}

func TestWatcherWithoutAutoUpdateSkipsCompletedDocuments(t *testing.T) {
	tag := 9
	runner := &fakeRunner{}
	w := NewWatcher(WatchConfig{}, factory(runner, settings.Settings{DefaultTagID: &tag}, nil), health.NewServer(), nil)

	if _, err := w.runOnce(context.Background(), asyncJob("t1")); err != nil {
		t.Fatalf("runOnce: %v", err)
	}
	want := []pipeline.BulkRequest{{TagID: &tag, SkipApplied: true, SkipCompleted: true}}
	if diff := cmp.Diff(want, runner.reqs); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestWatcherReportsConfigurationProblems(t *testing.T) {
	cases := map[string]PipelineFactory{
		"missing credentials": factory(nil, settings.Settings{}, common.NewConfigurationError(settings.KeyPaperlessToken, "is required")),
		"missing default tag": factory(&fakeRunner{}, settings.Settings{}, nil),
	}
	for name, f := range cases {
		t.Run(name, func(t *testing.T) {
			hs := health.NewServer()
			w := NewWatcher(WatchConfig{}, f, hs, nil)
			_, err := w.runOnce(context.Background(), asyncJob("t"))
			if !common.IsConfigurationError(err) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if got := servingStatus(t, hs); got != healthpb.HealthCheckResponse_NOT_SERVING {
				t.Fatalf("expected NOT_SERVING, got %v", got)
			}
		})
	}
}

func TestWatcherRunStopsAndReportsNotServing(t *testing.T) {
	tag := 3
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &fakeRunner{onRun: cancel}
	hs := health.NewServer()
	w := NewWatcher(WatchConfig{Interval: time.Hour}, factory(runner, settings.Settings{DefaultTagID: &tag}, nil), hs, nil)

	done := make(chan struct{})
	go func() { w.Run(ctx); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
	if len(runner.reqs) != 1 {
		t.Fatalf("expected the initial run, got %d", len(runner.reqs))
	}
	if got := servingStatus(t, hs); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING after shutdown, got %v", got)
	}
}

func TestServeExposesHealth(t *testing.T) {
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_SERVING)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serveListener(ctx, lis, NewGRPCServer(hs), slog.Default()) }()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	cctx, ccancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer ccancel()
	resp, err := healthpb.NewHealthClient(conn).Check(cctx, &healthpb.HealthCheckRequest{Service: HealthService})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %v", resp.GetStatus())
	}

	cancel()
	if err := <-served; err != nil {
		t.Fatalf("serve: %v", err)
	}
}

func TestServicesPipelineRequiresSettings(t *testing.T) {
	ctx := context.Background()
	cfg := &common.Config{Database: common.DatabaseConfig{Driver: "sqlite", DSN: "file::memory:"}}
	db, err := ConnectDB(ctx, cfg.Database, slog.Default())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	svc := NewServices(cfg, db, slog.Default())
	defer svc.Close()

	if err := PingDB(ctx, db, slog.Default(), time.Second); err != nil {
		t.Fatalf("ping: %v", err)
	}
	_, _, err = svc.Pipeline(ctx)
	var ce *common.ConfigurationError
	if !errors.As(err, &ce) || ce.Key != settings.KeyPaperlessURL {
		t.Fatalf("expected missing paperless_url, got %v", err)
	}

	for k, v := range map[string]string{
		settings.KeyPaperlessURL:   "http://paperless.local",
		settings.KeyPaperlessToken: "token",
		settings.KeyOpenAIAPIKey:   "sk-test",
		settings.KeyMaxTextLength:  "5000",
	} {
		if err := svc.Settings.Set(ctx, k, v); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}
	proc, st, err := svc.Pipeline(ctx)
	if err != nil || proc == nil {
		t.Fatalf("pipeline: %v", err)
	}
	if st.MaxTextLength != 5000 {
		t.Fatalf("settings not applied: %+v", st)
	}
}
