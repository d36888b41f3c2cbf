package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"google.golang.org/grpc/health"

	"github.com/joseph-ayodele/paperless-ai/internal/common"
	"github.com/joseph-ayodele/paperless-ai/internal/server"
)

func main() {
	_ = godotenv.Load()
	cfg := common.LoadConfig()
	logger := common.NewLogger(cfg.Log)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := server.ConnectDB(ctx, cfg.Database, logger)
	if err != nil {
		os.Exit(1)
	}
	svc := server.NewServices(cfg, db, logger)
	defer svc.Close()

	if err := server.PingDB(ctx, db, logger, 5*time.Second); err != nil {
		os.Exit(1)
	}

	hs := health.NewServer()
	grpcServer := server.NewGRPCServer(hs)
	watcher := server.NewWatcher(server.WatchConfig{Interval: cfg.Daemon.WatchInterval}, server.FactoryFor(svc), hs, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		watcher.Run(ctx)
	}()

	logger.Info("paperless-aid listening", "addr", cfg.Daemon.GRPCAddr)
	if err := server.Serve(ctx, cfg.Daemon.GRPCAddr, grpcServer, logger); err != nil {
		stop()
		wg.Wait()
		os.Exit(1)
	}
	wg.Wait()
	logger.Info("paperless-aid stopped")
}
