package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/wa-autoreply/cmd/mainconfig"
	appconfig "github.com/wolfman30/wa-autoreply/internal/config"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.QueueBackend == "memory" || cfg.QueueBackend == "" {
		logger.Error("pipeline worker needs a shared queue; set QUEUE_BACKEND to sqs or amqp")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := mainconfig.OpenRuntime(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("failed to start runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	worker := rt.Pipeline.Worker
	worker.Start(ctx)
	logger.Info("pipeline worker started", "queue_backend", cfg.QueueBackend, "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down pipeline worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("pipeline worker stopped")
	case <-doneCtx.Done():
		logger.Error("pipeline worker shutdown timed out", "error", doneCtx.Err())
	}
}
