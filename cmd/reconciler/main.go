package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/wolfman30/wa-autoreply/cmd/mainconfig"
	appconfig "github.com/wolfman30/wa-autoreply/internal/config"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

func main() {
	once := flag.Bool("once", false, "run a single sweep and exit")
	flag.Parse()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := mainconfig.OpenRuntime(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("failed to start runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	reconciler := rt.Pipeline.Reconciler
	if *once {
		summary, err := reconciler.RunOnce(ctx)
		if err != nil {
			logger.Error("reconcile sweep failed", "error", err)
			rt.Close()
			os.Exit(1)
		}
		logger.Info("reconcile sweep complete",
			"scanned", summary.Scanned,
			"recorded", summary.Recorded,
			"failed", summary.Failed,
		)
		return
	}

	logger.Info("reconciler started", "interval", cfg.ReconcilerInterval)
	reconciler.Run(ctx)
	logger.Info("reconciler stopped")
}
