package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/wa-autoreply/cmd/mainconfig"
	"github.com/wolfman30/wa-autoreply/internal/api/router"
	"github.com/wolfman30/wa-autoreply/internal/app/bootstrap"
	appconfig "github.com/wolfman30/wa-autoreply/internal/config"
	"github.com/wolfman30/wa-autoreply/internal/http/handlers"
	"github.com/wolfman30/wa-autoreply/internal/observability/metrics"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger.Info("starting wa-autoreply API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"queue_backend", cfg.QueueBackend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsHandler, pipelineMetrics := setupMetrics()
	rt, err := mainconfig.OpenRuntime(ctx, cfg, logger, pipelineMetrics)
	if err != nil {
		logger.Error("failed to start runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()
	p := rt.Pipeline

	// Workers run in-process; with the memory queue they are the only consumers.
	p.Worker.Start(ctx)
	if cfg.ReconcilerEnabled {
		go p.Reconciler.Run(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, logger, p, pipelineMetrics, metricsHandler),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	// Stop accepting jobs, then let in-flight replies finish.
	cancel()
	waitCh := make(chan struct{})
	go func() {
		p.Worker.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-shutdownCtx.Done():
		logger.Error("worker shutdown timed out", "error", shutdownCtx.Err())
	}

	logger.Info("server stopped")
}

func setupMetrics() (http.Handler, *metrics.PipelineMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewPipelineMetrics(reg)
}

func newRouter(cfg *appconfig.Config, logger *logging.Logger, p *bootstrap.Pipeline, m *metrics.PipelineMetrics, metricsHandler http.Handler) http.Handler {
	webhookCfg := handlers.WhatsAppWebhookConfig{
		Instances:     p.Instances,
		Ingestor:      p.Orchestrator,
		Jobs:          p.Publisher,
		Conversations: p.Conversations,
		Audit:         p.Audit,
		VerifyToken:   cfg.WhatsAppVerifyToken,
		AppSecret:     cfg.WhatsAppAppSecret,
		Metrics:       m,
		Logger:        logger,
	}
	if p.Archive.Enabled() {
		webhookCfg.Archive = p.Archive
	}

	var checker handlers.ConnectionChecker
	if p.Channel != nil {
		checker = p.Channel
	}

	return router.New(&router.Config{
		Logger:           logger,
		Webhook:          handlers.NewWhatsAppWebhookHandler(webhookCfg),
		InstanceStatus:   handlers.NewInstanceStatusHandler(p.Instances, checker, logger),
		MetricsHandler:   metricsHandler,
		WebhookRateLimit: cfg.WebhookRateLimit,
		WebhookRateBurst: cfg.WebhookRateBurst,
	})
}
