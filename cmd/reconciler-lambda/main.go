package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/wa-autoreply/cmd/mainconfig"
	appconfig "github.com/wolfman30/wa-autoreply/internal/config"
	"github.com/wolfman30/wa-autoreply/internal/pipeline"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

type sweeper interface {
	RunOnce(ctx context.Context) (pipeline.Summary, error)
}

type response struct {
	Scanned   int `json:"scanned"`
	Recorded  int `json:"recorded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	rt, err := mainconfig.OpenRuntime(context.Background(), cfg, logger, nil)
	if err != nil {
		logger.Error("failed to start runtime", "error", err)
		panic(err)
	}
	defer rt.Close()

	lambda.Start(func(ctx context.Context, evt events.CloudWatchEvent) (response, error) {
		return handle(ctx, rt.Pipeline.Reconciler, logger, evt)
	})
}

// handle runs one sweep per scheduled invocation.
func handle(ctx context.Context, s sweeper, logger *logging.Logger, evt events.CloudWatchEvent) (response, error) {
	summary, err := s.RunOnce(ctx)
	if err != nil {
		return response{}, fmt.Errorf("reconcile: %w", err)
	}
	logger.Info("scheduled reconcile complete",
		"event_id", evt.ID,
		"scanned", summary.Scanned,
		"recorded", summary.Recorded,
		"failed", summary.Failed,
		"abandoned", summary.Abandoned,
	)
	return response{
		Scanned:   summary.Scanned,
		Recorded:  summary.Recorded,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
		Abandoned: summary.Abandoned,
	}, nil
}
