package bootstrap

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"

	appconfig "github.com/wolfman30/wa-autoreply/internal/config"
	"github.com/wolfman30/wa-autoreply/internal/llm"
	"github.com/wolfman30/wa-autoreply/internal/pipeline"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

func TestBuildRedisClientDisabledWithoutAddr(t *testing.T) {
	if client := BuildRedisClient(context.Background(), &appconfig.Config{}, logging.New("error"), true); client != nil {
		t.Fatalf("expected nil client without REDIS_ADDR")
	}
}

func TestBuildPostgresPoolRequiresURL(t *testing.T) {
	if _, err := BuildPostgresPool(context.Background(), &appconfig.Config{}); err == nil {
		t.Fatalf("expected error without DATABASE_URL")
	}
}

func TestBuildPipelineRequiresDatabase(t *testing.T) {
	if _, err := BuildPipeline(context.Background(), Deps{}); err == nil {
		t.Fatalf("expected error for nil config")
	}
	if _, err := BuildPipeline(context.Background(), Deps{Config: &appconfig.Config{}}); err == nil {
		t.Fatalf("expected error without a database")
	}
}

func TestBuildDispatcherNeedsFallbackClient(t *testing.T) {
	cfg := &appconfig.Config{DefaultProvider: "openai", DefaultModel: "gpt-4o-mini", GroqAPIKey: "gsk-test"}

	if _, _, err := BuildDispatcher(context.Background(), cfg, nil, logging.New("error")); err == nil {
		t.Fatalf("expected error when the default provider has no key")
	}
}

func TestBuildDispatcherRegistersConfiguredProviders(t *testing.T) {
	cfg := &appconfig.Config{
		DefaultProvider: "openai",
		DefaultModel:    "gpt-4o-mini",
		OpenAIAPIKey:    "sk-test",
		GrokAPIKey:      "xai-test",
		BedrockModelID:  "anthropic.claude-3-haiku-20240307-v1:0",
	}

	dispatcher, cleanup, err := BuildDispatcher(context.Background(), cfg, nil, logging.New("error"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer cleanup()

	got := dispatcher.Providers()
	if len(got) != 2 || got[0] != llm.ProviderOpenAI || got[1] != llm.ProviderGrok {
		t.Fatalf("expected openai and grok only, got %v", got)
	}
}

func TestBuildDispatcherRejectsUnknownDefault(t *testing.T) {
	cfg := &appconfig.Config{DefaultProvider: "mistral", OpenAIAPIKey: "sk-test"}
	if _, _, err := BuildDispatcher(context.Background(), cfg, nil, logging.New("error")); err == nil {
		t.Fatalf("expected error for unknown default provider")
	}
}

func TestBuildQueue(t *testing.T) {
	q, closeQueue, err := BuildQueue(&appconfig.Config{QueueBackend: "memory", QueueBuffer: 4}, nil)
	if err != nil {
		t.Fatalf("memory queue: %v", err)
	}
	if _, ok := q.(*pipeline.MemoryQueue); !ok {
		t.Fatalf("expected MemoryQueue, got %T", q)
	}
	closeQueue()

	if _, _, err := BuildQueue(&appconfig.Config{QueueBackend: "sqs", PipelineQueueURL: "http://localhost/q"}, nil); err == nil {
		t.Fatalf("expected sqs to require AWS config")
	}
	if _, _, err := BuildQueue(&appconfig.Config{QueueBackend: "sqs"}, &aws.Config{Region: "us-east-1"}); err == nil {
		t.Fatalf("expected sqs to require a queue url")
	}
	if _, _, err := BuildQueue(&appconfig.Config{QueueBackend: "kafka"}, nil); err == nil {
		t.Fatalf("expected unsupported backend error")
	}

	q, _, err = BuildQueue(&appconfig.Config{QueueBackend: "sqs", PipelineQueueURL: "http://localhost/q"}, &aws.Config{Region: "us-east-1"})
	if err != nil {
		t.Fatalf("sqs queue: %v", err)
	}
	if _, ok := q.(*pipeline.SQSQueue); !ok {
		t.Fatalf("expected SQSQueue, got %T", q)
	}
}

func TestBuildAlerter(t *testing.T) {
	logger := logging.New("error")

	if a := BuildAlerter(&appconfig.Config{}, nil, logger); a != nil {
		t.Fatalf("expected nil alerter without recipients")
	}

	cfg := &appconfig.Config{
		AlertEmailTo:       "ops@example.com",
		AlertEmailFrom:     "alerts@example.com",
		AlertEmailProvider: "sendgrid",
	}
	if a := BuildAlerter(cfg, nil, logger); a != nil {
		t.Fatalf("expected nil alerter without a sendgrid key")
	}
	cfg.SendGridAPIKey = "SG.test"
	if a := BuildAlerter(cfg, nil, logger); a == nil {
		t.Fatalf("expected sendgrid alerter")
	}

	cfg.AlertEmailProvider = "ses"
	if a := BuildAlerter(cfg, nil, logger); a != nil {
		t.Fatalf("expected nil ses alerter without AWS config")
	}
	if a := BuildAlerter(cfg, &aws.Config{Region: "us-east-1"}, logger); a == nil {
		t.Fatalf("expected ses alerter")
	}

	cfg.AlertEmailProvider = "log"
	if a := BuildAlerter(cfg, nil, logger); a == nil {
		t.Fatalf("expected log alerter")
	}
}
