package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/wa-autoreply/internal/aiconfig"
	"github.com/wolfman30/wa-autoreply/internal/archive"
	"github.com/wolfman30/wa-autoreply/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/wa-autoreply/internal/config"
	"github.com/wolfman30/wa-autoreply/internal/conversation"
	"github.com/wolfman30/wa-autoreply/internal/instance"
	"github.com/wolfman30/wa-autoreply/internal/notify"
	"github.com/wolfman30/wa-autoreply/internal/observability/metrics"
	"github.com/wolfman30/wa-autoreply/internal/pipeline"
	"github.com/wolfman30/wa-autoreply/internal/processinglog"
	"github.com/wolfman30/wa-autoreply/internal/prompt"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// Deps are the shared clients a pipeline is built from. AWS is optional;
// without it the SQS queue, Bedrock, SES, DynamoDB and S3 integrations are
// unavailable.
type Deps struct {
	Config  *appconfig.Config
	Logger  *logging.Logger
	Pool    *pgxpool.Pool
	DB      *sql.DB
	Redis   *redis.Client
	AWS     *aws.Config
	Metrics *metrics.PipelineMetrics
}

// Pipeline is everything a binary needs to accept, process and reconcile
// messages.
type Pipeline struct {
	Instances     *instance.CachedRepository
	Conversations *conversation.Store
	Audit         *processinglog.Store
	Channel       *whatsapp.Client
	Orchestrator  *pipeline.Orchestrator
	Queue         pipeline.Queue
	Publisher     *pipeline.Publisher
	Worker        *pipeline.Worker
	Reconciler    *pipeline.Reconciler
	Archive       *archive.Store

	closers []func()
}

// Close releases queue and provider connections. The pool, DB and Redis
// clients belong to the caller.
func (p *Pipeline) Close() {
	if p == nil {
		return
	}
	for i := len(p.closers) - 1; i >= 0; i-- {
		p.closers[i]()
	}
	p.closers = nil
}

// BuildPipeline wires stores, the LLM dispatcher, the channel client and the
// queue into an orchestrator with its worker pool and reconciler.
func BuildPipeline(ctx context.Context, deps Deps) (*Pipeline, error) {
	cfg := deps.Config
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if deps.Pool == nil || deps.DB == nil {
		return nil, errors.New("bootstrap: database is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.Default()
	}

	p := &Pipeline{
		Instances:     instance.NewCachedRepository(instance.NewStore(deps.Pool), cfg.ConfigCacheTTL),
		Conversations: conversation.NewStore(deps.Pool),
		Audit:         processinglog.NewStore(deps.DB),
	}
	fail := func(err error) (*Pipeline, error) {
		p.Close()
		return nil, err
	}

	channel, err := whatsapp.New(whatsapp.Config{
		BaseURL:     cfg.WhatsAppGraphBaseURL,
		AccessToken: cfg.WhatsAppAccessToken,
		Timeout:     cfg.WhatsAppSendTimeout,
		MaxRetries:  cfg.WhatsAppStatusRetries,
		Logger:      logger,
	})
	if err != nil {
		return fail(fmt.Errorf("bootstrap: whatsapp client: %w", err))
	}
	p.Channel = channel

	var bedrock *bedrockruntime.Client
	if deps.AWS != nil && strings.TrimSpace(cfg.BedrockModelID) != "" {
		bedrock = bedrockruntime.NewFromConfig(*deps.AWS)
	}
	dispatcher, closeDispatcher, err := BuildDispatcher(ctx, cfg, bedrock, logger)
	if err != nil {
		return fail(err)
	}
	p.closers = append(p.closers, closeDispatcher)

	queue, closeQueue, err := BuildQueue(cfg, deps.AWS)
	if err != nil {
		return fail(err)
	}
	p.Queue = queue
	p.closers = append(p.closers, closeQueue)
	p.Publisher = pipeline.NewPublisher(queue, logger)

	resolver := aiconfig.NewCachedResolver(
		aiconfig.NewStore(deps.Pool).WithDefaults(cfg.DefaultProvider, cfg.DefaultModel),
		deps.Redis, cfg.ConfigCacheTTL, logger,
	)

	opts := []pipeline.Option{
		pipeline.WithLogger(logger),
		pipeline.WithMetrics(deps.Metrics),
		pipeline.WithGenerationTimeout(cfg.GenerationTimeout),
		pipeline.WithDeliveryTimeout(cfg.DeliveryTimeout),
	}
	if deps.Redis != nil {
		opts = append(opts, pipeline.WithLocker(pipeline.NewRedisLocker(deps.Redis, cfg.ConversationLockTTL).WithLogger(logger)))
	}
	if deps.AWS != nil && strings.TrimSpace(cfg.PipelineJobsTable) != "" {
		opts = append(opts, pipeline.WithRunRecorder(pipeline.NewRunStore(dynamodb.NewFromConfig(*deps.AWS), cfg.PipelineJobsTable)))
	}
	if alerter := BuildAlerter(cfg, deps.AWS, logger); alerter != nil {
		opts = append(opts, pipeline.WithAlerter(alerter))
	}

	p.Orchestrator = pipeline.NewOrchestrator(
		p.Conversations,
		resolver,
		prompt.NewBuilder(p.Conversations),
		dispatcher,
		channel,
		p.Audit,
		opts...,
	)
	p.Worker = pipeline.NewWorker(p.Orchestrator, queue, logger, pipeline.WithWorkerCount(cfg.WorkerCount))
	p.Reconciler = pipeline.NewReconciler(p.Conversations, p.Orchestrator, logger).
		WithInterval(cfg.ReconcilerInterval).
		WithBatchSize(cfg.ReconcilerBatchSize).
		WithMaxAttempts(cfg.ReconcilerMaxAttempts).
		WithGrace(cfg.ReconcilerGrace).
		WithMetrics(deps.Metrics)

	if deps.AWS != nil && strings.TrimSpace(cfg.WebhookArchiveBucket) != "" {
		p.Archive = archive.NewStore(s3.NewFromConfig(*deps.AWS), cfg.WebhookArchiveBucket, logger.Logger)
	}
	return p, nil
}

// BuildQueue selects the job transport from QUEUE_BACKEND.
func BuildQueue(cfg *appconfig.Config, awsCfg *aws.Config) (pipeline.Queue, func(), error) {
	switch cfg.QueueBackend {
	case "", "memory":
		q := pipeline.NewMemoryQueue(cfg.QueueBuffer)
		return q, q.Close, nil
	case "sqs":
		if awsCfg == nil {
			return nil, nil, errors.New("bootstrap: sqs queue requires AWS config")
		}
		if strings.TrimSpace(cfg.PipelineQueueURL) == "" {
			return nil, nil, errors.New("bootstrap: PIPELINE_QUEUE_URL is required for sqs")
		}
		return pipeline.NewSQSQueue(sqs.NewFromConfig(*awsCfg), cfg.PipelineQueueURL), func() {}, nil
	case "amqp":
		q, err := pipeline.DialAMQPQueue(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: %w", err)
		}
		return q, func() { _ = q.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("bootstrap: unsupported QUEUE_BACKEND %q", cfg.QueueBackend)
	}
}

// BuildAlerter returns nil unless alert emails are configured and the chosen
// provider is usable.
func BuildAlerter(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) *notify.FailureAlerter {
	if cfg == nil || !cfg.AlertsEnabled() {
		return nil
	}
	var sender notify.EmailSender
	switch cfg.AlertEmailProvider {
	case "sendgrid":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{APIKey: cfg.SendGridAPIKey, FromEmail: cfg.AlertEmailFrom}, logger); sg != nil {
			sender = sg
		}
	case "log":
		sender = notify.NewLogSender(logger)
	case "ses", "":
		if awsCfg != nil {
			sender = notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{FromEmail: cfg.AlertEmailFrom}, logger)
		}
	}
	if sender == nil {
		if logger != nil {
			logger.Warn("alert email provider unavailable; failure alerts disabled", "provider", cfg.AlertEmailProvider)
		}
		return nil
	}
	return notify.NewFailureAlerter(sender, cfg.AlertEmailTo, cfg.AlertCooldown, logger)
}
