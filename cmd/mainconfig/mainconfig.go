package mainconfig

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/wa-autoreply/internal/app/bootstrap"
	appconfig "github.com/wolfman30/wa-autoreply/internal/config"
	"github.com/wolfman30/wa-autoreply/internal/observability/metrics"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// localServices are redirected to AWS_ENDPOINT_OVERRIDE (LocalStack).
var localServices = map[string]bool{
	sqs.ServiceID:      true,
	dynamodb.ServiceID: true,
	s3.ServiceID:       true,
	sesv2.ServiceID:    true,
}

// LoadAWSConfig centralizes AWS SDK initialization so every binary shares the
// same LocalStack/production wiring.
func LoadAWSConfig(ctx context.Context, cfg *appconfig.Config) (aws.Config, error) {
	loaders := []func(*config.LoadOptions) error{config.WithRegion(cfg.AWSRegion)}
	if strings.TrimSpace(cfg.AWSAccessKeyID) != "" && strings.TrimSpace(cfg.AWSSecretAccessKey) != "" {
		loaders = append(loaders, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loaders...)
	if err != nil {
		return aws.Config{}, err
	}

	if endpoint := cfg.AWSEndpointOverride; endpoint != "" {
		awsCfg.EndpointResolverWithOptions = aws.EndpointResolverWithOptionsFunc(
			func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
				if !localServices[service] {
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				}
				return aws.Endpoint{
					URL:               endpoint,
					PartitionID:       "aws",
					SigningRegion:     cfg.AWSRegion,
					HostnameImmutable: service == s3.ServiceID,
				}, nil
			},
		)
	}

	return awsCfg, nil
}

// Runtime is the shared process wiring: database, Redis, AWS and the pipeline.
type Runtime struct {
	Pipeline *bootstrap.Pipeline
	close    []func()
}

// Close tears the runtime down in reverse order.
func (r *Runtime) Close() {
	for i := len(r.close) - 1; i >= 0; i-- {
		r.close[i]()
	}
	r.close = nil
}

// OpenRuntime connects Postgres, Redis and AWS and builds the pipeline.
func OpenRuntime(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, m *metrics.PipelineMetrics) (*Runtime, error) {
	rt := &Runtime{}
	fail := func(err error) (*Runtime, error) {
		rt.Close()
		return nil, err
	}

	awsCfg, err := LoadAWSConfig(ctx, cfg)
	if err != nil {
		return fail(fmt.Errorf("load aws config: %w", err))
	}

	pool, err := bootstrap.BuildPostgresPool(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	rt.close = append(rt.close, pool.Close)
	db := bootstrap.SQLDB(pool)
	rt.close = append(rt.close, func() { _ = db.Close() })

	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		rt.close = append(rt.close, func() { _ = redisClient.Close() })
	}

	p, err := bootstrap.BuildPipeline(ctx, bootstrap.Deps{
		Config:  cfg,
		Logger:  logger,
		Pool:    pool,
		DB:      db,
		Redis:   redisClient,
		AWS:     &awsCfg,
		Metrics: m,
	})
	if err != nil {
		return fail(err)
	}
	rt.Pipeline = p
	rt.close = append(rt.close, p.Close)
	return rt, nil
}
