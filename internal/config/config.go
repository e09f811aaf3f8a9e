package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	// WhatsApp Cloud API
	WhatsAppGraphBaseURL  string
	WhatsAppAccessToken   string
	WhatsAppAppSecret     string
	WhatsAppVerifyToken   string
	WhatsAppSendTimeout   time.Duration
	WhatsAppStatusRetries int

	// Pipeline queue and workers
	QueueBackend     string
	PipelineQueueURL string
	AMQPURL          string
	AMQPQueue        string
	WorkerCount      int
	QueueBuffer      int

	GenerationTimeout time.Duration
	DeliveryTimeout   time.Duration

	// LLM providers
	DefaultProvider string
	DefaultModel    string
	OpenAIAPIKey    string
	GroqAPIKey      string
	GrokAPIKey      string
	GeminiAPIKey    string
	BedrockModelID  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	RedisAddr           string
	RedisPassword       string
	RedisTLS            bool
	ConfigCacheTTL      time.Duration
	ConversationLockTTL time.Duration

	ReconcilerEnabled     bool
	ReconcilerInterval    time.Duration
	ReconcilerBatchSize   int
	ReconcilerMaxAttempts int
	ReconcilerGrace       time.Duration

	PipelineJobsTable    string
	WebhookArchiveBucket string

	// Operator alerts
	AlertEmailTo       string
	AlertEmailFrom     string
	AlertEmailProvider string
	SendGridAPIKey     string
	AlertCooldown      time.Duration

	WebhookRateLimit float64
	WebhookRateBurst int
}

// Load reads configuration from environment variables. A .env file in the
// working directory is applied first when present; real env vars win.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		WhatsAppGraphBaseURL:  getEnv("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com/v20.0"),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppSendTimeout:   getEnvAsDuration("WHATSAPP_SEND_TIMEOUT", 15*time.Second),
		WhatsAppStatusRetries: getEnvAsInt("WHATSAPP_STATUS_RETRIES", 2), // status queries only; sends are never resent

		QueueBackend:     strings.ToLower(strings.TrimSpace(getEnv("QUEUE_BACKEND", "memory"))),
		PipelineQueueURL: getEnv("PIPELINE_QUEUE_URL", ""),
		AMQPURL:          getEnv("AMQP_URL", ""),
		AMQPQueue:        getEnv("AMQP_QUEUE", "autoreply.pipeline"),
		WorkerCount:      getEnvAsInt("WORKER_COUNT", 4),
		QueueBuffer:      getEnvAsInt("QUEUE_BUFFER", 256),

		GenerationTimeout: getEnvAsDuration("GENERATION_TIMEOUT", 45*time.Second),
		DeliveryTimeout:   getEnvAsDuration("DELIVERY_TIMEOUT", 20*time.Second),

		DefaultProvider: strings.ToLower(strings.TrimSpace(getEnv("DEFAULT_PROVIDER", "openai"))),
		DefaultModel:    getEnv("DEFAULT_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		GroqAPIKey:      getEnv("GROQ_API_KEY", ""),
		GrokAPIKey:      getEnv("GROK_API_KEY", ""),
		GeminiAPIKey:    getEnv("GEMINI_API_KEY", ""),
		BedrockModelID:  getEnv("BEDROCK_MODEL_ID", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		RedisAddr:           getEnv("REDIS_ADDR", ""),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),
		ConfigCacheTTL:      getEnvAsDuration("CONFIG_CACHE_TTL", 5*time.Minute),
		ConversationLockTTL: getEnvAsDuration("CONVERSATION_LOCK_TTL", 2*time.Minute),

		ReconcilerEnabled:     getEnvAsBool("RECONCILER_ENABLED", true),
		ReconcilerInterval:    getEnvAsDuration("RECONCILER_INTERVAL", time.Minute),
		ReconcilerBatchSize:   getEnvAsInt("RECONCILER_BATCH_SIZE", 10),
		ReconcilerMaxAttempts: getEnvAsInt("RECONCILER_MAX_ATTEMPTS", 3),
		ReconcilerGrace:       getEnvAsDuration("RECONCILER_GRACE", 2*time.Minute),

		PipelineJobsTable:    getEnv("PIPELINE_JOBS_TABLE", ""),
		WebhookArchiveBucket: getEnv("WEBHOOK_ARCHIVE_BUCKET", ""),

		AlertEmailTo:       getEnv("ALERT_EMAIL_TO", ""),
		AlertEmailFrom:     getEnv("ALERT_EMAIL_FROM", ""),
		AlertEmailProvider: strings.ToLower(strings.TrimSpace(getEnv("ALERT_EMAIL_PROVIDER", "ses"))), // ses, sendgrid or log
		SendGridAPIKey:     getEnv("SENDGRID_API_KEY", ""),
		AlertCooldown:      getEnvAsDuration("ALERT_COOLDOWN", 15*time.Minute),

		WebhookRateLimit: getEnvAsFloat("WEBHOOK_RATE_LIMIT", 20),
		WebhookRateBurst: getEnvAsInt("WEBHOOK_RATE_BURST", 40),
	}
}

// Validate reports the settings the API server cannot start without.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}
	var missing []string
	if strings.TrimSpace(c.DatabaseURL) == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if strings.TrimSpace(c.WhatsAppVerifyToken) == "" {
		missing = append(missing, "WHATSAPP_VERIFY_TOKEN")
	}
	switch c.QueueBackend {
	case "memory":
	case "sqs":
		if strings.TrimSpace(c.PipelineQueueURL) == "" {
			missing = append(missing, "PIPELINE_QUEUE_URL")
		}
	case "amqp":
		if strings.TrimSpace(c.AMQPURL) == "" {
			missing = append(missing, "AMQP_URL")
		}
	default:
		return fmt.Errorf("config: unsupported QUEUE_BACKEND %q", c.QueueBackend)
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// AlertsEnabled reports whether failure alert emails are configured.
func (c *Config) AlertsEnabled() bool {
	return strings.TrimSpace(c.AlertEmailTo) != "" && strings.TrimSpace(c.AlertEmailFrom) != ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
