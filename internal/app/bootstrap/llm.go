package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	appconfig "github.com/wolfman30/wa-autoreply/internal/config"
	"github.com/wolfman30/wa-autoreply/internal/llm"
	"github.com/wolfman30/wa-autoreply/pkg/logging"
)

// BuildDispatcher registers a client for every provider with credentials.
// bedrock may be nil; the anthropic provider is then unavailable. The
// returned cleanup closes clients that hold connections.
func BuildDispatcher(ctx context.Context, cfg *appconfig.Config, bedrock *bedrockruntime.Client, logger *logging.Logger) (*llm.Dispatcher, func(), error) {
	if cfg == nil {
		return nil, nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cleanup := func() {}

	clients := map[llm.Provider]llm.Client{}
	compatible := []struct {
		provider llm.Provider
		key      string
		build    func(string) (*llm.ChatCompletionClient, error)
	}{
		{llm.ProviderOpenAI, cfg.OpenAIAPIKey, llm.NewOpenAIClient},
		{llm.ProviderGroq, cfg.GroqAPIKey, llm.NewGroqClient},
		{llm.ProviderGrok, cfg.GrokAPIKey, llm.NewGrokClient},
	}
	for _, c := range compatible {
		if strings.TrimSpace(c.key) == "" {
			continue
		}
		client, err := c.build(c.key)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: %s client: %w", c.provider, err)
		}
		clients[c.provider] = client
	}

	if bedrock != nil && strings.TrimSpace(cfg.BedrockModelID) != "" {
		clients[llm.ProviderAnthropic] = llm.NewAnthropicClient(bedrock, cfg.BedrockModelID)
	}

	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gemini, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: gemini client: %w", err)
		}
		clients[llm.ProviderGemini] = gemini
		cleanup = func() {
			if err := gemini.Close(); err != nil {
				logger.Warn("gemini client close failed", "error", err)
			}
		}
	}

	fallback, ok := llm.ParseProvider(cfg.DefaultProvider)
	if !ok {
		cleanup()
		return nil, nil, fmt.Errorf("bootstrap: unknown DEFAULT_PROVIDER %q", cfg.DefaultProvider)
	}
	dispatcher, err := llm.NewDispatcher(clients, fallback, cfg.DefaultModel, llm.WithLogger(logger), llm.WithTimeout(cfg.GenerationTimeout))
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("bootstrap: %w", err)
	}
	logger.Info("llm dispatcher ready", "providers", dispatcher.Providers(), "fallback", fallback, "fallback_model", cfg.DefaultModel)
	return dispatcher, cleanup, nil
}
