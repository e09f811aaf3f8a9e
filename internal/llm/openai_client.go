package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Base URLs of the OpenAI-compatible providers.
const (
	GroqBaseURL = "https://api.groq.com/openai/v1"
	GrokBaseURL = "https://api.x.ai/v1"
)

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatCompletionClient serves every provider that speaks the OpenAI chat
// completions API (OpenAI itself, Groq, xAI Grok).
type ChatCompletionClient struct {
	chat chatClient
}

// NewOpenAIClient returns a client for api.openai.com.
func NewOpenAIClient(apiKey string) (*ChatCompletionClient, error) {
	return newCompatibleClient(apiKey, "")
}

// NewGroqClient returns a client for Groq's OpenAI-compatible endpoint.
func NewGroqClient(apiKey string) (*ChatCompletionClient, error) {
	return newCompatibleClient(apiKey, GroqBaseURL)
}

// NewGrokClient returns a client for xAI's OpenAI-compatible endpoint.
func NewGrokClient(apiKey string) (*ChatCompletionClient, error) {
	return newCompatibleClient(apiKey, GrokBaseURL)
}

func newCompatibleClient(apiKey, baseURL string) (*ChatCompletionClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: api key is required")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatCompletionClient{chat: openai.NewClientWithConfig(cfg)}, nil
}

func newChatCompletionClient(chat chatClient) *ChatCompletionClient {
	if chat == nil {
		panic("llm: chat client cannot be nil")
	}
	return &ChatCompletionClient{chat: chat}
}

// Complete implements Client.
func (c *ChatCompletionClient) Complete(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.Model) == "" {
		return Response{}, errors.New("llm: model is required")
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		role, err := openAIRole(msg.Role)
		if err != nil {
			return Response{}, err
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	resp, err := c.chat.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   int(req.MaxTokens),
	})
	if err != nil {
		return Response{}, fmt.Errorf("llm: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("llm: no choices returned: %w", ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Response{}, ErrEmptyResponse
	}
	return Response{
		Text:       text,
		StopReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			InputTokens:  int32(resp.Usage.PromptTokens),
			OutputTokens: int32(resp.Usage.CompletionTokens),
			TotalTokens:  int32(resp.Usage.TotalTokens),
		},
	}, nil
}

func openAIRole(role Role) (string, error) {
	switch role {
	case RoleSystem:
		return openai.ChatMessageRoleSystem, nil
	case RoleUser:
		return openai.ChatMessageRoleUser, nil
	case RoleAssistant:
		return openai.ChatMessageRoleAssistant, nil
	default:
		return "", fmt.Errorf("llm: unsupported role %q", role)
	}
}
