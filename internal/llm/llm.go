// Package llm routes generation requests to the configured model provider.
package llm

import "context"

// Role identifies the speaker of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a chat prompt.
type Message struct {
	Role    Role
	Content string
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// Request is the provider-neutral completion input.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int32
}

// Response is the provider-neutral completion output.
type Response struct {
	Text       string
	Usage      Usage
	StopReason string
}

// Client is implemented once per provider.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
