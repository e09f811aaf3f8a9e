package aiconfig

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Default values applied when an instance has no configuration row yet.
const (
	DefaultProvider     = "openai"
	DefaultModel        = "gpt-4o-mini"
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 500
	DefaultMemoryWindow = 10
	DefaultSystemPrompt = "You are a friendly customer assistant answering WhatsApp messages for a small business. " +
		"Reply in the customer's language, keep answers short and conversational, and never invent prices, stock or opening hours."
)

// ErrUnavailable means the configuration store could not be reached.
var ErrUnavailable = errors.New("aiconfig: configuration store unavailable")

// Config is the per-instance AI behaviour.
type Config struct {
	ID                   uuid.UUID `json:"id"`
	InstanceID           uuid.UUID `json:"instance_id"`
	Provider             string    `json:"provider"`
	Model                string    `json:"model"`
	SystemPrompt         string    `json:"system_prompt"`
	Temperature          float32   `json:"temperature"`
	MaxTokens            int       `json:"max_tokens"`
	AutoReplyEnabled     bool      `json:"auto_reply_enabled"`
	ResponseDelaySeconds int       `json:"response_delay_seconds"`
	MemoryEnabled        bool      `json:"memory_enabled"`
	MemoryWindow         int       `json:"memory_window"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Default returns the configuration created lazily for a new instance.
func Default(instanceID uuid.UUID) Config {
	return Config{
		InstanceID:           instanceID,
		Provider:             DefaultProvider,
		Model:                DefaultModel,
		SystemPrompt:         DefaultSystemPrompt,
		Temperature:          DefaultTemperature,
		MaxTokens:            DefaultMaxTokens,
		AutoReplyEnabled:     true,
		ResponseDelaySeconds: 0,
		MemoryEnabled:        true,
		MemoryWindow:         DefaultMemoryWindow,
	}
}

// ResponseDelay returns the configured pacing delay.
func (c Config) ResponseDelay() time.Duration {
	if c.ResponseDelaySeconds <= 0 {
		return 0
	}
	return time.Duration(c.ResponseDelaySeconds) * time.Second
}

// HistoryLimit is the number of prior messages to include in a prompt.
func (c Config) HistoryLimit() int {
	if !c.MemoryEnabled || c.MemoryWindow <= 0 {
		return 0
	}
	return c.MemoryWindow
}

// Resolver returns the configuration for an instance, creating the default
// one when none exists.
type Resolver interface {
	Resolve(ctx context.Context, instanceID uuid.UUID) (Config, error)
}
