package llm

import (
	"context"
	"fmt"

	"octopus/internal/config"
)

// CompletionRequest is a single-turn chat completion
type CompletionRequest struct {
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// Client is a chat completion endpoint
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// ClientFunc adapts a function to the Client interface
type ClientFunc func(ctx context.Context, req CompletionRequest) (string, error)

// Complete calls f
func (f ClientFunc) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	return f(ctx, req)
}

// NewClient builds the client for the configured provider
func NewClient(ctx context.Context, cfg config.LLM) (Client, error) {
	switch cfg.Provider {
	case "azure":
		return NewAzureClient(cfg.Azure), nil
	case "openai":
		return NewOpenAIClient(cfg.OpenAI), nil
	case "anthropic":
		return NewAnthropicClient(cfg.Anthropic), nil
	case "gemini":
		return NewGeminiClient(ctx, cfg.Gemini)
	}
	return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
}
