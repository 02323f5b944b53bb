package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"octopus/internal/config"
)

// DefaultGeminiModel is used when no model is configured
const DefaultGeminiModel = "gemini-flash-lite-latest"

// GeminiClient talks to the Gemini API
type GeminiClient struct {
	gClient   *genai.Client
	modelName string
}

// NewGeminiClient creates a Gemini client
func NewGeminiClient(ctx context.Context, cfg config.GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or llm.gemini.api_key in config file")
	}
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiClient{gClient: gClient, modelName: model}, nil
}

// Complete implements Client
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: req.Prompt}},
		Role:  "user",
	}}
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(float32(req.Temperature)),
		MaxOutputTokens: int32(req.MaxTokens),
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from model")
	}
	return text, nil
}
