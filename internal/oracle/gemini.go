package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"
)

// GeminiCompleter answers prompts through Google's Generative AI SDK
type GeminiCompleter struct {
	client  *genai.Client
	model   string
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewGeminiCompleter creates a Gemini-backed completer.
// model defaults to gemini-2.0-flash (higher rate limits than the exp models).
func NewGeminiCompleter(ctx context.Context, apiKey, model string, limiter *RateLimiter) (*GeminiCompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	logger := slog.Default().With("component", "completer", "model", model)
	logger.Info("gemini client initialized")

	return &GeminiCompleter{
		client:  client,
		model:   model,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// Complete sends the prompt and returns the first candidate's text
func (c *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.CheckAndIncrement(ctx, estimateTokens([]string{prompt})); err != nil {
			return "", fmt.Errorf("completion rate limited: %w", err)
		}
	}

	genConfig := &genai.GenerateContentConfig{
		Temperature:     ptrFloat32(0.1), // low temperature for consistency
		MaxOutputTokens: 2000,
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, genai.Text(prompt), genConfig)
	if err != nil {
		return "", fmt.Errorf("gemini completion failed: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("gemini returned no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("gemini returned no content parts")
	}

	text := candidate.Content.Parts[0].Text
	c.logger.Debug("completion", "prompt_length", len(prompt), "response_length", len(text))
	return text, nil
}

func ptrFloat32(f float32) *float32 { return &f }
