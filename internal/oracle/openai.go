package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder computes embeddings through the OpenAI embeddings API
type OpenAIEmbedder struct {
	client  *openai.Client
	model   openai.EmbeddingModel
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewOpenAIEmbedder creates an embedder for the given model.
// limiter may be nil to disable proactive rate limiting.
func NewOpenAIEmbedder(apiKey, model string, limiter *RateLimiter) (*OpenAIEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	return &OpenAIEmbedder{
		client:  openai.NewClient(apiKey),
		model:   openai.EmbeddingModel(model),
		limiter: limiter,
		logger:  slog.Default().With("component", "embedder", "model", model),
	}, nil
}

// Embed returns the embedding vector for a single text
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in one API call, preserving input order
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if e.limiter != nil {
		if err := e.limiter.CheckAndIncrement(ctx, estimateTokens(texts)); err != nil {
			return nil, fmt.Errorf("embedding rate limited: %w", err)
		}
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding request failed: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		vectors[item.Index] = item.Embedding
	}
	e.logger.Debug("embedded batch", "count", len(texts))
	return vectors, nil
}

// OpenAICompleter answers prompts through the chat completions API
type OpenAICompleter struct {
	client  *openai.Client
	model   string
	limiter *RateLimiter
	logger  *slog.Logger
}

// NewOpenAICompleter creates a completer for the given chat model
func NewOpenAICompleter(apiKey, model string, limiter *RateLimiter) (*OpenAICompleter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAICompleter{
		client:  openai.NewClient(apiKey),
		model:   model,
		limiter: limiter,
		logger:  slog.Default().With("component", "completer", "model", model),
	}, nil
}

// Complete sends the prompt and returns the text of the first choice
func (c *OpenAICompleter) Complete(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.CheckAndIncrement(ctx, estimateTokens([]string{prompt})); err != nil {
			return "", fmt.Errorf("completion rate limited: %w", err)
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0.1, // low temperature for consistency
		MaxTokens:   2000,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	text := resp.Choices[0].Message.Content
	c.logger.Debug("completion", "prompt_length", len(prompt), "response_length", len(text))
	return text, nil
}

// estimateTokens approximates token usage at four characters per token, the
// coarse heuristic the rate limiter needs before the API reports real usage.
func estimateTokens(texts []string) int64 {
	var chars int64
	for _, t := range texts {
		chars += int64(len(t))
	}
	return chars/4 + 1
}
