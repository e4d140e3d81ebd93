package oracle

import (
	"context"
	"log/slog"

	"github.com/devlens/devlens/internal/config"
	"github.com/redis/go-redis/v9"
)

// Provider selects which completion backend answers prompts
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGemini Provider = "gemini"
	ProviderNone   Provider = "none"
)

// Clients bundles the configured oracles. Either may be a Disabled instance;
// consumers check with IsDisabled and skip the dependent feature.
type Clients struct {
	Provider  Provider
	Embedder  Embedder
	Completer Completer
}

// New builds oracle clients from config, degrading to Disabled rather than
// failing when keys are missing. A nil redis client disables rate limiting.
func New(ctx context.Context, cfg *config.Config, rdb *redis.Client) *Clients {
	logger := slog.Default().With("component", "oracle")
	cfg.ResolveOracleKeys()

	var limiter *RateLimiter
	if rdb != nil {
		limiter = NewRateLimiter(rdb, 0, 0, 0)
	}

	clients := &Clients{
		Provider:  ProviderNone,
		Embedder:  Disabled{},
		Completer: Disabled{},
	}

	// Embeddings always ride on OpenAI when a key is present, regardless of
	// which provider answers completions.
	if cfg.Oracle.OpenAIKey != "" {
		embedder, err := NewOpenAIEmbedder(cfg.Oracle.OpenAIKey, cfg.Oracle.EmbeddingModel, limiter)
		if err != nil {
			logger.Warn("embedder unavailable", "error", err)
		} else {
			clients.Embedder = embedder
		}
	} else {
		logger.Info("no OpenAI key configured, semantic matching disabled")
	}

	switch Provider(cfg.Oracle.Provider) {
	case ProviderOpenAI:
		completer, err := NewOpenAICompleter(cfg.Oracle.OpenAIKey, cfg.Oracle.OpenAIModel, limiter)
		if err != nil {
			logger.Warn("openai completer unavailable", "error", err)
		} else {
			clients.Provider = ProviderOpenAI
			clients.Completer = completer
		}
	case ProviderGemini:
		completer, err := NewGeminiCompleter(ctx, cfg.Oracle.GeminiKey, cfg.Oracle.GeminiModel, limiter)
		if err != nil {
			logger.Warn("gemini completer unavailable", "error", err)
		} else {
			clients.Provider = ProviderGemini
			clients.Completer = completer
		}
	case ProviderNone, "":
		logger.Info("completion oracle disabled")
	default:
		logger.Warn("unknown oracle provider, completions disabled", "provider", cfg.Oracle.Provider)
	}

	return clients
}
