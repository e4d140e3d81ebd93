// Package oracle wraps the externally supplied capabilities — the embedding
// model and the completion LLM — behind narrow interfaces. Every caller must
// tolerate a disabled oracle: semantic matching and LLM-assisted inference
// are skipped, never failed, when a provider is not configured.
package oracle

import (
	"context"
	"errors"
)

// ErrDisabled is returned by oracle implementations that have no provider
// configured. Callers skip the dependent feature and proceed.
var ErrDisabled = errors.New("oracle disabled: no provider configured")

// Embedder turns text into a dense vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer answers a free-form prompt with text
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Disabled is an Embedder and Completer that always reports ErrDisabled.
type Disabled struct{}

func (Disabled) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrDisabled
}

func (Disabled) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrDisabled
}

func (Disabled) Complete(ctx context.Context, prompt string) (string, error) {
	return "", ErrDisabled
}

// IsDisabled reports whether err indicates a missing provider rather than a
// real failure.
func IsDisabled(err error) bool {
	return errors.Is(err, ErrDisabled)
}
