// ABOUTME: Provider boundary for embeddings and short text generation
// ABOUTME: Engines depend on this interface so tests can swap in the deterministic fake
package llm

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the provider answers with no data
var ErrEmptyResponse = errors.New("provider returned an empty response")

// GenerateOptions tunes a text generation call
type GenerateOptions struct {
	System      string
	Temperature float32
	MaxTokens   int
}

// Provider produces embeddings and short generations
type Provider interface {
	// Embed returns a vector for text; a nil vector and an error mean the unit is skipped
	Embed(ctx context.Context, text string) ([]float64, error)
	GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	IsAvailable(ctx context.Context) bool
	// EmbeddingModel names the model vectors are cached under
	EmbeddingModel() string
}
