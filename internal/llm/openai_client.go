// ABOUTME: OpenAI-compatible provider for embeddings and cluster naming
// ABOUTME: Works against api.openai.com or any /v1-compatible server such as Ollama
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/harper/chatlake/internal/config"
	"github.com/harper/chatlake/internal/util"
)

const (
	// DefaultChatModel is the default model for chat completions
	DefaultChatModel = "gpt-4o-mini"
	// DefaultEmbeddingModel is the default model for embeddings
	DefaultEmbeddingModel = string(openai.SmallEmbedding3)
	// defaultOllamaURL is Ollama's OpenAI-compatible endpoint
	defaultOllamaURL = "http://localhost:11434/v1"
)

// ClientConfig holds configuration for the OpenAI-compatible client
type ClientConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// ConfigFrom derives client settings from the pipeline config
func ConfigFrom(cfg *config.Config) *ClientConfig {
	cc := &ClientConfig{
		APIKey:         cfg.OpenAIKey,
		BaseURL:        cfg.BaseURL,
		ChatModel:      cfg.ChatModel,
		EmbeddingModel: cfg.EmbeddingModel,
		Timeout:        cfg.Timeout,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
	}
	if cfg.Provider == config.ProviderOllama {
		if cc.BaseURL == "" {
			cc.BaseURL = defaultOllamaURL
		}
		if cc.APIKey == "" {
			// Ollama ignores the key but the client sends one
			cc.APIKey = "ollama"
		}
	}
	if cc.ChatModel == "" {
		cc.ChatModel = DefaultChatModel
	}
	if cc.EmbeddingModel == "" {
		cc.EmbeddingModel = DefaultEmbeddingModel
	}
	if cc.Timeout <= 0 {
		cc.Timeout = 30 * time.Second
	}
	return cc
}

// OpenAIClient wraps the go-openai client with retry logic
type OpenAIClient struct {
	client         *openai.Client
	chatModel      string
	embeddingModel string
	timeout        time.Duration
	maxRetries     int
	retryDelay     time.Duration
}

// NewOpenAIClient creates a client from cfg
func NewOpenAIClient(cfg *ClientConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientCfg),
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		retryDelay:     cfg.RetryDelay,
	}, nil
}

// EmbeddingModel returns the configured embedding model name
func (c *OpenAIClient) EmbeddingModel() string {
	return c.embeddingModel
}

// Embed generates an embedding vector for text
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float64, error) {
	var embedding []float64
	err := util.Retry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateEmbeddings(callCtx, openai.EmbeddingRequestStrings{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.embeddingModel),
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
			return ErrEmptyResponse
		}

		embedding32 := resp.Data[0].Embedding
		embedding = make([]float64, len(embedding32))
		for i, v := range embedding32 {
			embedding[i] = float64(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	return embedding, nil
}

// GenerateText runs a single chat completion
func (c *OpenAIClient) GenerateText(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	var content string
	err := util.Retry(ctx, c.maxRetries, c.retryDelay, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
			Model:       c.chatModel,
			Messages:    messages,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
		})
		if err != nil {
			return classify(err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return ErrEmptyResponse
		}
		content = strings.TrimSpace(resp.Choices[0].Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}
	return content, nil
}

// IsAvailable reports whether the endpoint answers a model listing
func (c *OpenAIClient) IsAvailable(ctx context.Context) bool {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	_, err := c.client.ListModels(callCtx)
	return err == nil
}

// classify stops retries for client errors that will not change on repeat
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return util.Permanent(err)
		}
	}
	return err
}
