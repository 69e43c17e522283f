package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// OpenAIEmbeddingConfig holds settings for the OpenAI embedding provider.
type OpenAIEmbeddingConfig struct {
	APIKey         string        `json:"api_key" yaml:"api_key"`
	APIEndpoint    string        `json:"api_endpoint" yaml:"api_endpoint"`
	ModelName      string        `json:"model_name" yaml:"model_name"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`
}

// OpenAIEmbeddingProvider generates embeddings through the OpenAI
// /v1/embeddings endpoint.
type OpenAIEmbeddingProvider struct {
	config     *OpenAIEmbeddingConfig
	logger     *slog.Logger
	httpClient *http.Client
}

type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIEmbeddingProvider creates a provider with sensible defaults.
func NewOpenAIEmbeddingProvider(config *OpenAIEmbeddingConfig, logger *slog.Logger) (*OpenAIEmbeddingProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("embedding config cannot be nil")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if config.APIEndpoint == "" {
		config.APIEndpoint = "https://api.openai.com/v1/embeddings"
	}
	if config.ModelName == "" {
		config.ModelName = "text-embedding-3-small"
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}

	return &OpenAIEmbeddingProvider{
		config: config,
		logger: logger.With("component", "embedding-provider"),
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// Embed returns one vector per input text, in input order.
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embeddingRequest{Input: texts, Model: p.config.ModelName})
	if err != nil {
		return nil, fmt.Errorf("failed to encode embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.APIEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode embedding response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("embedding API error: %s", parsed.Error.Message)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embedding API returned out-of-range index %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}

	p.logger.Debug("Generated embeddings",
		"count", len(texts),
		"model", p.config.ModelName,
		"took", time.Since(start),
	)
	return vectors, nil
}

// ModelName identifies the embedding model.
func (p *OpenAIEmbeddingProvider) ModelName() string {
	return p.config.ModelName
}
