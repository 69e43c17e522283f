package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
)

// OpenAIGeneratorConfig holds settings for the chat-completion generator.
type OpenAIGeneratorConfig struct {
	APIKey         string        `json:"api_key" yaml:"api_key"`
	APIEndpoint    string        `json:"api_endpoint" yaml:"api_endpoint"`
	ModelName      string        `json:"model_name" yaml:"model_name"`
	MaxTokens      int           `json:"max_tokens" yaml:"max_tokens"`
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout"`

	// Circuit breaker settings
	BreakerThreshold uint32        `json:"breaker_threshold" yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `json:"breaker_timeout" yaml:"breaker_timeout"`
}

// OpenAIGenerator calls the OpenAI chat-completions endpoint with
// temperature 0 and no tool calling; the result is raw text. Calls run
// through a circuit breaker so a failing upstream sheds load fast instead of
// stacking up timeouts.
type OpenAIGenerator struct {
	config     *OpenAIGeneratorConfig
	logger     *slog.Logger
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIGenerator creates a generator with sensible defaults.
func NewOpenAIGenerator(config *OpenAIGeneratorConfig, logger *slog.Logger) (*OpenAIGenerator, error) {
	if config == nil {
		return nil, fmt.Errorf("generator config cannot be nil")
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("generator API key is required")
	}
	if config.APIEndpoint == "" {
		config.APIEndpoint = "https://api.openai.com/v1/chat/completions"
	}
	if config.ModelName == "" {
		config.ModelName = "gpt-4o-mini"
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 60 * time.Second
	}
	if config.BreakerThreshold == 0 {
		config.BreakerThreshold = 5
	}
	if config.BreakerTimeout == 0 {
		config.BreakerTimeout = 60 * time.Second
	}

	log := logger.With("component", "answer-generator")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "answer-generator",
		Timeout: config.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.BreakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state change", "from", from.String(), "to", to.String())
		},
	})

	return &OpenAIGenerator{
		config:  config,
		logger:  log,
		breaker: breaker,
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}, nil
}

// Generate returns the model's raw completion text for the prompt.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (g *OpenAIGenerator) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       g.config.ModelName,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
		MaxTokens:   g.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.config.APIEndpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion API returned status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("completion API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 || strings.TrimSpace(parsed.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("completion API returned no usable output")
	}

	g.logger.Debug("Generated completion",
		"model", g.config.ModelName,
		"prompt_chars", len(prompt),
		"took", time.Since(start),
	)
	return parsed.Choices[0].Message.Content, nil
}

// ModelName identifies the completion model.
func (g *OpenAIGenerator) ModelName() string {
	return g.config.ModelName
}
