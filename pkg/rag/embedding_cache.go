package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisCacheConfig holds Redis connection and cache behavior settings.
type RedisCacheConfig struct {
	Address      string        `json:"address" yaml:"address"`
	Password     string        `json:"password" yaml:"password"`
	Database     int           `json:"database" yaml:"database"`
	KeyPrefix    string        `json:"key_prefix" yaml:"key_prefix"`
	EmbeddingTTL time.Duration `json:"embedding_ttl" yaml:"embedding_ttl"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
}

// CachedEmbeddingProvider wraps an EmbeddingProvider with a Redis cache
// keyed on sha256(model|text). Cache failures degrade to pass-through so
// Redis being down never fails a query.
type CachedEmbeddingProvider struct {
	inner  EmbeddingProvider
	client *redis.Client
	config *RedisCacheConfig
	logger *slog.Logger
}

// NewCachedEmbeddingProvider connects to Redis and wraps inner. It returns
// an error only when the initial ping fails, so a misconfigured address is
// caught at startup rather than per request.
func NewCachedEmbeddingProvider(inner EmbeddingProvider, config *RedisCacheConfig, logger *slog.Logger) (*CachedEmbeddingProvider, error) {
	if config == nil {
		return nil, fmt.Errorf("redis cache config cannot be nil")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "policy-assistant"
	}
	if config.EmbeddingTTL == 0 {
		config.EmbeddingTTL = 24 * time.Hour
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:        config.Address,
		Password:    config.Password,
		DB:          config.Database,
		DialTimeout: config.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Address, err)
	}

	log := logger.With("component", "embedding-cache")
	log.Info("Embedding cache enabled", "address", config.Address, "ttl", config.EmbeddingTTL)

	return &CachedEmbeddingProvider{
		inner:  inner,
		client: client,
		config: config,
		logger: log,
	}, nil
}

// Embed serves vectors from cache where possible and fetches the rest from
// the wrapped provider in one batch, preserving input order.
func (c *CachedEmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	missing := make([]string, 0, len(texts))
	missingIdx := make([]int, 0, len(texts))

	for i, text := range texts {
		if cached, ok := c.get(ctx, text); ok {
			vectors[i] = cached
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return vectors, nil
	}

	fresh, err := c.inner.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range fresh {
		vectors[missingIdx[j]] = vec
		c.set(ctx, missing[j], vec)
	}

	c.logger.Debug("Embedding cache lookup",
		"total", len(texts),
		"hits", len(texts)-len(missing),
		"misses", len(missing),
	)
	return vectors, nil
}

// ModelName identifies the wrapped provider's model.
func (c *CachedEmbeddingProvider) ModelName() string {
	return c.inner.ModelName()
}

// Close releases the Redis connection.
func (c *CachedEmbeddingProvider) Close() error {
	return c.client.Close()
}

func (c *CachedEmbeddingProvider) key(text string) string {
	sum := sha256.Sum256([]byte(c.inner.ModelName() + "|" + text))
	return fmt.Sprintf("%s:embedding:%s", c.config.KeyPrefix, hex.EncodeToString(sum[:]))
}

func (c *CachedEmbeddingProvider) get(ctx context.Context, text string) ([]float32, bool) {
	data, err := c.client.Get(ctx, c.key(text)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Embedding cache read failed", "error", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(data), &vec); err != nil {
		c.logger.Warn("Corrupt embedding cache entry", "error", err)
		return nil, false
	}
	return vec, true
}

func (c *CachedEmbeddingProvider) set(ctx context.Context, text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, c.key(text), data, c.config.EmbeddingTTL).Err(); err != nil {
		c.logger.Warn("Embedding cache write failed", "error", err)
	}
}
