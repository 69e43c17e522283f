package rag

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCachedEmbeddingProviderValidation(t *testing.T) {
	_, err := NewCachedEmbeddingProvider(&fakeEmbedder{}, nil, testLogger())
	assert.Error(t, err)
}

func TestNewCachedEmbeddingProviderUnreachable(t *testing.T) {
	_, err := NewCachedEmbeddingProvider(&fakeEmbedder{}, &RedisCacheConfig{
		Address:     "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	}, testLogger())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to redis")
}

// Integration test, run only when a Redis instance is available.
func TestCachedEmbeddingProviderRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}

	inner := &fakeEmbedder{}
	cache, err := NewCachedEmbeddingProvider(inner, &RedisCacheConfig{
		Address:      addr,
		KeyPrefix:    "policy-assistant-test",
		EmbeddingTTL: time.Minute,
	}, testLogger())
	require.NoError(t, err)
	defer cache.Close()

	texts := []string{"casual leave question", "notice period question"}

	first, err := cache.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)

	second, err := cache.Embed(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls, "second lookup must be fully served from cache")
	assert.Equal(t, first, second)
}
