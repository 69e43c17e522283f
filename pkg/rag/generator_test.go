package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGeneratorServer(t *testing.T, handler http.HandlerFunc) *OpenAIGenerator {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gen, err := NewOpenAIGenerator(&OpenAIGeneratorConfig{
		APIKey:      "test-key",
		APIEndpoint: server.URL,
		ModelName:   "test-model",
	}, testLogger())
	require.NoError(t, err)
	return gen
}

func completionPayload(content string) map[string]interface{} {
	return map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
}

func TestGenerateSendsZeroTemperature(t *testing.T) {
	gen := newGeneratorServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Zero(t, req.Temperature)
		assert.Equal(t, "test-model", req.Model)
		require.Len(t, req.Messages, 1)
		assert.Equal(t, "user", req.Messages[0].Role)

		json.NewEncoder(w).Encode(completionPayload("the answer"))
	})

	text, err := gen.Generate(context.Background(), "the prompt")

	require.NoError(t, err)
	assert.Equal(t, "the answer", text)
}

func TestGenerateRejectsEmptyOutput(t *testing.T) {
	tests := []struct {
		name    string
		payload map[string]interface{}
	}{
		{"no choices", map[string]interface{}{"choices": []interface{}{}}},
		{"blank content", completionPayload("   ")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := newGeneratorServer(t, func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(tt.payload)
			})

			_, err := gen.Generate(context.Background(), "prompt")

			require.Error(t, err)
			assert.Contains(t, err.Error(), "no usable output")
		})
	}
}

func TestGenerateBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	gen, err := NewOpenAIGenerator(&OpenAIGeneratorConfig{
		APIKey:           "test-key",
		APIEndpoint:      server.URL,
		BreakerThreshold: 3,
	}, testLogger())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := gen.Generate(context.Background(), "prompt")
		require.Error(t, err)
	}
	assert.Equal(t, int64(3), hits.Load())

	// The breaker is now open; further calls fail without reaching upstream.
	_, err = gen.Generate(context.Background(), "prompt")
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int64(3), hits.Load())
}

func TestNewOpenAIGeneratorValidation(t *testing.T) {
	_, err := NewOpenAIGenerator(nil, testLogger())
	assert.Error(t, err)

	_, err = NewOpenAIGenerator(&OpenAIGeneratorConfig{}, testLogger())
	assert.Error(t, err, "missing API key must be rejected")

	gen, err := NewOpenAIGenerator(&OpenAIGeneratorConfig{APIKey: "k"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", gen.ModelName())
}
