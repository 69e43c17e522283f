package rag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("index unreachable")
	typed := NewError(KindRetrievalUnavailable, "store.search", base)

	assert.Equal(t, KindRetrievalUnavailable, KindOf(typed))
	assert.Equal(t, ErrorKind(""), KindOf(base))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestKindOfWrapped(t *testing.T) {
	typed := Errorf(KindValidation, "pipeline.ask", "question text is required")
	wrapped := fmt.Errorf("handling request: %w", typed)

	assert.Equal(t, KindValidation, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindValidation))
	assert.False(t, IsKind(wrapped, KindGeneration))
}

func TestErrorMessage(t *testing.T) {
	withCause := NewError(KindGeneration, "pipeline.generate", errors.New("upstream timeout"))
	assert.Equal(t, "pipeline.generate: upstream timeout", withCause.Error())

	bare := &Error{Kind: KindAuth, Op: "webhook.verify"}
	assert.Equal(t, "webhook.verify: auth", bare.Error())
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("root cause")
	typed := NewError(KindIngestionItem, "ingest.load", base)

	assert.ErrorIs(t, typed, base)
}
