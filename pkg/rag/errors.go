package rag

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a pipeline failure so callers can map it to the right
// surface behavior without parsing message text.
type ErrorKind string

const (
	// KindValidation marks bad input shape, e.g. a missing question.
	KindValidation ErrorKind = "validation"
	// KindRetrievalUnavailable marks a missing, empty or unreachable index.
	KindRetrievalUnavailable ErrorKind = "retrieval_unavailable"
	// KindGeneration marks an answer generator error or unusable output.
	KindGeneration ErrorKind = "generation"
	// KindIngestionItem marks a single file failing to load, split or embed.
	KindIngestionItem ErrorKind = "ingestion_item"
	// KindAuth marks a missing or invalid API key or webhook signature.
	KindAuth ErrorKind = "auth"
)

// Error is the typed error used across the retrieval pipeline.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with an operation name and kind.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a typed error from a format string.
func Errorf(kind ErrorKind, op, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err, or an empty kind when err is not a
// pipeline error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
