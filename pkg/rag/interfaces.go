package rag

import "context"

// EmbeddingProvider maps text to fixed-length vectors.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// ModelName identifies the embedding model, used for cache keys and
	// answer metadata.
	ModelName() string
}

// AnswerGenerator produces a free-text completion for an assembled prompt.
type AnswerGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// VectorStore is the nearest-neighbor index over embedded policy chunks.
// Implementations are safe for concurrent readers; ingestion may run
// concurrently with queries without read-your-writes guarantees.
type VectorStore interface {
	// Upsert stores chunks with their vectors. len(vectors) must equal
	// len(chunks).
	Upsert(ctx context.Context, chunks []*PolicyChunk, vectors [][]float32) error
	// Search returns up to limit chunks nearest to vector, optionally
	// restricted by metadata filters, ordered by descending score.
	Search(ctx context.Context, vector []float32, limit int, filters map[string]string) ([]ScoredChunk, error)
	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int64, error)
	// Docs lists the distinct source documents currently indexed.
	Docs(ctx context.Context) ([]DocInfo, error)
	Close() error
}
