package rag

import (
	"fmt"
	"strings"
)

// Question represents a single policy question submitted by a user.
type Question struct {
	Text            string            `json:"question"`
	Filters         map[string]string `json:"filters,omitempty"`
	TopK            int               `json:"top_k,omitempty"`
	FollowUpContext string            `json:"follow_up_context,omitempty"`
}

// PolicyChunk is an immutable unit of retrievable policy text. Chunks are
// produced once at ingestion time and never mutated afterwards.
type PolicyChunk struct {
	ID         string `json:"id"`
	DocID      string `json:"doc_id"`
	Section    string `json:"section"`
	Category   string `json:"category,omitempty"`
	Text       string `json:"text"`
	Page       int    `json:"page,omitempty"`
	ChunkIndex int    `json:"chunk_index"`
}

// Validate checks the invariants enforced at the ingestion boundary.
func (c *PolicyChunk) Validate() error {
	if c.DocID == "" {
		return fmt.Errorf("chunk is missing a document id")
	}
	if strings.TrimSpace(c.Text) == "" {
		return fmt.Errorf("chunk %s of %s has empty text", c.ID, c.DocID)
	}
	return nil
}

// ScoredChunk pairs a chunk with the similarity score and rank assigned by
// the vector store for one query. The score follows the store's own
// convention (cosine certainty for Weaviate, cosine similarity for the local
// store); the pipeline never re-normalizes it.
type ScoredChunk struct {
	Chunk *PolicyChunk `json:"chunk"`
	Score float32      `json:"score"`
	Rank  int          `json:"rank"`
}

// Citation points from an answer back to the chunk that supports it.
type Citation struct {
	DocID   string `json:"doc_id"`
	Section string `json:"section"`
	Snippet string `json:"snippet"`
	Page    *int   `json:"page,omitempty"`
}

// Confidence is the coarse confidence label attached to every answer.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// AnswerMetadata records pipeline parameters and timing for one answer.
type AnswerMetadata struct {
	LatencyMS  int64  `json:"latency_ms"`
	RetrieverK int    `json:"retriever_k"`
	Model      string `json:"model"`
}

// Answer is the final response to a question. Citations are ordered by
// retrieval rank and never exceed the requested top-k; every citation's
// DocID comes from the chunk set retrieved for this query.
type Answer struct {
	ID            string         `json:"answer_id"`
	Text          string         `json:"answer"`
	Citations     []Citation     `json:"citations"`
	PolicyMatches []string       `json:"policy_matches"`
	Confidence    Confidence     `json:"confidence"`
	Disclaimer    string         `json:"disclaimer,omitempty"`
	Metadata      AnswerMetadata `json:"metadata"`
}

// IngestResult reports the outcome of a batch ingestion. A failing file is
// recorded in Errors and never aborts its siblings.
type IngestResult struct {
	Upserted int      `json:"upserted"`
	Errors   []string `json:"errors"`
}

// DocInfo describes one ingested source document for the /docs listing.
type DocInfo struct {
	DocID    string `json:"doc_id"`
	Title    string `json:"title"`
	Category string `json:"category,omitempty"`
	Chunks   int    `json:"chunks"`
}

// truncate applies a hard character cut; it is deliberately not
// sentence-aware.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
