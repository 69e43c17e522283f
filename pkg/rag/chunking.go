package rag

import (
	"fmt"
	"strings"
)

// ChunkingConfig holds configuration for the character chunker.
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size" yaml:"chunk_size"`       // target chunk size in characters
	ChunkOverlap int `json:"chunk_overlap" yaml:"chunk_overlap"` // characters shared between adjacent chunks
}

// ChunkingService splits document text into overlapping chunks. Chunking is
// deterministic: the same text and configuration always yield the same
// chunks, which keeps re-ingestion idempotent.
type ChunkingService struct {
	config *ChunkingConfig
}

// NewChunkingService creates a chunker, applying defaults for zero values.
func NewChunkingService(config *ChunkingConfig) *ChunkingService {
	if config == nil {
		config = &ChunkingConfig{}
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}
	return &ChunkingService{config: config}
}

// ChunkDocument splits content into chunks carrying the document's metadata.
// The section label of each chunk is the first non-empty line of the chunk,
// which for heading-structured policy text is the nearest section title.
func (cs *ChunkingService) ChunkDocument(doc *LoadedDocument) ([]*PolicyChunk, error) {
	if doc == nil {
		return nil, fmt.Errorf("document cannot be nil")
	}
	text := strings.TrimSpace(doc.Content)
	if text == "" {
		return nil, fmt.Errorf("document %s has no text content", doc.DocID)
	}

	step := cs.config.ChunkSize - cs.config.ChunkOverlap
	chunks := make([]*PolicyChunk, 0, len(text)/step+1)

	for start, index := 0, 0; start < len(text); start, index = start+step, index+1 {
		end := start + cs.config.ChunkSize
		if end > len(text) {
			end = len(text)
		}
		body := strings.TrimSpace(text[start:end])
		if body == "" {
			continue
		}

		chunks = append(chunks, &PolicyChunk{
			ID:         fmt.Sprintf("%s#%d", doc.DocID, index),
			DocID:      doc.DocID,
			Section:    firstLine(body),
			Category:   doc.Category,
			Text:       body,
			Page:       doc.pageAt(start),
			ChunkIndex: index,
		})

		if end == len(text) {
			break
		}
	}

	return chunks, nil
}

// firstLine returns the first non-empty line, bounded to 100 characters.
func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return truncate(line, 100)
		}
	}
	return ""
}
