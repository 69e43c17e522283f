package rag

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// IngestFile names a file to ingest. Path is where the bytes live; Name is
// the original filename and becomes the document id.
type IngestFile struct {
	Path string
	Name string
}

// IngestionService loads, chunks, embeds and upserts policy documents.
type IngestionService struct {
	loader   *DocumentLoader
	chunker  *ChunkingService
	embedder EmbeddingProvider
	store    VectorStore
	logger   *slog.Logger
}

// NewIngestionService wires the ingestion collaborators together.
func NewIngestionService(loader *DocumentLoader, chunker *ChunkingService, embedder EmbeddingProvider, store VectorStore, logger *slog.Logger) *IngestionService {
	return &IngestionService{
		loader:   loader,
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		logger:   logger.With("component", "ingestion"),
	}
}

// IngestFile processes a single file and returns the number of chunks
// upserted. Failures are reported as IngestionItem errors so batch callers
// can record them without aborting siblings.
func (s *IngestionService) IngestFile(ctx context.Context, file IngestFile) (int, error) {
	doc, err := s.loader.Load(file.Path, file.Name)
	if err != nil {
		return 0, NewError(KindIngestionItem, "ingest.load", err)
	}

	chunks, err := s.chunker.ChunkDocument(doc)
	if err != nil {
		return 0, NewError(KindIngestionItem, "ingest.chunk", err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, NewError(KindIngestionItem, "ingest.embed", err)
	}

	if err := s.store.Upsert(ctx, chunks, vectors); err != nil {
		return 0, NewError(KindIngestionItem, "ingest.upsert", err)
	}

	s.logger.Info("Ingested document", "doc_id", doc.DocID, "chunks", len(chunks))
	return len(chunks), nil
}

// IngestBatch processes each file independently. A failing file is recorded
// in the result's Errors and never aborts the remaining files.
func (s *IngestionService) IngestBatch(ctx context.Context, files []IngestFile) *IngestResult {
	result := &IngestResult{Errors: []string{}}
	for _, file := range files {
		count, err := s.IngestFile(ctx, file)
		if err != nil {
			s.logger.Warn("File ingestion failed", "file", file.Name, "error", err)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", file.Name, err))
			continue
		}
		result.Upserted += count
	}
	return result
}

// IngestDir ingests every supported file directly under dir, in a stable
// order.
func (s *IngestionService) IngestDir(ctx context.Context, dir string) (*IngestResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy directory %s: %w", dir, err)
	}

	files := make([]IngestFile, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".txt", ".md", ".pdf":
			files = append(files, IngestFile{
				Path: filepath.Join(dir, entry.Name()),
				Name: entry.Name(),
			})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	return s.IngestBatch(ctx, files), nil
}
