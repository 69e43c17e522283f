package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// LocalStore is the on-disk fallback vector index. Chunks and vectors live
// in memory and are persisted as a single JSON artifact after every upsert.
// Reads take an RLock so queries and ingestion can proceed concurrently;
// a query racing an in-flight upsert may or may not see the new chunks.
type LocalStore struct {
	path    string
	logger  *slog.Logger
	mutex   sync.RWMutex
	entries map[string]*localEntry
}

type localEntry struct {
	Chunk  *PolicyChunk `json:"chunk"`
	Vector []float32    `json:"vector"`
}

// NewLocalStore opens the store at path, loading any existing artifact.
func NewLocalStore(path string, logger *slog.Logger) (*LocalStore, error) {
	ls := &LocalStore{
		path:    path,
		logger:  logger.With("component", "local-store"),
		entries: make(map[string]*localEntry),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read local index %s: %w", path, err)
		}
		ls.logger.Info("No existing index, starting empty", "path", path)
		return ls, nil
	}

	if err := json.Unmarshal(data, &ls.entries); err != nil {
		return nil, fmt.Errorf("failed to parse local index %s: %w", path, err)
	}
	ls.logger.Info("Loaded local index", "path", path, "chunks", len(ls.entries))
	return ls, nil
}

// Upsert stores chunks keyed by (docID, chunkIndex) and saves the artifact.
func (ls *LocalStore) Upsert(ctx context.Context, chunks []*PolicyChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}

	ls.mutex.Lock()
	defer ls.mutex.Unlock()

	for i, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return fmt.Errorf("invalid chunk: %w", err)
		}
		key := fmt.Sprintf("%s#%d", chunk.DocID, chunk.ChunkIndex)
		ls.entries[key] = &localEntry{Chunk: chunk, Vector: vectors[i]}
	}

	return ls.save()
}

// save writes the artifact via a temp file rename so a crash mid-write never
// leaves a truncated index.
func (ls *LocalStore) save() error {
	if err := os.MkdirAll(filepath.Dir(ls.path), 0o755); err != nil {
		return fmt.Errorf("failed to create index directory: %w", err)
	}
	data, err := json.Marshal(ls.entries)
	if err != nil {
		return fmt.Errorf("failed to encode local index: %w", err)
	}
	tmp := ls.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write local index: %w", err)
	}
	if err := os.Rename(tmp, ls.path); err != nil {
		return fmt.Errorf("failed to replace local index: %w", err)
	}
	return nil
}

// Search scores every stored chunk by cosine similarity and returns the top
// limit matches. Linear scan is fine at policy-corpus scale.
func (ls *LocalStore) Search(ctx context.Context, vector []float32, limit int, filterMap map[string]string) ([]ScoredChunk, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	if len(ls.entries) == 0 {
		return nil, Errorf(KindRetrievalUnavailable, "localstore.search", "index at %s is empty, run ingestion", ls.path)
	}

	scored := make([]ScoredChunk, 0, len(ls.entries))
	for _, entry := range ls.entries {
		if !matchesFilters(entry.Chunk, filterMap) {
			continue
		}
		scored = append(scored, ScoredChunk{
			Chunk: entry.Chunk,
			Score: cosineSimilarity(vector, entry.Vector),
		})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	for i := range scored {
		scored[i].Rank = i
	}
	return scored, nil
}

func matchesFilters(chunk *PolicyChunk, filterMap map[string]string) bool {
	for key, value := range filterMap {
		if value == "" {
			continue
		}
		switch key {
		case "doc_id":
			if chunk.DocID != value {
				return false
			}
		case "category":
			if chunk.Category != value {
				return false
			}
		case "section":
			if chunk.Section != value {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Count returns the number of stored chunks.
func (ls *LocalStore) Count(ctx context.Context) (int64, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()
	return int64(len(ls.entries)), nil
}

// Docs lists distinct documents with chunk counts, sorted by doc id.
func (ls *LocalStore) Docs(ctx context.Context) ([]DocInfo, error) {
	ls.mutex.RLock()
	defer ls.mutex.RUnlock()

	byDoc := make(map[string]*DocInfo)
	for _, entry := range ls.entries {
		info, ok := byDoc[entry.Chunk.DocID]
		if !ok {
			info = &DocInfo{
				DocID:    entry.Chunk.DocID,
				Title:    entry.Chunk.DocID,
				Category: entry.Chunk.Category,
			}
			byDoc[entry.Chunk.DocID] = info
		}
		info.Chunks++
	}

	docs := make([]DocInfo, 0, len(byDoc))
	for _, info := range byDoc {
		docs = append(docs, *info)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocID < docs[j].DocID })
	return docs, nil
}

// Close persists any state already saved on upsert; nothing else to do.
func (ls *LocalStore) Close() error {
	return nil
}
