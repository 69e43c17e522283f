package rag

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalStore(t *testing.T) (*LocalStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.json")
	ls, err := NewLocalStore(path, testLogger())
	require.NoError(t, err)
	return ls, path
}

func leaveChunks() ([]*PolicyChunk, [][]float32) {
	chunks := []*PolicyChunk{
		{ID: "leave_policy.txt#0", DocID: "leave_policy.txt", Section: "Casual Leave", Category: "Leave", Text: "12 days per year", ChunkIndex: 0},
		{ID: "leave_policy.txt#1", DocID: "leave_policy.txt", Section: "Sick Leave", Category: "Leave", Text: "8 days per year", ChunkIndex: 1},
		{ID: "exit_policy.txt#0", DocID: "exit_policy.txt", Section: "Notice Period", Category: "Exit", Text: "60 days notice", ChunkIndex: 0},
	}
	vectors := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 0, 1},
	}
	return chunks, vectors
}

func TestLocalStoreSearchOrdersBySimilarity(t *testing.T) {
	ls, _ := newTestLocalStore(t)
	chunks, vectors := leaveChunks()
	require.NoError(t, ls.Upsert(context.Background(), chunks, vectors))

	results, err := ls.Search(context.Background(), []float32{1, 0, 0}, 3, nil)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "leave_policy.txt#0", results[0].Chunk.ID)
	assert.Equal(t, "leave_policy.txt#1", results[1].Chunk.ID)
	assert.Equal(t, "exit_policy.txt#0", results[2].Chunk.ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	for i, r := range results {
		assert.Equal(t, i, r.Rank)
	}
}

func TestLocalStoreSearchLimit(t *testing.T) {
	ls, _ := newTestLocalStore(t)
	chunks, vectors := leaveChunks()
	require.NoError(t, ls.Upsert(context.Background(), chunks, vectors))

	results, err := ls.Search(context.Background(), []float32{1, 0, 0}, 1, nil)

	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestLocalStoreSearchEmptyIndex(t *testing.T) {
	ls, _ := newTestLocalStore(t)

	_, err := ls.Search(context.Background(), []float32{1, 0, 0}, 5, nil)

	require.Error(t, err)
	assert.Equal(t, KindRetrievalUnavailable, KindOf(err))
}

func TestLocalStoreFilters(t *testing.T) {
	ls, _ := newTestLocalStore(t)
	chunks, vectors := leaveChunks()
	require.NoError(t, ls.Upsert(context.Background(), chunks, vectors))

	tests := []struct {
		name    string
		filters map[string]string
		wantIDs []string
	}{
		{"by category", map[string]string{"category": "Exit"}, []string{"exit_policy.txt#0"}},
		{"by doc id", map[string]string{"doc_id": "leave_policy.txt"}, []string{"leave_policy.txt#0", "leave_policy.txt#1"}},
		{"by section", map[string]string{"section": "Sick Leave"}, []string{"leave_policy.txt#1"}},
		{"empty value ignored", map[string]string{"category": ""}, []string{"leave_policy.txt#0", "leave_policy.txt#1", "exit_policy.txt#0"}},
		{"unknown key matches nothing", map[string]string{"author": "x"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := ls.Search(context.Background(), []float32{1, 0, 0}, 10, tt.filters)
			require.NoError(t, err)

			var ids []string
			for _, r := range results {
				ids = append(ids, r.Chunk.ID)
			}
			assert.ElementsMatch(t, tt.wantIDs, ids)
		})
	}
}

func TestLocalStoreUpsertIdempotent(t *testing.T) {
	ls, _ := newTestLocalStore(t)
	chunks, vectors := leaveChunks()

	require.NoError(t, ls.Upsert(context.Background(), chunks, vectors))
	require.NoError(t, ls.Upsert(context.Background(), chunks, vectors))

	count, err := ls.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLocalStorePersistence(t *testing.T) {
	ls, path := newTestLocalStore(t)
	chunks, vectors := leaveChunks()
	require.NoError(t, ls.Upsert(context.Background(), chunks, vectors))

	reopened, err := NewLocalStore(path, testLogger())
	require.NoError(t, err)

	count, err := reopened.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	results, err := reopened.Search(context.Background(), []float32{0, 0, 1}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exit_policy.txt#0", results[0].Chunk.ID)
}

func TestLocalStoreUpsertValidation(t *testing.T) {
	ls, _ := newTestLocalStore(t)

	err := ls.Upsert(context.Background(), []*PolicyChunk{{ID: "x#0"}}, [][]float32{{1}})
	assert.Error(t, err, "chunk without doc id must be rejected")

	err = ls.Upsert(context.Background(), []*PolicyChunk{{ID: "x#0", DocID: "x", Text: "t"}}, nil)
	assert.Error(t, err, "chunk/vector mismatch must be rejected")
}

func TestLocalStoreDocs(t *testing.T) {
	ls, _ := newTestLocalStore(t)
	chunks, vectors := leaveChunks()
	require.NoError(t, ls.Upsert(context.Background(), chunks, vectors))

	docs, err := ls.Docs(context.Background())

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "exit_policy.txt", docs[0].DocID)
	assert.Equal(t, 1, docs[0].Chunks)
	assert.Equal(t, "leave_policy.txt", docs[1].DocID)
	assert.Equal(t, 2, docs[1].Chunks)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float32{1, 2, 3}, []float32{1, 2, 3}), 1e-6)
	assert.InDelta(t, 0.0, cosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, cosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Zero(t, cosineSimilarity([]float32{1, 0}, []float32{1}), "dimension mismatch")
	assert.Zero(t, cosineSimilarity(nil, nil))
	assert.Zero(t, cosineSimilarity([]float32{0, 0}, []float32{1, 1}), "zero vector")
}
