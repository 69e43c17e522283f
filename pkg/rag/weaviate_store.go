package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// chunkNamespace makes chunk object IDs deterministic per (docID, index) so
// re-ingesting a document overwrites its previous chunks instead of
// duplicating them.
var chunkNamespace = uuid.MustParse("8f1b5b6e-44d2-4b38-9f3a-46a9cf56d1b0")

// WeaviateStore is the external vector database backend.
type WeaviateStore struct {
	client *weaviate.Client
	config *WeaviateConfig
	logger *slog.Logger
}

// WeaviateConfig holds connection settings for the Weaviate backend.
type WeaviateConfig struct {
	Host      string        `json:"host" yaml:"host"`
	Scheme    string        `json:"scheme" yaml:"scheme"`
	APIKey    string        `json:"api_key" yaml:"api_key"`
	ClassName string        `json:"class_name" yaml:"class_name"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// NewWeaviateStore connects to Weaviate and ensures the chunk class exists.
func NewWeaviateStore(config *WeaviateConfig, logger *slog.Logger) (*WeaviateStore, error) {
	if config == nil {
		return nil, fmt.Errorf("weaviate config cannot be nil")
	}
	if config.Scheme == "" {
		config.Scheme = "http"
	}
	if config.ClassName == "" {
		config.ClassName = "PolicyChunk"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	var authConfig auth.Config
	if config.APIKey != "" {
		authConfig = auth.ApiKey{Value: config.APIKey}
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:       config.Host,
		Scheme:     config.Scheme,
		AuthConfig: authConfig,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create weaviate client: %w", err)
	}

	ws := &WeaviateStore{
		client: client,
		config: config,
		logger: logger.With("component", "weaviate-store"),
	}

	if err := ws.ensureSchema(context.Background()); err != nil {
		return nil, err
	}

	return ws, nil
}

// ensureSchema creates the chunk class with vectorizer disabled; vectors are
// supplied by the embedding provider at upsert time.
func (ws *WeaviateStore) ensureSchema(ctx context.Context) error {
	class := &models.Class{
		Class:       ws.config.ClassName,
		Description: "A chunk of an HR policy document",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}, Description: "Chunk text"},
			{Name: "docID", DataType: []string{"text"}, Description: "Source document identifier"},
			{Name: "section", DataType: []string{"text"}, Description: "Section heading"},
			{Name: "category", DataType: []string{"text"}, Description: "Policy category"},
			{Name: "page", DataType: []string{"int"}, Description: "Page number, zero when unknown"},
			{Name: "chunkIndex", DataType: []string{"int"}, Description: "Position of the chunk in its document"},
		},
	}

	err := ws.client.Schema().ClassCreator().WithClass(class).Do(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create %s class: %w", ws.config.ClassName, err)
		}
		ws.logger.Debug("Class already exists", "class", ws.config.ClassName)
	} else {
		ws.logger.Info("Created class", "class", ws.config.ClassName)
	}
	return nil
}

// Upsert stores chunks with their embedding vectors in a single batch.
func (ws *WeaviateStore) Upsert(ctx context.Context, chunks []*PolicyChunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}

	objects := make([]*models.Object, 0, len(chunks))
	for i, chunk := range chunks {
		if err := chunk.Validate(); err != nil {
			return fmt.Errorf("invalid chunk: %w", err)
		}
		id := uuid.NewSHA1(chunkNamespace, []byte(fmt.Sprintf("%s#%d", chunk.DocID, chunk.ChunkIndex)))
		objects = append(objects, &models.Object{
			Class: ws.config.ClassName,
			ID:    strfmt.UUID(id.String()),
			Properties: map[string]interface{}{
				"content":    chunk.Text,
				"docID":      chunk.DocID,
				"section":    chunk.Section,
				"category":   chunk.Category,
				"page":       chunk.Page,
				"chunkIndex": chunk.ChunkIndex,
			},
			Vector: models.C11yVector(vectors[i]),
		})
	}

	resp, err := ws.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate batch upsert failed: %w", err)
	}
	for _, r := range resp {
		if r.Result != nil && r.Result.Errors != nil && len(r.Result.Errors.Error) > 0 {
			return fmt.Errorf("weaviate upsert rejected object %s: %s", r.ID, r.Result.Errors.Error[0].Message)
		}
	}

	ws.logger.Info("Upserted chunks", "count", len(chunks), "doc_id", chunks[0].DocID)
	return nil
}

// Search runs a nearVector query and returns results ordered by certainty.
func (ws *WeaviateStore) Search(ctx context.Context, vector []float32, limit int, filterMap map[string]string) ([]ScoredChunk, error) {
	nearVector := ws.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "content"},
		{Name: "docID"},
		{Name: "section"},
		{Name: "category"},
		{Name: "page"},
		{Name: "chunkIndex"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	query := ws.client.GraphQL().Get().
		WithClassName(ws.config.ClassName).
		WithNearVector(nearVector).
		WithFields(fields...).
		WithLimit(limit)

	if where := buildWhereFilter(filterMap); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		return nil, NewError(KindRetrievalUnavailable, "weaviate.search", err)
	}
	if len(result.Errors) > 0 {
		return nil, Errorf(KindRetrievalUnavailable, "weaviate.search", "graphql error: %s", result.Errors[0].Message)
	}

	return ws.parseSearchResults(result.Data), nil
}

func (ws *WeaviateStore) parseSearchResults(data map[string]models.JSONObject) []ScoredChunk {
	results := make([]ScoredChunk, 0)

	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return results
	}
	items, ok := get[ws.config.ClassName].([]interface{})
	if !ok {
		return results
	}

	for _, item := range items {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		chunk := &PolicyChunk{}
		if v, ok := itemMap["content"].(string); ok {
			chunk.Text = v
		}
		if v, ok := itemMap["docID"].(string); ok {
			chunk.DocID = v
		}
		if v, ok := itemMap["section"].(string); ok {
			chunk.Section = v
		}
		if v, ok := itemMap["category"].(string); ok {
			chunk.Category = v
		}
		if v, ok := itemMap["page"].(float64); ok {
			chunk.Page = int(v)
		}
		if v, ok := itemMap["chunkIndex"].(float64); ok {
			chunk.ChunkIndex = int(v)
		}

		sc := ScoredChunk{Chunk: chunk, Rank: len(results)}
		if additional, ok := itemMap["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				chunk.ID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				sc.Score = float32(certainty)
			}
		}
		results = append(results, sc)
	}

	return results
}

// propertyNames maps request filter keys to schema property names.
var propertyNames = map[string]string{
	"doc_id":   "docID",
	"category": "category",
	"section":  "section",
}

func buildWhereFilter(filterMap map[string]string) *filters.WhereBuilder {
	operands := make([]*filters.WhereBuilder, 0, len(filterMap))
	for key, value := range filterMap {
		if value == "" {
			continue
		}
		prop, ok := propertyNames[key]
		if !ok {
			prop = key
		}
		operands = append(operands, filters.Where().
			WithPath([]string{prop}).
			WithOperator(filters.Equal).
			WithValueText(value))
	}

	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}

// Count returns the total number of stored chunks.
func (ws *WeaviateStore) Count(ctx context.Context) (int64, error) {
	result, err := ws.client.GraphQL().Aggregate().
		WithClassName(ws.config.ClassName).
		WithFields(graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}}).
		Do(ctx)
	if err != nil {
		return 0, NewError(KindRetrievalUnavailable, "weaviate.count", err)
	}
	if len(result.Errors) > 0 {
		return 0, Errorf(KindRetrievalUnavailable, "weaviate.count", "graphql error: %s", result.Errors[0].Message)
	}

	agg, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	items, ok := agg[ws.config.ClassName].([]interface{})
	if !ok || len(items) == 0 {
		return 0, nil
	}
	itemMap, ok := items[0].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	meta, ok := itemMap["meta"].(map[string]interface{})
	if !ok {
		return 0, nil
	}
	count, _ := meta["count"].(float64)
	return int64(count), nil
}

// Docs aggregates chunk counts grouped by source document.
func (ws *WeaviateStore) Docs(ctx context.Context) ([]DocInfo, error) {
	result, err := ws.client.GraphQL().Aggregate().
		WithClassName(ws.config.ClassName).
		WithGroupBy("docID").
		WithFields(
			graphql.Field{Name: "meta", Fields: []graphql.Field{{Name: "count"}}},
			graphql.Field{Name: "groupedBy", Fields: []graphql.Field{{Name: "value"}}},
		).
		Do(ctx)
	if err != nil {
		return nil, NewError(KindRetrievalUnavailable, "weaviate.docs", err)
	}
	if len(result.Errors) > 0 {
		return nil, Errorf(KindRetrievalUnavailable, "weaviate.docs", "graphql error: %s", result.Errors[0].Message)
	}

	docs := make([]DocInfo, 0)
	agg, ok := result.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return docs, nil
	}
	items, ok := agg[ws.config.ClassName].([]interface{})
	if !ok {
		return docs, nil
	}
	for _, item := range items {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		info := DocInfo{}
		if grouped, ok := itemMap["groupedBy"].(map[string]interface{}); ok {
			if v, ok := grouped["value"].(string); ok {
				info.DocID = v
				info.Title = v
			}
		}
		if meta, ok := itemMap["meta"].(map[string]interface{}); ok {
			if v, ok := meta["count"].(float64); ok {
				info.Chunks = int(v)
			}
		}
		if info.DocID != "" {
			docs = append(docs, info)
		}
	}
	return docs, nil
}

// Close is a no-op; the Weaviate client holds no persistent connections that
// need explicit teardown.
func (ws *WeaviateStore) Close() error {
	return nil
}
