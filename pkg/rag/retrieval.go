package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

const corpusClassName = "CorpusChunk"

// Retriever performs nearest-neighbor search over indexed chunks.
type Retriever interface {
	Search(ctx context.Context, vector []float32, k int, scoreThreshold float32, filter *SearchFilter) ([]ChunkRef, error)
}

// Indexer persists chunk vectors into the search index.
type Indexer interface {
	UpsertChunk(ctx context.Context, chunk *Chunk, doc *Document) error
	DeleteDocument(ctx context.Context, documentID string) error
}

// RetrievalConfig holds vector index connection settings.
type RetrievalConfig struct {
	Host       string        `json:"host"`
	Scheme     string        `json:"scheme"`
	APIKey     string        `json:"api_key"`
	Timeout    time.Duration `json:"timeout"`
	AutoSchema bool          `json:"auto_schema"`
}

// getDefaultRetrievalConfig returns default retrieval settings.
func getDefaultRetrievalConfig() *RetrievalConfig {
	return &RetrievalConfig{
		Host:       "localhost:8080",
		Scheme:     "http",
		Timeout:    30 * time.Second,
		AutoSchema: true,
	}
}

// RetrievalMetrics tracks retrieval service activity. It is a plain value
// type; the service guards its live instance with a separate mutex so
// snapshots copy freely.
type RetrievalMetrics struct {
	Searches    int64     `json:"searches"`
	Upserts     int64     `json:"upserts"`
	Deletes     int64     `json:"deletes"`
	Failures    int64     `json:"failures"`
	LastUpdated time.Time `json:"last_updated"`
}

// RetrievalService wraps the Weaviate vector index. Chunks are stored with
// externally computed vectors; search is pure nearest-neighbor with a
// certainty threshold, and metadata filters are pushed down to the index.
type RetrievalService struct {
	client *weaviate.Client
	config *RetrievalConfig
	logger *slog.Logger

	metricsMu sync.RWMutex
	metrics   RetrievalMetrics
}

// NewRetrievalService connects to the vector index and bootstraps the
// chunk schema when auto-schema is enabled.
func NewRetrievalService(config *RetrievalConfig) (*RetrievalService, error) {
	if config == nil {
		config = getDefaultRetrievalConfig()
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

	rs := &RetrievalService{
		client:  client,
		config:  config,
		logger:  slog.Default().With("component", "retrieval-service"),
		metrics: RetrievalMetrics{LastUpdated: time.Now()},
	}

	if config.AutoSchema {
		if err := rs.initializeSchema(context.Background()); err != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return rs, nil
}

// initializeSchema creates the corpus chunk class. Vectors are supplied by
// the embedding service, so the class carries no vectorizer module.
func (rs *RetrievalService) initializeSchema(ctx context.Context) error {
	truePtr := func() *bool { b := true; return &b }

	corpusClass := &models.Class{
		Class:       corpusClassName,
		Description: "One embedded chunk of a corporate corpus document",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "text",
				DataType:        []string{"text"},
				Description:     "Chunk text content",
				IndexSearchable: truePtr(),
			},
			{
				Name:            "documentId",
				DataType:        []string{"text"},
				Description:     "Owning document identifier",
				IndexFilterable: truePtr(),
			},
			{
				Name:            "documentTitle",
				DataType:        []string{"text"},
				Description:     "Owning document title for attribution",
			},
			{
				Name:            "sequenceIndex",
				DataType:        []string{"int"},
				Description:     "Zero-based chunk position within the document",
			},
			{
				Name:            "category",
				DataType:        []string{"text"},
				Description:     "Document category for filtered retrieval",
				IndexFilterable: truePtr(),
			},
			{
				Name:            "language",
				DataType:        []string{"text"},
				Description:     "Document language (ISO 639-1)",
				IndexFilterable: truePtr(),
			},
		},
	}

	err := rs.client.Schema().ClassCreator().WithClass(corpusClass).Do(ctx)
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		return fmt.Errorf("failed to create %s class: %w", corpusClassName, err)
	}
	return nil
}

// UpsertChunk writes one chunk and its vector into the index. The chunk ID
// doubles as the index object ID so re-upserts replace in place.
func (rs *RetrievalService) UpsertChunk(ctx context.Context, chunk *Chunk, doc *Document) error {
	if chunk == nil || doc == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "chunk and document must not be nil")
	}
	if len(chunk.Vector) == 0 {
		return errors.NewDataIntegrityError(errors.CodeIndexingFailed,
			fmt.Sprintf("chunk %d of document %s has no vector", chunk.SequenceIndex, doc.ID))
	}

	properties := map[string]interface{}{
		"text":          chunk.Text,
		"documentId":    chunk.DocumentID,
		"documentTitle": doc.Title,
		"sequenceIndex": chunk.SequenceIndex,
		"category":      doc.Category,
		"language":      doc.Language,
	}

	_, err := rs.client.Data().Creator().
		WithClassName(corpusClassName).
		WithID(chunk.ID).
		WithProperties(properties).
		WithVector(chunk.Vector).
		Do(ctx)
	if err != nil {
		rs.updateMetrics(func(m *RetrievalMetrics) { m.Failures++ })
		return errors.NewTransientError(errors.CodeIndexingFailed,
			fmt.Sprintf("failed to index chunk %d of document %s", chunk.SequenceIndex, doc.ID), err)
	}

	rs.updateMetrics(func(m *RetrievalMetrics) { m.Upserts++ })
	return nil
}

// Search returns up to k chunks whose certainty is at least scoreThreshold,
// ordered descending by score. An empty result is a valid outcome, not an
// error.
func (rs *RetrievalService) Search(ctx context.Context, vector []float32, k int, scoreThreshold float32, filter *SearchFilter) ([]ChunkRef, error) {
	if len(vector) == 0 {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "query vector must not be empty")
	}
	if k <= 0 {
		k = 10
	}

	nearVector := rs.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(scoreThreshold)

	query := rs.client.GraphQL().Get().
		WithClassName(corpusClassName).
		WithNearVector(nearVector).
		WithLimit(k).
		WithFields(
			graphql.Field{Name: "text"},
			graphql.Field{Name: "documentId"},
			graphql.Field{Name: "documentTitle"},
			graphql.Field{Name: "sequenceIndex"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{
				{Name: "id"},
				{Name: "certainty"},
			}},
		)

	if where := buildWhereFilter(filter); where != nil {
		query = query.WithWhere(where)
	}

	result, err := query.Do(ctx)
	if err != nil {
		rs.updateMetrics(func(m *RetrievalMetrics) { m.Failures++ })
		return nil, errors.NewTransientError(errors.CodeRetrievalUnavailable, "vector index search failed", err)
	}
	if len(result.Errors) > 0 {
		rs.updateMetrics(func(m *RetrievalMetrics) { m.Failures++ })
		return nil, errors.NewTransientError(errors.CodeRetrievalUnavailable,
			fmt.Sprintf("vector index search returned errors: %v", result.Errors[0].Message), nil)
	}

	refs := parseSearchRefs(result.Data, scoreThreshold)
	rs.updateMetrics(func(m *RetrievalMetrics) { m.Searches++ })

	rs.logger.Debug("Vector search completed",
		"k", k,
		"threshold", scoreThreshold,
		"results", len(refs),
	)
	return refs, nil
}

// DeleteDocument removes every indexed chunk belonging to the document.
func (rs *RetrievalService) DeleteDocument(ctx context.Context, documentID string) error {
	where := filters.Where().
		WithPath([]string{"documentId"}).
		WithOperator(filters.Equal).
		WithValueText(documentID)

	_, err := rs.client.Batch().ObjectsBatchDeleter().
		WithClassName(corpusClassName).
		WithWhere(where).
		Do(ctx)
	if err != nil {
		rs.updateMetrics(func(m *RetrievalMetrics) { m.Failures++ })
		return errors.NewTransientError(errors.CodeIndexingFailed,
			fmt.Sprintf("failed to delete chunks of document %s", documentID), err)
	}

	rs.updateMetrics(func(m *RetrievalMetrics) { m.Deletes++ })
	return nil
}

// Ping checks index connectivity.
func (rs *RetrievalService) Ping(ctx context.Context) error {
	ready, err := rs.client.Misc().ReadyChecker().Do(ctx)
	if err != nil {
		return fmt.Errorf("vector index not reachable: %w", err)
	}
	if !ready {
		return fmt.Errorf("vector index not ready")
	}
	return nil
}

// GetMetrics returns a snapshot of the service metrics.
func (rs *RetrievalService) GetMetrics() RetrievalMetrics {
	rs.metricsMu.RLock()
	defer rs.metricsMu.RUnlock()
	return rs.metrics
}

func (rs *RetrievalService) updateMetrics(updater func(*RetrievalMetrics)) {
	rs.metricsMu.Lock()
	defer rs.metricsMu.Unlock()
	updater(&rs.metrics)
	rs.metrics.LastUpdated = time.Now()
}

// buildWhereFilter translates a SearchFilter into an index-side predicate.
func buildWhereFilter(filter *SearchFilter) *filters.WhereBuilder {
	if filter == nil {
		return nil
	}

	var operands []*filters.WhereBuilder
	if filter.Category != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"category"}).
			WithOperator(filters.Equal).
			WithValueText(filter.Category))
	}
	if filter.Language != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"language"}).
			WithOperator(filters.Equal).
			WithValueText(filter.Language))
	}
	if filter.DocumentID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"documentId"}).
			WithOperator(filters.Equal).
			WithValueText(filter.DocumentID))
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

// parseSearchRefs extracts chunk references from a GraphQL search payload,
// dropping anything below the threshold that slipped past the index filter.
// Results are re-sorted descending by score rather than trusting the index
// ordering, so the contract holds regardless of what the payload carries.
func parseSearchRefs(data map[string]models.JSONObject, scoreThreshold float32) []ChunkRef {
	refs := make([]ChunkRef, 0)

	get, ok := data["Get"].(map[string]interface{})
	if !ok {
		return refs
	}
	items, ok := get[corpusClassName].([]interface{})
	if !ok {
		return refs
	}

	for _, item := range items {
		itemMap, ok := item.(map[string]interface{})
		if !ok {
			continue
		}

		ref := ChunkRef{}
		if val, ok := itemMap["text"].(string); ok {
			ref.Text = val
		}
		if val, ok := itemMap["documentId"].(string); ok {
			ref.DocumentID = val
		}
		if val, ok := itemMap["documentTitle"].(string); ok {
			ref.DocumentTitle = val
		}
		if val, ok := itemMap["sequenceIndex"].(float64); ok {
			ref.SequenceIndex = int(val)
		}
		if additional, ok := itemMap["_additional"].(map[string]interface{}); ok {
			if id, ok := additional["id"].(string); ok {
				ref.ChunkID = id
			}
			if certainty, ok := additional["certainty"].(float64); ok {
				ref.Score = float32(certainty)
			}
		}

		if ref.Score >= scoreThreshold {
			refs = append(refs, ref)
		}
	}

	sort.SliceStable(refs, func(i, j int) bool {
		return refs[i].Score > refs[j].Score
	})
	return refs
}
