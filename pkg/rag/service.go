package rag

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/BYevYX/ai-onboarding-bot/pkg/cache"
	"github.com/BYevYX/ai-onboarding-bot/pkg/ratelimit"
)

// ServiceConfig aggregates the configuration of every core component.
// Nil sections fall back to their component defaults. A nil Redis section
// runs the shared cache layer and the rate limiter in process.
type ServiceConfig struct {
	Redis       *cache.RedisStoreConfig  `json:"redis"`
	LocalCache  *cache.MemoryCacheConfig `json:"local_cache"`
	TieredCache *cache.TieredCacheConfig `json:"tiered_cache"`
	Embedding   *EmbeddingConfig         `json:"embedding"`
	Retrieval   *RetrievalConfig         `json:"retrieval"`
	Generation  *GenerationConfig        `json:"generation"`
	Translation *TranslationConfig       `json:"translation"`
	Ingestion   *IngestionConfig         `json:"ingestion"`
	Workflow    *WorkflowConfig          `json:"workflow"`
}

// CacheStats is the observability snapshot exposed to callers.
type CacheStats struct {
	HitRate    float64            `json:"hit_rate"`
	LayerSizes map[string]int64   `json:"layer_sizes"`
	Layers     cache.TieredStats  `json:"layers"`
}

// Service is the composition root of the RAG core. It owns the cache, the
// rate limiter, the external-service clients, the ingestion pipeline, and
// the query workflow, and exposes the operations the transport layer calls.
type Service struct {
	config    *ServiceConfig
	cache     *cache.TieredCache
	local     *cache.MemoryCache
	limiter   *ratelimit.Limiter
	embedder  *EmbeddingService
	retriever *RetrievalService
	generator *GenerationService
	workflow  *QueryWorkflow
	ingestion *IngestionPipeline
	repo      DocumentRepository
	metrics   *Metrics
	logger    *slog.Logger
}

// NewService wires the full core. The repository is injected because its
// production implementation lives outside the core.
func NewService(config *ServiceConfig, repo DocumentRepository, registerer prometheus.Registerer) (*Service, error) {
	if config == nil {
		config = &ServiceConfig{}
	}
	if repo == nil {
		repo = NewMemoryDocumentRepository()
	}

	var metrics *Metrics
	if registerer != nil {
		metrics = NewMetrics(registerer)
	}

	local := cache.NewMemoryCache(config.LocalCache)

	var shared cache.SharedStore
	var windowStore ratelimit.WindowStore
	if config.Redis != nil {
		redisStore, err := cache.NewRedisStore(config.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to create shared cache store: %w", err)
		}
		shared = redisStore
		windowStore = ratelimit.NewRedisWindowStore(redisStore.Client(), "onboarding:")
	} else {
		shared = cache.NewMemorySharedStore(100000, time.Hour)
		windowStore = ratelimit.NewMemoryWindowStore()
	}

	tiered := cache.NewTieredCache(local, shared, config.TieredCache)
	limiter := ratelimit.NewLimiter(windowStore, true)

	retriever, err := NewRetrievalService(config.Retrieval)
	if err != nil {
		tiered.Close()
		return nil, err
	}

	embedder := NewEmbeddingService(config.Embedding, tiered)
	generator := NewGenerationService(config.Generation)
	translator := NewTranslationService(config.Translation)

	svc := &Service{
		config:    config,
		cache:     tiered,
		local:     local,
		limiter:   limiter,
		embedder:  embedder,
		retriever: retriever,
		generator: generator,
		repo:      repo,
		metrics:   metrics,
		logger:    slog.Default().With("component", "rag-service"),
	}
	svc.workflow = NewQueryWorkflow(config.Workflow, embedder, retriever, generator, translator, tiered, limiter, metrics)
	svc.ingestion = NewIngestionPipeline(config.Ingestion, embedder, retriever, repo, metrics)

	svc.logger.Info("RAG service initialized",
		"shared_cache", config.Redis != nil,
	)
	return svc, nil
}

// ProcessQuery answers one user question through the query workflow.
func (s *Service) ProcessQuery(ctx context.Context, text string, userCtx UserContext) (*QueryResult, error) {
	return s.workflow.ProcessQuery(ctx, text, userCtx)
}

// IngestDocument runs the ingestion pipeline for one uploaded document.
func (s *Service) IngestDocument(ctx context.Context, raw []byte, declaredType string, meta IngestMetadata) (*IngestResult, error) {
	return s.ingestion.Ingest(ctx, raw, declaredType, meta)
}

// DeleteDocument removes a document from the index and retires its record.
func (s *Service) DeleteDocument(ctx context.Context, documentID string) error {
	return s.ingestion.DeleteDocument(ctx, documentID)
}

// ListDocuments returns the known document records.
func (s *Service) ListDocuments(ctx context.Context) ([]*Document, error) {
	return s.repo.ListDocuments(ctx)
}

// GetCacheStats returns the cache observability snapshot and refreshes the
// exported hit-ratio gauges.
func (s *Service) GetCacheStats() CacheStats {
	stats := s.cache.Stats()
	s.metrics.SetCacheHitRatio("local", stats.Local.HitRate)
	s.metrics.SetCacheHitRatio("shared", stats.Shared.HitRate)

	return CacheStats{
		HitRate: stats.HitRate(),
		LayerSizes: map[string]int64{
			"local": stats.Local.CurrentItems,
		},
		Layers: stats,
	}
}

// Ping verifies the external dependencies are reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.retriever.Ping(ctx)
}

// Close releases held resources.
func (s *Service) Close() error {
	s.logger.Info("Shutting down RAG service")
	return s.cache.Close()
}
