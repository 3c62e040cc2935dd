package rag

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

// IngestionConfig controls the document ingestion pipeline.
type IngestionConfig struct {
	Chunking     *ChunkingConfig `json:"chunking"`
	IndexWorkers int             `json:"index_workers"`
}

// getDefaultIngestionConfig returns default ingestion settings.
func getDefaultIngestionConfig() *IngestionConfig {
	return &IngestionConfig{
		Chunking:     getDefaultChunkingConfig(),
		IndexWorkers: 4,
	}
}

// IngestMetadata carries caller-supplied document attributes.
type IngestMetadata struct {
	Title    string `json:"title"`
	Category string `json:"category"`
	Language string `json:"language"`
}

// IngestionPipeline orchestrates parse, chunk, embed, and index for one
// uploaded document. Indexing is all-or-nothing per document: a document
// becomes queryable only after every chunk is durably indexed, and any
// chunk failure rolls back the chunks already written.
type IngestionPipeline struct {
	config   *IngestionConfig
	chunker  *ChunkingService
	embedder Embedder
	indexer  Indexer
	repo     DocumentRepository
	metrics  *Metrics
	logger   *slog.Logger
}

// NewIngestionPipeline wires the pipeline dependencies.
func NewIngestionPipeline(config *IngestionConfig, embedder Embedder, indexer Indexer, repo DocumentRepository, metrics *Metrics) *IngestionPipeline {
	if config == nil {
		config = getDefaultIngestionConfig()
	}
	if config.IndexWorkers <= 0 {
		config.IndexWorkers = 4
	}
	return &IngestionPipeline{
		config:   config,
		chunker:  NewChunkingService(config.Chunking),
		embedder: embedder,
		indexer:  indexer,
		repo:     repo,
		metrics:  metrics,
		logger:   slog.Default().With("component", "ingestion-pipeline"),
	}
}

// Ingest processes one uploaded document end to end. Validation and
// extraction failures are terminal for the document, never for the
// pipeline. Identical byte content already indexed is reported as a
// duplicate without reprocessing.
func (ip *IngestionPipeline) Ingest(ctx context.Context, raw []byte, declaredType string, meta IngestMetadata) (*IngestResult, error) {
	startTime := time.Now()

	result, err := ip.ingest(ctx, raw, declaredType, meta)
	if result != nil {
		result.Took = time.Since(startTime)
		ip.metrics.ObserveIngest(result.Status)
	}
	return result, err
}

func (ip *IngestionPipeline) ingest(ctx context.Context, raw []byte, declaredType string, meta IngestMetadata) (*IngestResult, error) {
	if len(raw) == 0 {
		return failedResult("document is empty"),
			errors.NewValidationError(errors.CodeEmptyDocument, "document is empty")
	}

	sniffed := SniffContentType(raw)
	if sniffed == "" {
		return failedResult("unrecognized document format"),
			errors.NewValidationError(errors.CodeUnsupportedFormat, "unrecognized document format")
	}
	if declaredType != "" && declaredType != sniffed {
		reason := fmt.Sprintf("declared type %q does not match detected type %q", declaredType, sniffed)
		return failedResult(reason), errors.NewValidationError(errors.CodeTypeMismatch, reason)
	}

	contentHash := fmt.Sprintf("%x", sha256.Sum256(raw))
	if existing, err := ip.repo.FindByContentHash(ctx, contentHash); err != nil {
		return failedResult("duplicate lookup failed"), err
	} else if existing != nil {
		ip.logger.Info("Duplicate upload detected",
			"content_hash", contentHash,
			"duplicate_of", existing.ID,
		)
		return &IngestResult{
			Status:      IngestStatusDuplicate,
			DuplicateOf: existing.ID,
		}, nil
	}

	text, err := ExtractText(raw, sniffed)
	if err != nil {
		return failedResult(fmt.Sprintf("text extraction failed: %v", err)), err
	}

	doc := &Document{
		ID:          uuid.NewString(),
		Title:       meta.Title,
		ContentHash: contentHash,
		Language:    meta.Language,
		Category:    meta.Category,
		SourceType:  sniffed,
		Status:      DocumentStatusPending,
		CreatedAt:   time.Now(),
	}
	if doc.Language == "" {
		doc.Language = DetectLanguage(text, "").Language
	}

	chunks := ip.chunker.ChunkDocument(doc.ID, text)
	if len(chunks) == 0 {
		return failedResult("document contains no extractable text"),
			errors.NewValidationError(errors.CodeEmptyDocument, "document contains no extractable text")
	}
	for i := range chunks {
		chunks[i].ID = uuid.NewString()
	}

	if err := ip.repo.SaveDocument(ctx, doc); err != nil {
		return failedResult("failed to persist document record"), err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := ip.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		ip.markFailed(doc, fmt.Sprintf("embedding failed: %v", err))
		return failedResult("embedding failed"), err
	}
	for i := range chunks {
		chunks[i].Vector = vectors[i]
	}

	if err := ip.repo.SaveChunks(ctx, doc.ID, chunks); err != nil {
		ip.markFailed(doc, "failed to persist chunk records")
		return failedResult("failed to persist chunk records"), err
	}

	if err := ip.indexChunks(ctx, doc, chunks); err != nil {
		ip.rollbackIndex(doc)
		ip.markFailed(doc, fmt.Sprintf("indexing failed: %v", err))
		return failedResult("indexing failed"), err
	}

	if err := ip.repo.MarkIndexed(ctx, doc.ID); err != nil {
		ip.rollbackIndex(doc)
		ip.markFailed(doc, "failed to mark document indexed")
		return failedResult("failed to mark document indexed"), err
	}

	ip.logger.Info("Document ingested",
		"document_id", doc.ID,
		"title", doc.Title,
		"source_type", doc.SourceType,
		"chunks", len(chunks),
	)
	return &IngestResult{
		Status:     IngestStatusIndexed,
		DocumentID: doc.ID,
		ChunkCount: len(chunks),
	}, nil
}

// indexChunks fans the per-chunk upserts out over a bounded worker pool
// and waits for all of them. Chunk index order does not need to match
// sequence order; the caller flips the queryable flag only after this
// barrier passes.
func (ip *IngestionPipeline) indexChunks(ctx context.Context, doc *Document, chunks []Chunk) error {
	jobs := make(chan *Chunk)
	indexErrs := make(chan error, len(chunks))
	var wg sync.WaitGroup

	workers := ip.config.IndexWorkers
	if workers > len(chunks) {
		workers = len(chunks)
	}

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				if err := ip.indexer.UpsertChunk(ctx, chunk, doc); err != nil {
					indexErrs <- err
				}
			}
		}()
	}

	for i := range chunks {
		jobs <- &chunks[i]
	}
	close(jobs)
	wg.Wait()
	close(indexErrs)

	return <-indexErrs
}

// rollbackIndex removes any chunks of the document already written to the
// index so a failed document is never partially searchable. Rollback runs
// on a fresh context so caller cancellation cannot leave it half done.
func (ip *IngestionPipeline) rollbackIndex(doc *Document) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := ip.indexer.DeleteDocument(ctx, doc.ID); err != nil {
		ip.logger.Error("Index rollback failed",
			"document_id", doc.ID,
			"error", err,
		)
	}
}

func (ip *IngestionPipeline) markFailed(doc *Document, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := ip.repo.MarkFailed(ctx, doc.ID, reason); err != nil {
		ip.logger.Error("Failed to record ingestion failure",
			"document_id", doc.ID,
			"error", err,
		)
	}
}

// DeleteDocument removes a document from the index and retires its record.
func (ip *IngestionPipeline) DeleteDocument(ctx context.Context, documentID string) error {
	if err := ip.indexer.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	return ip.repo.MarkDeleted(ctx, documentID)
}

func failedResult(reason string) *IngestResult {
	return &IngestResult{Status: IngestStatusFailed, Reason: reason}
}
