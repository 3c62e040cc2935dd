package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

// fakeIndexer records upserts in memory and can fail a chosen chunk.
type fakeIndexer struct {
	mutex          sync.Mutex
	store          map[string]ChunkRef
	failOnSequence int
	upserts        int
	deletes        int
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{store: make(map[string]ChunkRef), failOnSequence: -1}
}

func (fi *fakeIndexer) UpsertChunk(ctx context.Context, chunk *Chunk, doc *Document) error {
	fi.mutex.Lock()
	defer fi.mutex.Unlock()

	if chunk.SequenceIndex == fi.failOnSequence {
		return errors.NewTransientError(errors.CodeIndexingFailed,
			fmt.Sprintf("index write failed for chunk %d", chunk.SequenceIndex), nil)
	}
	fi.upserts++
	fi.store[chunk.ID] = ChunkRef{
		ChunkID:       chunk.ID,
		DocumentID:    chunk.DocumentID,
		SequenceIndex: chunk.SequenceIndex,
		Text:          chunk.Text,
	}
	return nil
}

func (fi *fakeIndexer) DeleteDocument(ctx context.Context, documentID string) error {
	fi.mutex.Lock()
	defer fi.mutex.Unlock()

	fi.deletes++
	for id, ref := range fi.store {
		if ref.DocumentID == documentID {
			delete(fi.store, id)
		}
	}
	return nil
}

func (fi *fakeIndexer) indexedCount(documentID string) int {
	fi.mutex.Lock()
	defer fi.mutex.Unlock()

	count := 0
	for _, ref := range fi.store {
		if ref.DocumentID == documentID {
			count++
		}
	}
	return count
}

func newTestPipeline(t *testing.T, chunking *ChunkingConfig) (*IngestionPipeline, *fakeEmbedder, *fakeIndexer, *MemoryDocumentRepository) {
	t.Helper()
	embedder := &fakeEmbedder{}
	indexer := newFakeIndexer()
	repo := NewMemoryDocumentRepository()
	pipeline := NewIngestionPipeline(&IngestionConfig{
		Chunking:     chunking,
		IndexWorkers: 2,
	}, embedder, indexer, repo, nil)
	return pipeline, embedder, indexer, repo
}

func TestIngestSmallTextDocument(t *testing.T) {
	pipeline, embedder, indexer, repo := newTestPipeline(t, nil)
	ctx := context.Background()

	text := "Welcome to the company. Your badge arrives on day one. HR sits on the third floor."
	result, err := pipeline.Ingest(ctx, []byte(text), SourceTypeTXT, IngestMetadata{Title: "Welcome"})
	require.NoError(t, err)

	// Chunk size far exceeds the text, so exactly one chunk results, one
	// embedding batch is sent, and one index upsert happens.
	assert.Equal(t, IngestStatusIndexed, result.Status)
	assert.Equal(t, 1, result.ChunkCount)
	assert.Equal(t, int64(1), embedder.calls)
	assert.Equal(t, 1, indexer.upserts)

	doc, err := repo.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, DocumentStatusIndexed, doc.Status)
	assert.Equal(t, 1, doc.ChunkCount)
	assert.False(t, doc.IndexedAt.IsZero())
}

func TestIngestAtomicityOnChunkFailure(t *testing.T) {
	pipeline, _, indexer, repo := newTestPipeline(t, &ChunkingConfig{
		ChunkSize:    80,
		ChunkOverlap: 20,
		MinChunkSize: 30,
	})
	indexer.failOnSequence = 2
	ctx := context.Background()

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "Clause %d of the employee handbook explains a policy. ", i)
	}

	result, err := pipeline.Ingest(ctx, []byte(sb.String()), SourceTypeTXT, IngestMetadata{Title: "Handbook"})
	require.Error(t, err)
	require.NotNil(t, result)

	assert.Equal(t, IngestStatusFailed, result.Status)
	assert.Equal(t, errors.CodeIndexingFailed, errors.CodeOf(err))

	docs, err := repo.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, DocumentStatusFailed, docs[0].Status)
	assert.Equal(t, 0, indexer.indexedCount(docs[0].ID), "no chunk of a failed document stays retrievable")
	assert.Equal(t, 1, indexer.deletes, "partial index writes are rolled back")
	assert.NotEmpty(t, repo.FailureReason(docs[0].ID))
}

func TestIngestDuplicateDetection(t *testing.T) {
	pipeline, embedder, indexer, _ := newTestPipeline(t, nil)
	ctx := context.Background()

	content := []byte("Remote work is allowed two days per week. Approval comes from your manager.")

	first, err := pipeline.Ingest(ctx, content, SourceTypeTXT, IngestMetadata{Title: "Remote work"})
	require.NoError(t, err)
	require.Equal(t, IngestStatusIndexed, first.Status)

	embedCallsBefore := embedder.calls
	upsertsBefore := indexer.upserts

	second, err := pipeline.Ingest(ctx, content, SourceTypeTXT, IngestMetadata{Title: "Remote work again"})
	require.NoError(t, err)

	assert.Equal(t, IngestStatusDuplicate, second.Status)
	assert.Equal(t, first.DocumentID, second.DuplicateOf)
	assert.Equal(t, embedCallsBefore, embedder.calls, "duplicates trigger no embedding calls")
	assert.Equal(t, upsertsBefore, indexer.upserts, "duplicates trigger no index writes")
}

func TestIngestReuploadAfterFailureSucceeds(t *testing.T) {
	pipeline, _, indexer, _ := newTestPipeline(t, &ChunkingConfig{
		ChunkSize:    80,
		ChunkOverlap: 20,
		MinChunkSize: 30,
	})
	indexer.failOnSequence = 1
	ctx := context.Background()

	var sb strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&sb, "Benefit %d is described in this sentence right here. ", i)
	}
	content := []byte(sb.String())

	failed, err := pipeline.Ingest(ctx, content, SourceTypeTXT, IngestMetadata{Title: "Benefits"})
	require.Error(t, err)
	require.Equal(t, IngestStatusFailed, failed.Status)

	// A failed document releases its content hash, so the fixed re-upload
	// is not treated as a duplicate.
	indexer.failOnSequence = -1
	retried, err := pipeline.Ingest(ctx, content, SourceTypeTXT, IngestMetadata{Title: "Benefits"})
	require.NoError(t, err)
	assert.Equal(t, IngestStatusIndexed, retried.Status)
}

func TestIngestTypeMismatchRejected(t *testing.T) {
	pipeline, embedder, _, _ := newTestPipeline(t, nil)

	result, err := pipeline.Ingest(context.Background(), []byte("plain text content here"), SourceTypePDF, IngestMetadata{})
	require.Error(t, err)

	assert.Equal(t, IngestStatusFailed, result.Status)
	assert.Equal(t, errors.CodeTypeMismatch, errors.CodeOf(err))
	assert.Equal(t, int64(0), embedder.calls)
}

func TestIngestEmptyDocumentRejected(t *testing.T) {
	pipeline, _, _, _ := newTestPipeline(t, nil)

	result, err := pipeline.Ingest(context.Background(), nil, SourceTypeTXT, IngestMetadata{})
	require.Error(t, err)
	assert.Equal(t, IngestStatusFailed, result.Status)
	assert.Equal(t, errors.CodeEmptyDocument, errors.CodeOf(err))
}

func TestIngestEmbeddingFailureMarksDocumentFailed(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.NewTransientError(errors.CodeEmbeddingUnavailable, "endpoint down", nil)}
	indexer := newFakeIndexer()
	repo := NewMemoryDocumentRepository()
	pipeline := NewIngestionPipeline(nil, embedder, indexer, repo, nil)

	result, err := pipeline.Ingest(context.Background(),
		[]byte("Some onboarding text that chunks fine."), SourceTypeTXT, IngestMetadata{})
	require.Error(t, err)
	assert.Equal(t, IngestStatusFailed, result.Status)
	assert.Equal(t, 0, indexer.upserts)

	docs, err := repo.ListDocuments(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, DocumentStatusFailed, docs[0].Status)
}

func TestDeleteDocument(t *testing.T) {
	pipeline, _, indexer, repo := newTestPipeline(t, nil)
	ctx := context.Background()

	result, err := pipeline.Ingest(ctx, []byte("Parking passes are issued by reception."), SourceTypeTXT, IngestMetadata{Title: "Parking"})
	require.NoError(t, err)

	require.NoError(t, pipeline.DeleteDocument(ctx, result.DocumentID))
	assert.Equal(t, 0, indexer.indexedCount(result.DocumentID))

	doc, err := repo.GetDocument(ctx, result.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, DocumentStatusDeleted, doc.Status)
}
