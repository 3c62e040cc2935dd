package rag

import (
	"context"
	"sync"
	"time"

	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

// DocumentRepository is the narrow persistence contract the core writes
// document and chunk records through. The relational implementation lives
// outside the core; the in-memory one below backs tests and single-process
// deployments.
type DocumentRepository interface {
	SaveDocument(ctx context.Context, doc *Document) error
	SaveChunks(ctx context.Context, documentID string, chunks []Chunk) error
	MarkIndexed(ctx context.Context, documentID string) error
	MarkFailed(ctx context.Context, documentID string, reason string) error
	MarkDeleted(ctx context.Context, documentID string) error
	FindByContentHash(ctx context.Context, contentHash string) (*Document, error)
	GetDocument(ctx context.Context, documentID string) (*Document, error)
	ListDocuments(ctx context.Context) ([]*Document, error)
}

// MemoryDocumentRepository is a concurrency-safe in-memory repository.
type MemoryDocumentRepository struct {
	mutex     sync.RWMutex
	documents map[string]*Document
	chunks    map[string][]Chunk
	byHash    map[string]string
	failures  map[string]string
}

// NewMemoryDocumentRepository creates an empty in-memory repository.
func NewMemoryDocumentRepository() *MemoryDocumentRepository {
	return &MemoryDocumentRepository{
		documents: make(map[string]*Document),
		chunks:    make(map[string][]Chunk),
		byHash:    make(map[string]string),
		failures:  make(map[string]string),
	}
}

// SaveDocument stores a document record. The content hash is registered
// for duplicate detection while the document remains active.
func (mr *MemoryDocumentRepository) SaveDocument(ctx context.Context, doc *Document) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	stored := *doc
	mr.documents[doc.ID] = &stored
	mr.byHash[doc.ContentHash] = doc.ID
	return nil
}

// SaveChunks stores the chunk records for a document.
func (mr *MemoryDocumentRepository) SaveChunks(ctx context.Context, documentID string, chunks []Chunk) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	if _, ok := mr.documents[documentID]; !ok {
		return errors.NewDataIntegrityError(errors.CodeInvalidInput, "chunks saved for unknown document "+documentID)
	}
	mr.chunks[documentID] = append([]Chunk(nil), chunks...)
	if doc := mr.documents[documentID]; doc != nil {
		doc.ChunkCount = len(chunks)
	}
	return nil
}

// MarkIndexed flips the document to indexed. Only called after every chunk
// has been durably indexed.
func (mr *MemoryDocumentRepository) MarkIndexed(ctx context.Context, documentID string) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	doc, ok := mr.documents[documentID]
	if !ok {
		return errors.NewDataIntegrityError(errors.CodeInvalidInput, "unknown document "+documentID)
	}
	doc.Status = DocumentStatusIndexed
	doc.IndexedAt = time.Now()
	return nil
}

// MarkFailed records a terminal ingestion failure. The content hash is
// released so the document can be re-uploaded after the cause is fixed.
func (mr *MemoryDocumentRepository) MarkFailed(ctx context.Context, documentID string, reason string) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	doc, ok := mr.documents[documentID]
	if !ok {
		return errors.NewDataIntegrityError(errors.CodeInvalidInput, "unknown document "+documentID)
	}
	doc.Status = DocumentStatusFailed
	mr.failures[documentID] = reason
	delete(mr.byHash, doc.ContentHash)
	return nil
}

// MarkDeleted retires a document and releases its content hash.
func (mr *MemoryDocumentRepository) MarkDeleted(ctx context.Context, documentID string) error {
	mr.mutex.Lock()
	defer mr.mutex.Unlock()

	doc, ok := mr.documents[documentID]
	if !ok {
		return errors.NewDataIntegrityError(errors.CodeInvalidInput, "unknown document "+documentID)
	}
	doc.Status = DocumentStatusDeleted
	delete(mr.byHash, doc.ContentHash)
	return nil
}

// FindByContentHash returns the active document with the given hash, or
// nil when none exists.
func (mr *MemoryDocumentRepository) FindByContentHash(ctx context.Context, contentHash string) (*Document, error) {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	id, ok := mr.byHash[contentHash]
	if !ok {
		return nil, nil
	}
	doc := mr.documents[id]
	if doc == nil || doc.Status == DocumentStatusDeleted || doc.Status == DocumentStatusFailed {
		return nil, nil
	}
	copied := *doc
	return &copied, nil
}

// GetDocument returns the document by ID.
func (mr *MemoryDocumentRepository) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	doc, ok := mr.documents[documentID]
	if !ok {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "unknown document "+documentID)
	}
	copied := *doc
	return &copied, nil
}

// ListDocuments returns all known documents.
func (mr *MemoryDocumentRepository) ListDocuments(ctx context.Context) ([]*Document, error) {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()

	docs := make([]*Document, 0, len(mr.documents))
	for _, doc := range mr.documents {
		copied := *doc
		docs = append(docs, &copied)
	}
	return docs, nil
}

// FailureReason returns the recorded failure reason for a document.
func (mr *MemoryDocumentRepository) FailureReason(documentID string) string {
	mr.mutex.RLock()
	defer mr.mutex.RUnlock()
	return mr.failures[documentID]
}
