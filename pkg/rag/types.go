// Package rag implements the retrieval-augmented question answering core:
// document ingestion and chunking, embedding with tiered caching, vector
// retrieval, reranking, context assembly, answer generation, and the
// seven-stage query workflow that ties them together.
package rag

import (
	"time"
)

// Document represents one ingested corpus document. Content is immutable
// once indexed; re-uploading the same bytes is detected by ContentHash and
// reported as a duplicate instead of reprocessing.
type Document struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	ContentHash string            `json:"content_hash"`
	Language    string            `json:"language"`
	Category    string            `json:"category"`
	SourceType  string            `json:"source_type"`
	Status      DocumentStatus    `json:"status"`
	ChunkCount  int               `json:"chunk_count"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	IndexedAt   time.Time         `json:"indexed_at,omitempty"`
}

// DocumentStatus is the lifecycle state of an ingested document.
type DocumentStatus string

const (
	DocumentStatusPending DocumentStatus = "pending"
	DocumentStatusIndexed DocumentStatus = "indexed"
	DocumentStatusFailed  DocumentStatus = "failed"
	DocumentStatusDeleted DocumentStatus = "deleted"
)

// Chunk is one contiguous span of a document's normalized text, sized for
// embedding and retrieval. SequenceIndex is zero-based and contiguous
// within the document; StartOffset/EndOffset index into the normalized
// source text.
type Chunk struct {
	ID            string    `json:"id"`
	DocumentID    string    `json:"document_id"`
	SequenceIndex int       `json:"sequence_index"`
	Text          string    `json:"text"`
	StartOffset   int       `json:"start_offset"`
	EndOffset     int       `json:"end_offset"`
	ByteLength    int       `json:"byte_length"`
	Vector        []float32 `json:"vector,omitempty"`
}

// ChunkRef identifies a retrieved chunk together with its relevance score.
type ChunkRef struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	SequenceIndex int     `json:"sequence_index"`
	Text          string  `json:"text"`
	Score         float32 `json:"score"`
}

// UserContext carries per-caller information the workflow needs: identity
// for rate limiting and the language the caller last interacted in, used as
// the detection fallback.
type UserContext struct {
	UserID            string `json:"user_id"`
	PreferredLanguage string `json:"preferred_language"`
	Category          string `json:"category,omitempty"`
}

// Stage enumerates the query workflow states in their fixed linear order.
type Stage int

const (
	StageStart Stage = iota
	StageDetectLanguage
	StageExpandQuery
	StageRetrieve
	StageRerank
	StageBuildContext
	StageGenerate
	StageTranslate
	StageEnd
)

// String returns the stage name for logging and diagnostics.
func (s Stage) String() string {
	switch s {
	case StageStart:
		return "START"
	case StageDetectLanguage:
		return "DETECT_LANGUAGE"
	case StageExpandQuery:
		return "EXPAND_QUERY"
	case StageRetrieve:
		return "RETRIEVE"
	case StageRerank:
		return "RERANK"
	case StageBuildContext:
		return "BUILD_CONTEXT"
	case StageGenerate:
		return "GENERATE"
	case StageTranslate:
		return "TRANSLATE"
	case StageEnd:
		return "END"
	default:
		return "UNKNOWN"
	}
}

// QueryState is the ephemeral per-question accumulator. Fields fill in
// monotonically as the workflow advances; the state is discarded once the
// response is returned.
type QueryState struct {
	QueryID          string                   `json:"query_id"`
	OriginalQuery    string                   `json:"original_query"`
	DetectedLanguage string                   `json:"detected_language"`
	TargetLanguage   string                   `json:"target_language"`
	ExpandedQuery    string                   `json:"expanded_query"`
	QueryVector      []float32                `json:"-"`
	Retrieved        []ChunkRef               `json:"retrieved,omitempty"`
	Reranked         []ChunkRef               `json:"reranked,omitempty"`
	Context          string                   `json:"context,omitempty"`
	RawAnswer        string                   `json:"raw_answer,omitempty"`
	FinalAnswer      string                   `json:"final_answer,omitempty"`
	Stage            Stage                    `json:"stage"`
	StartedAt        time.Time                `json:"started_at"`
	StageDurations   map[string]time.Duration `json:"stage_durations,omitempty"`
}

// Source attributes one cited chunk in a query result.
type Source struct {
	DocumentID    string  `json:"document_id"`
	DocumentTitle string  `json:"document_title"`
	ChunkIndex    int     `json:"chunk_index"`
	Score         float32 `json:"score"`
}

// QueryResult is the workflow's answer to one question.
type QueryResult struct {
	Answer      string            `json:"answer"`
	Confidence  float32           `json:"confidence"`
	Sources     []Source          `json:"sources"`
	Language    string            `json:"language"`
	FromCache   bool              `json:"from_cache"`
	Diagnostics map[string]string `json:"diagnostics,omitempty"`
}

// IngestStatus is the outcome category of one ingestion request.
type IngestStatus string

const (
	IngestStatusIndexed   IngestStatus = "indexed"
	IngestStatusDuplicate IngestStatus = "duplicate"
	IngestStatusFailed    IngestStatus = "failed"
)

// IngestResult reports the outcome of one document upload.
type IngestResult struct {
	Status      IngestStatus  `json:"status"`
	DocumentID  string        `json:"document_id,omitempty"`
	DuplicateOf string        `json:"duplicate_of,omitempty"`
	ChunkCount  int           `json:"chunk_count"`
	Reason      string        `json:"reason,omitempty"`
	Took        time.Duration `json:"took"`
}

// SearchFilter narrows retrieval by chunk metadata. Zero-value fields are
// not applied.
type SearchFilter struct {
	Category   string `json:"category,omitempty"`
	Language   string `json:"language,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
}

// Supported languages. Russian and English are answered natively by the
// generator; anything else is produced in the default language and routed
// through translation.
const (
	LanguageRussian = "ru"
	LanguageEnglish = "en"
	LanguageArabic  = "ar"

	DefaultLanguage = LanguageRussian
)

// nativeLanguages lists the languages the generation templates cover
// directly, without a translation pass.
var nativeLanguages = map[string]bool{
	LanguageRussian: true,
	LanguageEnglish: true,
}

// IsNativeLanguage reports whether answers in lang are generated directly.
func IsNativeLanguage(lang string) bool {
	return nativeLanguages[lang]
}
