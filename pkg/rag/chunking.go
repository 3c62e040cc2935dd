package rag

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkingConfig controls how document text is split. Sizes are measured
// in bytes of the normalized UTF-8 text.
type ChunkingConfig struct {
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
	MinChunkSize int `json:"min_chunk_size"`
}

// getDefaultChunkingConfig returns the default chunking configuration.
func getDefaultChunkingConfig() *ChunkingConfig {
	return &ChunkingConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 100,
	}
}

// ChunkingService splits normalized document text into overlapping,
// sentence-boundary-respecting windows. Chunking is fully deterministic:
// identical input and config always yield identical boundaries, which the
// ingestion pipeline relies on for idempotent re-ingestion detection.
type ChunkingService struct {
	config *ChunkingConfig
	logger *slog.Logger
}

// NewChunkingService creates a chunking service with the given config.
func NewChunkingService(config *ChunkingConfig) *ChunkingService {
	if config == nil {
		config = getDefaultChunkingConfig()
	}
	return &ChunkingService{
		config: config,
		logger: slog.Default().With("component", "chunking-service"),
	}
}

// sentenceSpan is one sentence unit including its trailing whitespace, so
// that consecutive spans tile the normalized text without gaps.
type sentenceSpan struct {
	start int
	end   int
}

// ChunkDocument splits text into chunks for the given document ID.
// Whitespace runs are collapsed first; offsets in the returned chunks index
// into that normalized text. Empty or whitespace-only input yields zero
// chunks.
func (cs *ChunkingService) ChunkDocument(documentID, text string) []Chunk {
	normalized := NormalizeText(text)
	if normalized == "" {
		return nil
	}

	sentences := splitSentences(normalized)
	spans := cs.accumulate(normalized, sentences)

	chunks := make([]Chunk, 0, len(spans))
	for i, span := range spans {
		chunkText := normalized[span.start:span.end]
		chunks = append(chunks, Chunk{
			DocumentID:    documentID,
			SequenceIndex: i,
			Text:          chunkText,
			StartOffset:   span.start,
			EndOffset:     span.end,
			ByteLength:    len(chunkText),
		})
	}

	cs.logger.Debug("Document chunked",
		"document_id", documentID,
		"text_bytes", len(normalized),
		"chunks", len(chunks),
	)
	return chunks
}

// accumulate greedily packs sentences into chunk spans. A chunk is emitted
// when adding the next sentence would exceed the target size and the buffer
// already meets the minimum size; the next chunk is seeded with up to
// ChunkOverlap trailing bytes of the previous one, snapped back to the
// nearest sentence start inside the overlap window when one exists.
func (cs *ChunkingService) accumulate(text string, sentences []sentenceSpan) []sentenceSpan {
	if len(sentences) == 0 {
		return nil
	}

	var spans []sentenceSpan
	curStart := sentences[0].start
	curEnd := curStart

	for _, sentence := range sentences {
		bufLen := curEnd - curStart
		if bufLen > 0 && sentence.end-curStart > cs.config.ChunkSize && bufLen >= cs.config.MinChunkSize {
			spans = append(spans, sentenceSpan{start: curStart, end: curEnd})

			nextStart := curEnd - cs.config.ChunkOverlap
			if nextStart < curStart {
				nextStart = curStart
			}
			if snapped, ok := latestSentenceStart(sentences, nextStart, curEnd); ok {
				nextStart = snapped
			}
			// Keep the seed on a rune boundary.
			for nextStart < curEnd && !utf8.RuneStart(text[nextStart]) {
				nextStart++
			}
			curStart = nextStart
		}
		curEnd = sentence.end
	}

	if curEnd > curStart {
		spans = append(spans, sentenceSpan{start: curStart, end: curEnd})
	}
	return spans
}

// latestSentenceStart returns the largest sentence start within [from, before).
func latestSentenceStart(sentences []sentenceSpan, from, before int) (int, bool) {
	best, found := 0, false
	for _, s := range sentences {
		if s.start >= from && s.start < before && (!found || s.start > best) {
			best, found = s.start, true
		}
	}
	return best, found
}

// NormalizeText collapses whitespace runs into single spaces and trims the
// ends. The result is the canonical text chunk offsets refer to.
func NormalizeText(text string) string {
	var builder strings.Builder
	builder.Grow(len(text))

	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && builder.Len() > 0 {
			builder.WriteByte(' ')
		}
		inSpace = false
		builder.WriteRune(r)
	}
	return builder.String()
}

// splitSentences tiles the text into sentence units. A sentence ends after
// terminal punctuation followed by a space; each unit includes that space so
// the spans cover the text contiguously. Text without terminal punctuation
// is a single sentence.
func splitSentences(text string) []sentenceSpan {
	var spans []sentenceSpan
	start := 0
	prevTerminal := false

	for i, r := range text {
		if prevTerminal && r == ' ' {
			spans = append(spans, sentenceSpan{start: start, end: i + 1})
			start = i + 1
		}
		prevTerminal = isSentenceTerminal(r)
	}

	if start < len(text) {
		spans = append(spans, sentenceSpan{start: start, end: len(text)})
	}
	return spans
}

func isSentenceTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…':
		return true
	}
	return false
}
