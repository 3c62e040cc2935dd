package rag

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkDocumentEmptyInput(t *testing.T) {
	cs := NewChunkingService(nil)

	assert.Empty(t, cs.ChunkDocument("doc-1", ""))
	assert.Empty(t, cs.ChunkDocument("doc-1", "   \n\t  "))
}

func TestChunkDocumentSingleChunk(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		MinChunkSize: 100,
	})

	text := "The VPN policy requires MFA. Connections expire after eight hours. Contact IT for access."
	chunks := cs.ChunkDocument("doc-1", text)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].SequenceIndex)
	assert.Equal(t, NormalizeText(text), chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(chunks[0].Text), chunks[0].EndOffset)
}

func TestChunkDocumentCoverage(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{
		ChunkSize:    120,
		ChunkOverlap: 30,
		MinChunkSize: 40,
	})

	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Sentence number %d carries some onboarding detail. ", i)
	}
	normalized := NormalizeText(sb.String())
	chunks := cs.ChunkDocument("doc-1", sb.String())
	require.NotEmpty(t, chunks)

	// Spans must tile the normalized text without gaps, overlapping by at
	// most the configured overlap.
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, len(normalized), chunks[len(chunks)-1].EndOffset)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.SequenceIndex)
		assert.Equal(t, normalized[chunk.StartOffset:chunk.EndOffset], chunk.Text)
		assert.Equal(t, len(chunk.Text), chunk.ByteLength)
		if i > 0 {
			prev := chunks[i-1]
			assert.LessOrEqual(t, chunk.StartOffset, prev.EndOffset, "gap between chunks %d and %d", i-1, i)
			overlap := prev.EndOffset - chunk.StartOffset
			assert.LessOrEqual(t, overlap, 30, "overlap between chunks %d and %d too large", i-1, i)
		}
	}
}

func TestChunkDocumentDeterminism(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{
		ChunkSize:    150,
		ChunkOverlap: 40,
		MinChunkSize: 50,
	})

	var sb strings.Builder
	for i := 0; i < 25; i++ {
		fmt.Fprintf(&sb, "Policy clause %d explains a benefit in detail! ", i)
	}

	first := cs.ChunkDocument("doc-1", sb.String())
	second := cs.ChunkDocument("doc-1", sb.String())

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].StartOffset, second[i].StartOffset)
		assert.Equal(t, first[i].EndOffset, second[i].EndOffset)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
}

func TestChunkDocumentOversizedSentence(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{
		ChunkSize:    50,
		ChunkOverlap: 10,
		MinChunkSize: 20,
	})

	// One sentence far beyond the target size must survive unsplit.
	giant := strings.Repeat("verylongword ", 30)
	chunks := cs.ChunkDocument("doc-1", giant)

	require.Len(t, chunks, 1)
	assert.Equal(t, NormalizeText(giant), chunks[0].Text)
}

func TestChunkDocumentCyrillic(t *testing.T) {
	cs := NewChunkingService(&ChunkingConfig{
		ChunkSize:    200,
		ChunkOverlap: 50,
		MinChunkSize: 60,
	})

	var sb strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&sb, "Правило %d описывает порядок оформления отпуска. ", i)
	}
	normalized := NormalizeText(sb.String())
	chunks := cs.ChunkDocument("doc-1", sb.String())

	require.NotEmpty(t, chunks)
	for _, chunk := range chunks {
		assert.Equal(t, normalized[chunk.StartOffset:chunk.EndOffset], chunk.Text)
	}
	assert.Equal(t, len(normalized), chunks[len(chunks)-1].EndOffset)
}

func TestNormalizeText(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeText("  a\n\nb\t c  "))
	assert.Equal(t, "", NormalizeText(" \n\t "))
}
