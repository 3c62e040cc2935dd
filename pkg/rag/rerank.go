package rag

import (
	"sort"
)

// RerankConfig controls result reordering before context assembly.
type RerankConfig struct {
	// FinalCount is the number of chunks kept after reranking.
	FinalCount int `json:"final_count"`
}

// getDefaultRerankConfig returns default rerank settings.
func getDefaultRerankConfig() *RerankConfig {
	return &RerankConfig{FinalCount: 10}
}

// Rerank truncates retrieved chunks to the configured count and reorders
// them so the strongest evidence sits at both ends of the eventual context
// rather than buried in the middle. Placement is deterministic: chunks are
// taken in descending score order and assigned to positions alternating
// front-in and back-in (1st best first, 2nd best last, 3rd best second,
// and so on).
func Rerank(refs []ChunkRef, config *RerankConfig) []ChunkRef {
	if config == nil {
		config = getDefaultRerankConfig()
	}
	if len(refs) == 0 {
		return nil
	}

	sorted := make([]ChunkRef, len(refs))
	copy(sorted, refs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	if config.FinalCount > 0 && len(sorted) > config.FinalCount {
		sorted = sorted[:config.FinalCount]
	}

	result := make([]ChunkRef, len(sorted))
	front, back := 0, len(sorted)-1
	for i, ref := range sorted {
		if i%2 == 0 {
			result[front] = ref
			front++
		} else {
			result[back] = ref
			back--
		}
	}
	return result
}
