package rag

import (
	"fmt"
	"sort"
	"strings"
)

// ContextConfig controls prompt context assembly.
type ContextConfig struct {
	// MaxContextChars is the total character budget for the assembled
	// context, attribution headers included.
	MaxContextChars int `json:"max_context_chars"`
}

// getDefaultContextConfig returns default context assembly settings.
func getDefaultContextConfig() *ContextConfig {
	return &ContextConfig{MaxContextChars: 8000}
}

// BuildContext concatenates the reranked chunks into one attributed context
// string under the character budget. When the budget would be exceeded,
// the lowest-scoring chunks are dropped whole; a chunk is never truncated
// mid-text. The second return value lists the chunks that made it in, in
// context order.
func BuildContext(refs []ChunkRef, config *ContextConfig) (string, []ChunkRef) {
	if config == nil {
		config = getDefaultContextConfig()
	}
	if len(refs) == 0 {
		return "", nil
	}

	blocks := make([]string, len(refs))
	for i, ref := range refs {
		blocks[i] = formatContextBlock(ref)
	}

	// Separators only join adjacent blocks, so n blocks carry n-1 of them.
	included := make([]bool, len(refs))
	budget := config.MaxContextChars
	total := 0
	for i, block := range blocks {
		total += len(block)
		if i > 0 {
			total += 2
		}
		included[i] = true
	}

	// Drop lowest-scoring chunks until the remainder fits.
	order := make([]int, len(refs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return refs[order[a]].Score < refs[order[b]].Score
	})
	remaining := len(refs)
	for _, idx := range order {
		if budget <= 0 || total <= budget {
			break
		}
		included[idx] = false
		total -= len(blocks[idx])
		remaining--
		if remaining > 0 {
			total -= 2
		}
	}

	var builder strings.Builder
	var kept []ChunkRef
	for i, block := range blocks {
		if !included[i] {
			continue
		}
		if builder.Len() > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(block)
		kept = append(kept, refs[i])
	}
	return builder.String(), kept
}

// formatContextBlock renders one chunk with its source attribution header.
func formatContextBlock(ref ChunkRef) string {
	title := ref.DocumentTitle
	if title == "" {
		title = ref.DocumentID
	}
	return fmt.Sprintf("[%s, fragment %d]\n%s", title, ref.SequenceIndex+1, ref.Text)
}
