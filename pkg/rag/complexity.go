package rag

import (
	"strings"
)

// QueryComplexity classifies how involved a question is. The level is
// reported in diagnostics and feeds retrieval tuning.
type QueryComplexity string

const (
	ComplexitySimple   QueryComplexity = "simple"
	ComplexityModerate QueryComplexity = "moderate"
	ComplexityComplex  QueryComplexity = "complex"
)

// multi-part question markers across the supported languages.
var complexityMarkers = []string{
	"and", "or", "versus", "compare", "difference", "why", "how",
	"и", "или", "почему", "как", "сравни", "разница",
	"لماذا", "كيف", "قارن",
}

// AnalyzeComplexity estimates query complexity from its length and the
// presence of multi-part question markers. Purely lexical, no external
// calls.
func AnalyzeComplexity(query string) QueryComplexity {
	words := strings.Fields(strings.ToLower(query))

	markers := 0
	for _, word := range words {
		for _, marker := range complexityMarkers {
			if word == marker {
				markers++
				break
			}
		}
	}

	switch {
	case len(words) > 25 || markers >= 3:
		return ComplexityComplex
	case len(words) > 10 || markers >= 1:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}
