package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		preferred string
		want      string
		fallback  bool
	}{
		{name: "russian", text: "Как оформить отпуск?", want: LanguageRussian},
		{name: "english", text: "What is the VPN policy?", want: LanguageEnglish},
		{name: "arabic", text: "ما هي سياسة الإجازات؟", want: LanguageArabic},
		{name: "mixed mostly russian", text: "Как настроить VPN на ноутбуке?", want: LanguageRussian},
		{name: "digits only falls back to preferred", text: "12345", preferred: LanguageEnglish, want: LanguageEnglish, fallback: true},
		{name: "digits only falls back to default", text: "12345", want: DefaultLanguage, fallback: true},
		{name: "unsupported preferred falls back to default", text: "???", preferred: "de", want: DefaultLanguage, fallback: true},
		{name: "empty input", text: "", want: DefaultLanguage, fallback: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectLanguage(tt.text, tt.preferred)
			assert.Equal(t, tt.want, got.Language)
			assert.Equal(t, tt.fallback, got.Fallback)
			if !tt.fallback {
				assert.GreaterOrEqual(t, got.Confidence, minDetectionConfidence)
			}
		})
	}
}

func TestIsNativeLanguage(t *testing.T) {
	assert.True(t, IsNativeLanguage(LanguageRussian))
	assert.True(t, IsNativeLanguage(LanguageEnglish))
	assert.False(t, IsNativeLanguage(LanguageArabic))
	assert.False(t, IsNativeLanguage("de"))
}

func TestAnalyzeComplexity(t *testing.T) {
	assert.Equal(t, ComplexitySimple, AnalyzeComplexity("vacation policy"))
	assert.Equal(t, ComplexityModerate, AnalyzeComplexity("how do I request vacation"))
	assert.Equal(t, ComplexityComplex, AnalyzeComplexity(
		"why is the vacation policy different for contractors and how does it compare to the sick leave policy and who approves it"))
}
