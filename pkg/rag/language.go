package rag

import (
	"unicode"
)

// LanguageDetection is the outcome of classifying one query's language.
type LanguageDetection struct {
	Language   string  `json:"language"`
	Confidence float64 `json:"confidence"`
	Fallback   bool    `json:"fallback"`
}

// minDetectionConfidence is the share of letters that must belong to one
// script before the detection is trusted over the fallback chain.
const minDetectionConfidence = 0.5

// DetectLanguage classifies text into one of the supported languages by
// Unicode script counts. It never calls out to an external service. On
// low confidence or letterless input it falls back to the caller's
// preferred language, then to the system default.
func DetectLanguage(text, preferredLanguage string) LanguageDetection {
	var cyrillic, latin, arabic, total int

	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		total++
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		case unicode.Is(unicode.Latin, r):
			latin++
		}
	}

	if total > 0 {
		best, count := LanguageRussian, cyrillic
		if latin > count {
			best, count = LanguageEnglish, latin
		}
		if arabic > count {
			best, count = LanguageArabic, arabic
		}

		confidence := float64(count) / float64(total)
		if confidence >= minDetectionConfidence {
			return LanguageDetection{Language: best, Confidence: confidence}
		}
	}

	fallback := preferredLanguage
	if _, supported := languageNames[fallback]; !supported {
		fallback = DefaultLanguage
	}
	return LanguageDetection{Language: fallback, Confidence: 0, Fallback: true}
}
