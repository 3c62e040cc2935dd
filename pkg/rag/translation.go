package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

// Translator converts answer text between supported languages.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// TranslationConfig holds translation endpoint settings.
type TranslationConfig struct {
	APIURL    string        `json:"api_url"`
	APIKey    string        `json:"api_key"`
	ModelName string        `json:"model_name"`
	Timeout   time.Duration `json:"timeout"`
}

// getDefaultTranslationConfig returns default translation settings.
func getDefaultTranslationConfig() *TranslationConfig {
	return &TranslationConfig{
		APIURL:    "https://api.openai.com/v1/chat/completions",
		ModelName: "gpt-4o-mini",
		Timeout:   30 * time.Second,
	}
}

// languageNames maps supported codes to the names used in the translation
// prompt.
var languageNames = map[string]string{
	LanguageRussian: "Russian",
	LanguageEnglish: "English",
	LanguageArabic:  "Arabic",
}

// TranslationService translates generated answers through the completion
// endpoint. Translation is a best-effort post-processing step: callers are
// expected to fall back to the untranslated text on failure.
type TranslationService struct {
	config     *TranslationConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTranslationService creates a translation service.
func NewTranslationService(config *TranslationConfig) *TranslationService {
	if config == nil {
		config = getDefaultTranslationConfig()
	}
	return &TranslationService{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     slog.Default().With("component", "translation-service"),
	}
}

// Translate converts text from sourceLang to targetLang. Same-language
// calls are returned unchanged without an endpoint round trip.
func (ts *TranslationService) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	if sourceLang == targetLang || strings.TrimSpace(text) == "" {
		return text, nil
	}

	targetName, ok := languageNames[targetLang]
	if !ok {
		return "", errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("unsupported target language %q", targetLang))
	}
	sourceName := languageNames[sourceLang]
	if sourceName == "" {
		sourceName = "the source language"
	}

	payload, err := json.Marshal(chatRequest{
		Model: ts.config.ModelName,
		Messages: []chatMessage{
			{
				Role: "system",
				Content: fmt.Sprintf(
					"Translate the user's message from %s to %s. Preserve formatting and meaning. Return only the translation.",
					sourceName, targetName),
			},
			{Role: "user", Content: text},
		},
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal translation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ts.config.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create translation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if ts.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+ts.config.APIKey)
	}

	resp, err := ts.httpClient.Do(req)
	if err != nil {
		return "", errors.NewTransientError(errors.CodeTranslationFailed, "translation request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.NewTransientError(errors.CodeTranslationFailed, "failed to read translation response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errors.NewTransientError(errors.CodeTranslationFailed,
			fmt.Sprintf("translation endpoint returned %d: %s", resp.StatusCode, truncateBody(body)), nil)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.NewTransientError(errors.CodeTranslationFailed, "failed to parse translation response", err)
	}
	if len(parsed.Choices) == 0 {
		return "", errors.NewTransientError(errors.CodeTranslationFailed, "translation endpoint returned no choices", nil)
	}

	return strings.TrimSpace(parsed.Choices[0].Message.Content), nil
}
