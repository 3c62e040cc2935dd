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
	"sync"
	"time"

	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

// Template identifiers understood by the generation service.
const (
	TemplateAnswer      = "answer"
	TemplateExpandQuery = "expand_query"
)

// Generator renders a language-appropriate prompt template and completes
// it through the LLM endpoint.
type Generator interface {
	Generate(ctx context.Context, templateID string, vars map[string]string, language string) (string, error)
}

// GenerationConfig holds LLM endpoint settings.
type GenerationConfig struct {
	APIURL       string        `json:"api_url"`
	APIKey       string        `json:"api_key"`
	ModelName    string        `json:"model_name"`
	MaxTokens    int           `json:"max_tokens"`
	Temperature  float32       `json:"temperature"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`
}

// getDefaultGenerationConfig returns default generation settings.
func getDefaultGenerationConfig() *GenerationConfig {
	return &GenerationConfig{
		APIURL:       "https://api.openai.com/v1/chat/completions",
		ModelName:    "gpt-4o-mini",
		MaxTokens:    1024,
		Temperature:  0.3,
		Timeout:      60 * time.Second,
		MaxRetries:   2,
		RetryBackoff: time.Second,
	}
}

// GenerationMetrics tracks LLM endpoint activity. It is a plain value type;
// the service guards its live instance with a separate mutex so snapshots
// copy freely.
type GenerationMetrics struct {
	Completions  int64         `json:"completions"`
	Failures     int64         `json:"failures"`
	TotalTokens  int64         `json:"total_tokens"`
	TotalLatency time.Duration `json:"total_latency"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// promptTemplate is one (system, user) prompt pair. User-side placeholders
// {query} and {context} are substituted at render time.
type promptTemplate struct {
	system string
	user   string
}

// GenerationService renders prompt templates and calls the LLM completion
// endpoint with a bounded timeout. Answer templates exist for each native
// language; non-native target languages are answered with the default
// template and translated afterwards by the workflow.
type GenerationService struct {
	config     *GenerationConfig
	httpClient *http.Client
	logger     *slog.Logger
	templates  map[string]map[string]promptTemplate

	metricsMu sync.RWMutex
	metrics   GenerationMetrics
}

// NewGenerationService creates a generation service.
func NewGenerationService(config *GenerationConfig) *GenerationService {
	if config == nil {
		config = getDefaultGenerationConfig()
	}
	return &GenerationService{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     slog.Default().With("component", "generation-service"),
		metrics:    GenerationMetrics{LastUpdated: time.Now()},
		templates:  buildPromptTemplates(),
	}
}

func buildPromptTemplates() map[string]map[string]promptTemplate {
	return map[string]map[string]promptTemplate{
		TemplateAnswer: {
			LanguageRussian: {
				system: "Ты — ассистент по адаптации сотрудников. Отвечай на вопрос строго по приведённым фрагментам корпоративных документов. Если ответа в них нет, скажи об этом прямо. Отвечай на русском языке.",
				user:   "Фрагменты документов:\n{context}\n\nВопрос: {query}",
			},
			LanguageEnglish: {
				system: "You are an employee onboarding assistant. Answer the question strictly from the provided corporate document excerpts. If they do not contain the answer, say so directly. Answer in English.",
				user:   "Document excerpts:\n{context}\n\nQuestion: {query}",
			},
		},
		TemplateExpandQuery: {
			LanguageRussian: {
				system: "Перефразируй запрос сотрудника, добавив синонимы и смежные термины, чтобы улучшить поиск по корпоративным документам. Верни только расширенный запрос одной строкой.",
				user:   "{query}",
			},
			LanguageEnglish: {
				system: "Rewrite the employee's query with synonyms and related terms to improve document retrieval. Return only the expanded query as a single line.",
				user:   "{query}",
			},
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate renders the template for the given language and completes it.
// Unknown languages fall back to the default language's template.
func (gs *GenerationService) Generate(ctx context.Context, templateID string, vars map[string]string, language string) (string, error) {
	byLanguage, ok := gs.templates[templateID]
	if !ok {
		return "", errors.NewValidationError(errors.CodeInvalidInput,
			fmt.Sprintf("unknown prompt template %q", templateID))
	}
	tmpl, ok := byLanguage[language]
	if !ok {
		tmpl = byLanguage[DefaultLanguage]
	}

	answer, err := gs.complete(ctx, renderTemplate(tmpl.system, vars), renderTemplate(tmpl.user, vars))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

// complete performs the chat completion with bounded retries.
func (gs *GenerationService) complete(ctx context.Context, system, user string) (string, error) {
	startTime := time.Now()
	var lastErr error
	backoff := gs.config.RetryBackoff

	for attempt := 0; attempt <= gs.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", errors.NewTransientError(errors.CodeGenerationUnavailable,
					"generation request cancelled", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		text, retryable, err := gs.doRequest(ctx, system, user)
		if err == nil {
			gs.updateMetrics(func(m *GenerationMetrics) {
				m.Completions++
				m.TotalLatency += time.Since(startTime)
			})
			return text, nil
		}
		lastErr = err
		gs.updateMetrics(func(m *GenerationMetrics) { m.Failures++ })
		gs.logger.Warn("LLM completion failed", "attempt", attempt+1, "error", err)
		if !retryable {
			break
		}
	}

	return "", errors.NewTransientError(errors.CodeGenerationUnavailable,
		"LLM endpoint failed after retries", lastErr)
}

func (gs *GenerationService) doRequest(ctx context.Context, system, user string) (string, bool, error) {
	payload, err := json.Marshal(chatRequest{
		Model: gs.config.ModelName,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens:   gs.config.MaxTokens,
		Temperature: gs.config.Temperature,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gs.config.APIURL, bytes.NewReader(payload))
	if err != nil {
		return "", false, fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if gs.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+gs.config.APIKey)
	}

	resp, err := gs.httpClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", retryable, fmt.Errorf("LLM endpoint returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", false, fmt.Errorf("failed to parse completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", false, fmt.Errorf("LLM endpoint returned no choices")
	}

	gs.updateMetrics(func(m *GenerationMetrics) { m.TotalTokens += int64(parsed.Usage.TotalTokens) })
	return parsed.Choices[0].Message.Content, false, nil
}

// GetMetrics returns a snapshot of the service metrics.
func (gs *GenerationService) GetMetrics() GenerationMetrics {
	gs.metricsMu.RLock()
	defer gs.metricsMu.RUnlock()
	return gs.metrics
}

func (gs *GenerationService) updateMetrics(updater func(*GenerationMetrics)) {
	gs.metricsMu.Lock()
	defer gs.metricsMu.Unlock()
	updater(&gs.metrics)
	gs.metrics.LastUpdated = time.Now()
}

// renderTemplate substitutes {query} and {context} style placeholders.
func renderTemplate(template string, vars map[string]string) string {
	result := template
	for name, value := range vars {
		result = strings.ReplaceAll(result, "{"+name+"}", value)
	}
	return result
}
