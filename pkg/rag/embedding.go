package rag

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/BYevYX/ai-onboarding-bot/pkg/cache"
	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

// Embedder produces one embedding vector per input text, order-preserving.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingConfig holds embedding endpoint and caching settings.
type EmbeddingConfig struct {
	APIURL       string        `json:"api_url"`
	APIKey       string        `json:"api_key"`
	ModelName    string        `json:"model_name"`
	MaxBatchSize int           `json:"max_batch_size"`
	Timeout      time.Duration `json:"timeout"`
	MaxRetries   int           `json:"max_retries"`
	RetryBackoff time.Duration `json:"retry_backoff"`
	CacheTTL     time.Duration `json:"cache_ttl"`
}

// getDefaultEmbeddingConfig returns default embedding settings. The cache
// TTL is long because embeddings for fixed text never change.
func getDefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		APIURL:       "https://api.openai.com/v1/embeddings",
		ModelName:    "text-embedding-3-small",
		MaxBatchSize: 64,
		Timeout:      30 * time.Second,
		MaxRetries:   3,
		RetryBackoff: time.Second,
		CacheTTL:     7 * 24 * time.Hour,
	}
}

// EmbeddingMetrics tracks embedding service activity. It is a plain value
// type; the service guards its live instance with a separate mutex so
// snapshots copy freely.
type EmbeddingMetrics struct {
	TotalTexts   int64         `json:"total_texts"`
	CacheHits    int64         `json:"cache_hits"`
	CacheMisses  int64         `json:"cache_misses"`
	APICalls     int64         `json:"api_calls"`
	APIFailures  int64         `json:"api_failures"`
	TotalLatency time.Duration `json:"total_latency"`
	LastUpdated  time.Time     `json:"last_updated"`
}

// EmbeddingService calls a remote embedding endpoint and deduplicates
// identical inputs through the tiered cache. Cached vectors are stored as
// binary little-endian float32 payloads keyed by hash(model, text).
type EmbeddingService struct {
	config     *EmbeddingConfig
	httpClient *http.Client
	cache      *cache.TieredCache
	logger     *slog.Logger

	metricsMu sync.RWMutex
	metrics   EmbeddingMetrics
}

// NewEmbeddingService creates an embedding service over the given cache.
func NewEmbeddingService(config *EmbeddingConfig, tieredCache *cache.TieredCache) *EmbeddingService {
	if config == nil {
		config = getDefaultEmbeddingConfig()
	}
	return &EmbeddingService{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		cache:      tieredCache,
		logger:     slog.Default().With("component", "embedding-service"),
		metrics:    EmbeddingMetrics{LastUpdated: time.Now()},
	}
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedTexts returns one vector per input text, in input order. Cache hits
// are served without touching the endpoint; all misses are batched into as
// few endpoint calls as the batch limit allows. If the endpoint fails after
// bounded retries, the whole call fails; partial results are never
// substituted.
func (es *EmbeddingService) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	startTime := time.Now()

	vectors := make([][]float32, len(texts))
	var missIndexes []int
	var missTexts []string

	for i, text := range texts {
		key := es.cacheKey(text)
		if data, found := es.cache.Get(ctx, key); found {
			if vector, err := decodeVector(data); err == nil {
				vectors[i] = vector
				es.updateMetrics(func(m *EmbeddingMetrics) { m.CacheHits++ })
				continue
			}
			// Corrupt entry: drop it and refetch.
			_ = es.cache.Delete(ctx, key)
		}
		es.updateMetrics(func(m *EmbeddingMetrics) { m.CacheMisses++ })
		missIndexes = append(missIndexes, i)
		missTexts = append(missTexts, text)
	}

	for batchStart := 0; batchStart < len(missTexts); batchStart += es.config.MaxBatchSize {
		batchEnd := batchStart + es.config.MaxBatchSize
		if batchEnd > len(missTexts) {
			batchEnd = len(missTexts)
		}

		batchVectors, err := es.callEndpoint(ctx, missTexts[batchStart:batchEnd])
		if err != nil {
			return nil, err
		}
		for j, vector := range batchVectors {
			idx := missIndexes[batchStart+j]
			vectors[idx] = vector
			if encoded, encErr := encodeVector(vector); encErr == nil {
				_ = es.cache.Set(ctx, es.cacheKey(texts[idx]), encoded, es.config.CacheTTL)
			}
		}
	}

	es.updateMetrics(func(m *EmbeddingMetrics) {
		m.TotalTexts += int64(len(texts))
		m.TotalLatency += time.Since(startTime)
	})
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (es *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := es.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// callEndpoint performs one batched endpoint call with bounded retries and
// exponential backoff for transient failures.
func (es *EmbeddingService) callEndpoint(ctx context.Context, texts []string) ([][]float32, error) {
	var lastErr error
	backoff := es.config.RetryBackoff

	for attempt := 0; attempt <= es.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.NewTransientError(errors.CodeEmbeddingUnavailable,
					"embedding request cancelled", ctx.Err())
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		vectors, retryable, err := es.doRequest(ctx, texts)
		if err == nil {
			es.updateMetrics(func(m *EmbeddingMetrics) { m.APICalls++ })
			return vectors, nil
		}
		lastErr = err
		es.updateMetrics(func(m *EmbeddingMetrics) { m.APIFailures++ })
		es.logger.Warn("Embedding endpoint call failed",
			"attempt", attempt+1,
			"batch_size", len(texts),
			"error", err,
		)
		if !retryable {
			break
		}
	}

	return nil, errors.NewTransientError(errors.CodeEmbeddingUnavailable,
		fmt.Sprintf("embedding endpoint failed after %d attempts", es.config.MaxRetries+1), lastErr)
}

// doRequest performs one HTTP round trip. The second return value reports
// whether the failure is worth retrying.
func (es *EmbeddingService) doRequest(ctx context.Context, texts []string) ([][]float32, bool, error) {
	payload, err := json.Marshal(embeddingRequest{Model: es.config.ModelName, Input: texts})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, es.config.APIURL, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if es.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+es.config.APIKey)
	}

	resp, err := es.httpClient.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read embedding response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("embedding endpoint returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("failed to parse embedding response: %w", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, false, fmt.Errorf("embedding endpoint returned %d vectors for %d inputs", len(parsed.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, false, fmt.Errorf("embedding endpoint returned out-of-range index %d", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, false, nil
}

// cacheKey derives the cache key for one input text under the configured
// model. Identical (model, text) pairs always map to the same key.
func (es *EmbeddingService) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(es.config.ModelName + "|" + text))
	return fmt.Sprintf("embedding:%x", sum)
}

// GetMetrics returns a snapshot of the service metrics.
func (es *EmbeddingService) GetMetrics() EmbeddingMetrics {
	es.metricsMu.RLock()
	defer es.metricsMu.RUnlock()
	return es.metrics
}

func (es *EmbeddingService) updateMetrics(updater func(*EmbeddingMetrics)) {
	es.metricsMu.Lock()
	defer es.metricsMu.Unlock()
	updater(&es.metrics)
	es.metrics.LastUpdated = time.Now()
}

// encodeVector serializes a float32 vector as little-endian binary, the
// compact on-wire form used for cached embeddings.
func encodeVector(vector []float32) ([]byte, error) {
	buf := make([]byte, 4+len(vector)*4)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(vector)))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[4+i*4:], math.Float32bits(v))
	}
	return buf, nil
}

// decodeVector parses the binary form produced by encodeVector.
func decodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("vector payload too short: %d bytes", len(data))
	}
	length := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) != 4+length*4 {
		return nil, fmt.Errorf("vector payload size mismatch: header %d, body %d bytes", length, len(data)-4)
	}
	vector := make([]float32, length)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4+i*4:]))
	}
	return vector, nil
}

func truncateBody(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
