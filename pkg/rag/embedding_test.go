package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BYevYX/ai-onboarding-bot/pkg/cache"
	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
)

func newTestTieredCache(t *testing.T) *cache.TieredCache {
	t.Helper()
	local := cache.NewMemoryCache(&cache.MemoryCacheConfig{
		MaxItems:        1000,
		DefaultTTL:      time.Minute,
		CleanupInterval: time.Minute,
	})
	tc := cache.NewTieredCache(local, cache.NewMemorySharedStore(1000, time.Minute), nil)
	t.Cleanup(func() { tc.Close() })
	return tc
}

// fakeEmbeddingServer answers the embedding wire format with deterministic
// vectors derived from the input length.
func fakeEmbeddingServer(t *testing.T, calls *int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := embeddingResponse{}
		for i, text := range req.Input {
			resp.Data = append(resp.Data, struct {
				Index     int       `json:"index"`
				Embedding []float32 `json:"embedding"`
			}{Index: i, Embedding: []float32{float32(len(text)), 1, 2}})
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func newTestEmbeddingService(t *testing.T, url string) *EmbeddingService {
	t.Helper()
	return NewEmbeddingService(&EmbeddingConfig{
		APIURL:       url,
		ModelName:    "test-model",
		MaxBatchSize: 8,
		Timeout:      5 * time.Second,
		MaxRetries:   2,
		RetryBackoff: 10 * time.Millisecond,
		CacheTTL:     time.Hour,
	}, newTestTieredCache(t))
}

func TestEmbedTextsOrderPreserving(t *testing.T) {
	var calls int64
	server := fakeEmbeddingServer(t, &calls)
	defer server.Close()

	es := newTestEmbeddingService(t, server.URL)
	vectors, err := es.EmbedTexts(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	assert.Equal(t, float32(1), vectors[0][0])
	assert.Equal(t, float32(2), vectors[1][0])
	assert.Equal(t, float32(3), vectors[2][0])
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "all misses batch into one endpoint call")
}

func TestEmbedTextsIdempotentViaCache(t *testing.T) {
	var calls int64
	server := fakeEmbeddingServer(t, &calls)
	defer server.Close()

	es := newTestEmbeddingService(t, server.URL)
	ctx := context.Background()

	first, err := es.EmbedTexts(ctx, []string{"what is the vpn policy"})
	require.NoError(t, err)
	second, err := es.EmbedTexts(ctx, []string{"what is the vpn policy"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "endpoint invoked at most once per unique input")

	metrics := es.GetMetrics()
	assert.Equal(t, int64(1), metrics.CacheHits)
	assert.Equal(t, int64(1), metrics.CacheMisses)
}

func TestEmbedTextsMixedHitsAndMisses(t *testing.T) {
	var calls int64
	server := fakeEmbeddingServer(t, &calls)
	defer server.Close()

	es := newTestEmbeddingService(t, server.URL)
	ctx := context.Background()

	_, err := es.EmbedTexts(ctx, []string{"cached"})
	require.NoError(t, err)

	vectors, err := es.EmbedTexts(ctx, []string{"fresh-1", "cached", "fresh-2"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, float32(len("fresh-1")), vectors[0][0])
	assert.Equal(t, float32(len("cached")), vectors[1][0])
	assert.Equal(t, int64(2), atomic.LoadInt64(&calls), "only the misses go to the endpoint")
}

func TestEmbedTextsFailureAfterRetries(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer server.Close()

	es := newTestEmbeddingService(t, server.URL)
	_, err := es.EmbedTexts(context.Background(), []string{"doomed"})

	require.Error(t, err)
	assert.Equal(t, errors.CodeEmbeddingUnavailable, errors.CodeOf(err))
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls), "bounded retries only")
}

func TestEmbedTextsNonRetryableStatus(t *testing.T) {
	var calls int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer server.Close()

	es := newTestEmbeddingService(t, server.URL)
	_, err := es.EmbedTexts(context.Background(), []string{"rejected"})

	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "semantic errors are never retried")
}

func TestEmbedTextsEmptyInput(t *testing.T) {
	es := newTestEmbeddingService(t, "http://unused")
	vectors, err := es.EmbedTexts(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vectors)
}

func TestVectorCodecRoundTrip(t *testing.T) {
	original := []float32{0.25, -1.5, 3.75, 0}
	encoded, err := encodeVector(original)
	require.NoError(t, err)

	decoded, err := decodeVector(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)

	_, err = decodeVector(encoded[:len(encoded)-2])
	assert.Error(t, err)
}
