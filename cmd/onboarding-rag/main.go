// Command onboarding-rag runs the RAG core as a standalone service with a
// thin HTTP surface for queries, document uploads, and observability.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BYevYX/ai-onboarding-bot/pkg/cache"
	"github.com/BYevYX/ai-onboarding-bot/pkg/config"
	apperrors "github.com/BYevYX/ai-onboarding-bot/pkg/errors"
	"github.com/BYevYX/ai-onboarding-bot/pkg/logging"
	"github.com/BYevYX/ai-onboarding-bot/pkg/rag"
	"github.com/BYevYX/ai-onboarding-bot/pkg/ratelimit"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	logger := logging.NewStructuredLogger(logging.Config{
		Level:       logging.LogLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Environment,
	})
	logger.SetAsDefault()

	serviceConfig := buildServiceConfig(cfg)
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	service, err := rag.NewService(serviceConfig, nil, registry)
	if err != nil {
		logger.Error("Failed to initialize RAG service", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := service.Ping(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, service.GetCacheStats())
	})
	mux.HandleFunc("/query", handleQuery(service))
	mux.HandleFunc("/documents", handleIngest(service))
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: mux,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
	_ = service.Close()
}

func buildServiceConfig(cfg *config.Config) *rag.ServiceConfig {
	serviceConfig := &rag.ServiceConfig{
		Retrieval: &rag.RetrievalConfig{
			Host:       cfg.Weaviate.Host,
			Scheme:     cfg.Weaviate.Scheme,
			APIKey:     cfg.Weaviate.APIKey,
			AutoSchema: true,
		},
		Embedding: &rag.EmbeddingConfig{
			APIURL:       cfg.Embedding.URL,
			APIKey:       cfg.Embedding.APIKey,
			ModelName:    cfg.Embedding.Model,
			MaxBatchSize: 64,
			Timeout:      cfg.Embedding.Timeout,
			MaxRetries:   3,
			RetryBackoff: time.Second,
			CacheTTL:     7 * 24 * time.Hour,
		},
		Generation: &rag.GenerationConfig{
			APIURL:       cfg.LLM.URL,
			APIKey:       cfg.LLM.APIKey,
			ModelName:    cfg.LLM.Model,
			MaxTokens:    1024,
			Temperature:  0.3,
			Timeout:      cfg.LLM.Timeout,
			MaxRetries:   2,
			RetryBackoff: time.Second,
		},
		Translation: &rag.TranslationConfig{
			APIURL:    cfg.Translate.URL,
			APIKey:    cfg.Translate.APIKey,
			ModelName: cfg.Translate.Model,
			Timeout:   cfg.Translate.Timeout,
		},
	}

	if cfg.Redis.Enabled {
		redisConfig := &cache.RedisStoreConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			Database: cfg.Redis.Database,
		}
		serviceConfig.Redis = redisConfig
	}

	workflow := &rag.WorkflowConfig{
		RetrieveK:        20,
		ScoreThreshold:   0.7,
		ResponseCacheTTL: 5 * time.Minute,
		RateRules: []ratelimit.Rule{
			{Name: "minute", Limit: cfg.RateLimit.QueriesPerMinute, Window: time.Minute},
			{Name: "hour", Limit: cfg.RateLimit.QueriesPerHour, Window: time.Hour},
		},
	}
	serviceConfig.Workflow = workflow
	return serviceConfig
}

type queryRequest struct {
	Text string          `json:"text"`
	User rag.UserContext `json:"user"`
}

func handleQuery(service *rag.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req queryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}

		result, err := service.ProcessQuery(r.Context(), req.Text, req.User)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func handleIngest(service *rag.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 50<<20))
			if err != nil {
				http.Error(w, "failed to read document body", http.StatusBadRequest)
				return
			}
			meta := rag.IngestMetadata{
				Title:    r.URL.Query().Get("title"),
				Category: r.URL.Query().Get("category"),
				Language: r.URL.Query().Get("language"),
			}
			result, err := service.IngestDocument(r.Context(), raw, r.URL.Query().Get("type"), meta)
			if err != nil && result == nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
		case http.MethodGet:
			docs, err := service.ListDocuments(r.Context())
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, docs)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, err error) {
	type errorBody struct {
		Error string `json:"error"`
		Code  string `json:"code,omitempty"`
	}

	status := http.StatusInternalServerError
	switch apperrors.CategoryOf(err) {
	case apperrors.CategoryValidation:
		status = http.StatusBadRequest
	case apperrors.CategoryCapacity:
		status = http.StatusTooManyRequests
		if retryAfter := apperrors.RetryAfter(err); retryAfter > 0 {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
		}
	case apperrors.CategoryTransient:
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, errorBody{Error: err.Error(), Code: string(apperrors.CodeOf(err))})
}
