package rag

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BYevYX/ai-onboarding-bot/pkg/cache"
	"github.com/BYevYX/ai-onboarding-bot/pkg/errors"
	"github.com/BYevYX/ai-onboarding-bot/pkg/ratelimit"
)

// WorkflowConfig controls the query workflow orchestrator.
type WorkflowConfig struct {
	RetrieveK        int              `json:"retrieve_k"`
	ScoreThreshold   float32          `json:"score_threshold"`
	Rerank           *RerankConfig    `json:"rerank"`
	Context          *ContextConfig   `json:"context"`
	ResponseCacheTTL time.Duration    `json:"response_cache_ttl"`
	RateRules        []ratelimit.Rule `json:"rate_rules"`
}

// getDefaultWorkflowConfig returns default workflow settings.
func getDefaultWorkflowConfig() *WorkflowConfig {
	return &WorkflowConfig{
		RetrieveK:        20,
		ScoreThreshold:   0.7,
		Rerank:           getDefaultRerankConfig(),
		Context:          getDefaultContextConfig(),
		ResponseCacheTTL: 5 * time.Minute,
		RateRules: []ratelimit.Rule{
			{Name: "minute", Limit: 10, Window: time.Minute},
			{Name: "hour", Limit: 100, Window: time.Hour},
		},
	}
}

// apologyMessages are the fixed localized responses returned when answer
// generation fails. They never expose internal error detail.
var apologyMessages = map[string]string{
	LanguageRussian: "Извините, сейчас я не могу ответить на ваш вопрос. Пожалуйста, попробуйте ещё раз чуть позже.",
	LanguageEnglish: "Sorry, I cannot answer your question right now. Please try again a little later.",
	LanguageArabic:  "عذراً، لا أستطيع الإجابة على سؤالك الآن. يرجى المحاولة مرة أخرى لاحقاً.",
}

// noResultMessages are returned when retrieval finds nothing above the
// score threshold.
var noResultMessages = map[string]string{
	LanguageRussian: "Я не нашёл ответа на этот вопрос в корпоративных документах. Попробуйте переформулировать вопрос.",
	LanguageEnglish: "I could not find an answer to this question in the corporate documents. Try rephrasing your question.",
	LanguageArabic:  "لم أجد إجابة على هذا السؤال في مستندات الشركة. حاول إعادة صياغة سؤالك.",
}

// QueryWorkflow is the seven-stage state machine answering one question:
// DETECT_LANGUAGE, EXPAND_QUERY, RETRIEVE, RERANK, BUILD_CONTEXT, GENERATE,
// and a conditional TRANSLATE. Stages within one query run strictly in
// order; independent queries share state only through the cache and the
// rate limiter.
type QueryWorkflow struct {
	config     *WorkflowConfig
	embedder   Embedder
	retriever  Retriever
	generator  Generator
	translator Translator
	cache      *cache.TieredCache
	limiter    *ratelimit.Limiter
	metrics    *Metrics
	logger     *slog.Logger
}

// NewQueryWorkflow wires the workflow dependencies.
func NewQueryWorkflow(
	config *WorkflowConfig,
	embedder Embedder,
	retriever Retriever,
	generator Generator,
	translator Translator,
	tieredCache *cache.TieredCache,
	limiter *ratelimit.Limiter,
	metrics *Metrics,
) *QueryWorkflow {
	if config == nil {
		config = getDefaultWorkflowConfig()
	}
	return &QueryWorkflow{
		config:     config,
		embedder:   embedder,
		retriever:  retriever,
		generator:  generator,
		translator: translator,
		cache:      tieredCache,
		limiter:    limiter,
		metrics:    metrics,
		logger:     slog.Default().With("component", "query-workflow"),
	}
}

// next returns the stage that follows the given one. The topology is fixed
// except for one conditional edge: GENERATE routes to TRANSLATE when the
// target language is not covered natively by the answer templates.
func next(stage Stage, state *QueryState) Stage {
	switch stage {
	case StageStart:
		return StageDetectLanguage
	case StageDetectLanguage:
		return StageExpandQuery
	case StageExpandQuery:
		return StageRetrieve
	case StageRetrieve:
		return StageRerank
	case StageRerank:
		return StageBuildContext
	case StageBuildContext:
		return StageGenerate
	case StageGenerate:
		if !IsNativeLanguage(state.TargetLanguage) {
			return StageTranslate
		}
		return StageEnd
	case StageTranslate:
		return StageEnd
	default:
		return StageEnd
	}
}

// ProcessQuery answers one user question. Admission is rate limited per
// user; a response cache keyed by the normalized query and language is
// consulted before the state machine runs. Load-bearing stage failures
// surface as the localized apology with confidence zero; optional stages
// degrade silently and are reported in diagnostics.
func (qw *QueryWorkflow) ProcessQuery(ctx context.Context, text string, userCtx UserContext) (*QueryResult, error) {
	startTime := time.Now()

	query := strings.TrimSpace(text)
	if query == "" {
		return nil, errors.NewValidationError(errors.CodeInvalidInput, "query must not be empty")
	}

	if qw.limiter != nil {
		decision, err := qw.limiter.Allow(ctx, userCtx.UserID, "query", qw.config.RateRules...)
		if err != nil {
			// A fail-closed limiter denies on store outage; that is a
			// transient condition, not an exceeded limit.
			return nil, errors.NewTransientError(errors.CodeRateLimitUnavailable,
				"rate limit check failed", err)
		}
		if !decision.Allowed {
			qw.metrics.ObserveRateLimited()
			return nil, errors.NewCapacityError(errors.CodeRateLimited,
				"query rate limit exceeded", decision.RetryAfter)
		}
	}

	qw.lookupUserContext(ctx, &userCtx)

	state := &QueryState{
		QueryID:        uuid.NewString(),
		OriginalQuery:  query,
		Stage:          StageStart,
		StartedAt:      startTime,
		StageDurations: make(map[string]time.Duration),
	}

	result := qw.run(ctx, state, userCtx)
	result.Diagnostics["query_id"] = state.QueryID
	result.Diagnostics["complexity"] = string(AnalyzeComplexity(query))

	qw.rememberUserContext(ctx, userCtx, state.TargetLanguage)
	qw.logUsage(ctx, state, userCtx, result)

	outcome := "answered"
	if result.Confidence == 0 && !result.FromCache {
		outcome = result.Diagnostics["code"]
		if outcome == "" {
			outcome = "no_results"
		}
	}
	qw.metrics.ObserveQuery(outcome, time.Since(startTime))

	qw.logger.Info("Query processed",
		"query_id", state.QueryID,
		"user_id", userCtx.UserID,
		"language", result.Language,
		"sources", len(result.Sources),
		"from_cache", result.FromCache,
		"took", time.Since(startTime),
	)
	return result, nil
}

// run drives the state machine. It always produces a usable QueryResult;
// internal failures are folded into the localized fallback answers.
func (qw *QueryWorkflow) run(ctx context.Context, state *QueryState, userCtx UserContext) *QueryResult {
	diagnostics := make(map[string]string)

	for state.Stage = next(StageStart, state); state.Stage != StageEnd; state.Stage = next(state.Stage, state) {
		stageStart := time.Now()
		var result *QueryResult

		switch state.Stage {
		case StageDetectLanguage:
			qw.detectLanguage(state, userCtx, diagnostics)
			// Response cache pre-check needs the language, so it sits
			// right after detection.
			if cached := qw.lookupResponseCache(ctx, state); cached != nil {
				cached.Diagnostics = diagnostics
				cached.Diagnostics["cache"] = "hit"
				return cached
			}
		case StageExpandQuery:
			qw.expandQuery(ctx, state, diagnostics)
		case StageRetrieve:
			result = qw.retrieve(ctx, state, userCtx, diagnostics)
		case StageRerank:
			state.Reranked = Rerank(state.Retrieved, qw.config.Rerank)
		case StageBuildContext:
			state.Context, state.Reranked = BuildContext(state.Reranked, qw.config.Context)
		case StageGenerate:
			result = qw.generate(ctx, state, diagnostics)
		case StageTranslate:
			qw.translate(ctx, state, diagnostics)
		}

		took := time.Since(stageStart)
		state.StageDurations[state.Stage.String()] = took
		qw.metrics.ObserveStage(state.Stage, took)

		if result != nil {
			result.Diagnostics = diagnostics
			return result
		}
	}

	result := &QueryResult{
		Answer:      state.FinalAnswer,
		Confidence:  confidenceFrom(state.Reranked),
		Sources:     sourcesFrom(state.Reranked),
		Language:    state.TargetLanguage,
		Diagnostics: diagnostics,
	}
	qw.storeResponseCache(ctx, state, result)
	return result
}

func (qw *QueryWorkflow) detectLanguage(state *QueryState, userCtx UserContext, diagnostics map[string]string) {
	detection := DetectLanguage(state.OriginalQuery, userCtx.PreferredLanguage)
	state.DetectedLanguage = detection.Language
	state.TargetLanguage = detection.Language
	if detection.Fallback {
		diagnostics["language_fallback"] = "true"
	}
	diagnostics["language"] = detection.Language
}

// expandQuery is an optimization, never a hard dependency: any failure
// leaves the original query in place. Simple queries skip the expansion
// round trip entirely.
func (qw *QueryWorkflow) expandQuery(ctx context.Context, state *QueryState, diagnostics map[string]string) {
	if AnalyzeComplexity(state.OriginalQuery) == ComplexitySimple {
		state.ExpandedQuery = state.OriginalQuery
		diagnostics["expansion_skipped"] = "true"
		return
	}

	expanded, err := qw.generator.Generate(ctx, TemplateExpandQuery,
		map[string]string{"query": state.OriginalQuery}, state.TargetLanguage)
	if err != nil || strings.TrimSpace(expanded) == "" {
		state.ExpandedQuery = state.OriginalQuery
		diagnostics["expansion_fallback"] = "true"
		if err != nil {
			qw.logger.Debug("Query expansion failed, using original query",
				"query_id", state.QueryID, "error", err)
		}
		return
	}
	state.ExpandedQuery = expanded
}

// retrieve embeds the expanded query and searches the index. Retrieval is
// load-bearing: its failure terminates the workflow with the apology. An
// empty result set short-circuits to the localized "not found" answer.
func (qw *QueryWorkflow) retrieve(ctx context.Context, state *QueryState, userCtx UserContext, diagnostics map[string]string) *QueryResult {
	vector, err := qw.embedder.EmbedTexts(ctx, []string{state.ExpandedQuery})
	if err != nil {
		return qw.apology(state, diagnostics, err)
	}
	state.QueryVector = vector[0]

	var filter *SearchFilter
	if userCtx.Category != "" {
		filter = &SearchFilter{Category: userCtx.Category}
	}

	refs, err := qw.retriever.Search(ctx, state.QueryVector, qw.config.RetrieveK, qw.config.ScoreThreshold, filter)
	if err != nil {
		return qw.apology(state, diagnostics, err)
	}
	state.Retrieved = refs

	if len(refs) == 0 {
		diagnostics["code"] = "no_results"
		return &QueryResult{
			Answer:   localized(noResultMessages, state.TargetLanguage),
			Language: state.TargetLanguage,
		}
	}
	return nil
}

// generate produces the raw answer. A generation cache keyed by the query
// and the retrieved chunk-id set is consulted first; the key changes
// whenever retrieval results differ, so cached answers never outlive the
// evidence they were built from. Failures return the localized apology
// rather than propagating to the transport layer.
func (qw *QueryWorkflow) generate(ctx context.Context, state *QueryState, diagnostics map[string]string) *QueryResult {
	genLanguage := state.TargetLanguage
	if !IsNativeLanguage(genLanguage) {
		genLanguage = DefaultLanguage
	}

	genKey := generationCacheKey(genLanguage, state.OriginalQuery, state.Reranked)
	if qw.cache != nil {
		if data, found := qw.cache.Get(ctx, genKey); found {
			diagnostics["generation_cache"] = "hit"
			state.RawAnswer = string(data)
			state.FinalAnswer = state.RawAnswer
			return nil
		}
	}

	answer, err := qw.generator.Generate(ctx, TemplateAnswer, map[string]string{
		"query":   state.OriginalQuery,
		"context": state.Context,
	}, genLanguage)
	if err != nil {
		return qw.apology(state, diagnostics, err)
	}

	if qw.cache != nil && qw.config.ResponseCacheTTL > 0 {
		_ = qw.cache.Set(ctx, genKey, []byte(answer), qw.config.ResponseCacheTTL)
	}

	state.RawAnswer = answer
	state.FinalAnswer = answer
	return nil
}

// generationCacheKey hashes the query together with the sorted retrieved
// chunk-id set.
func generationCacheKey(language, query string, refs []ChunkRef) string {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		ids = append(ids, ref.ChunkID)
	}
	sort.Strings(ids)

	sum := sha256.Sum256([]byte(language + "|" + query + "|" + strings.Join(ids, ",")))
	return fmt.Sprintf("generation:%x", sum)
}

// translate post-processes the answer into the target language; on failure
// the untranslated answer stands.
func (qw *QueryWorkflow) translate(ctx context.Context, state *QueryState, diagnostics map[string]string) {
	translated, err := qw.translator.Translate(ctx, state.RawAnswer, DefaultLanguage, state.TargetLanguage)
	if err != nil {
		diagnostics["translation_fallback"] = "true"
		qw.logger.Warn("Translation failed, returning untranslated answer",
			"query_id", state.QueryID,
			"target_language", state.TargetLanguage,
			"error", err,
		)
		return
	}
	state.FinalAnswer = translated
}

// apology builds the terminal failure response: a fixed localized message,
// zero confidence, and a diagnostic code instead of error detail.
func (qw *QueryWorkflow) apology(state *QueryState, diagnostics map[string]string, err error) *QueryResult {
	diagnostics["code"] = errors.CodeOf(err)
	qw.logger.Error("Query workflow stage failed",
		"query_id", state.QueryID,
		"stage", state.Stage.String(),
		"error", err,
	)
	return &QueryResult{
		Answer:   localized(apologyMessages, state.TargetLanguage),
		Language: state.TargetLanguage,
	}
}

// responseCacheKey hashes the normalized query and language. Results are
// cached briefly so repeated identical questions skip the whole pipeline.
func responseCacheKey(language, query string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(query), " "))
	sum := sha256.Sum256([]byte(language + "|" + normalized))
	return fmt.Sprintf("response:%x", sum)
}

func (qw *QueryWorkflow) lookupResponseCache(ctx context.Context, state *QueryState) *QueryResult {
	if qw.cache == nil || qw.config.ResponseCacheTTL <= 0 {
		return nil
	}
	data, found := qw.cache.Get(ctx, responseCacheKey(state.TargetLanguage, state.OriginalQuery))
	if !found {
		return nil
	}
	var result QueryResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	result.FromCache = true
	return &result
}

// storeResponseCache caches successful answers only. Apologies and empty
// results are never cached so transient failures clear on retry.
func (qw *QueryWorkflow) storeResponseCache(ctx context.Context, state *QueryState, result *QueryResult) {
	if qw.cache == nil || qw.config.ResponseCacheTTL <= 0 || result.Confidence == 0 {
		return
	}
	cacheable := *result
	cacheable.Diagnostics = nil
	data, err := json.Marshal(&cacheable)
	if err != nil {
		return
	}
	_ = qw.cache.Set(ctx, responseCacheKey(state.TargetLanguage, state.OriginalQuery), data, qw.config.ResponseCacheTTL)
}

// confidenceFrom derives answer confidence from the retrieval scores of
// the chunks that made it into the context.
func confidenceFrom(refs []ChunkRef) float32 {
	if len(refs) == 0 {
		return 0
	}
	var sum float32
	for _, ref := range refs {
		sum += ref.Score
	}
	return sum / float32(len(refs))
}

func sourcesFrom(refs []ChunkRef) []Source {
	sources := make([]Source, 0, len(refs))
	for _, ref := range refs {
		sources = append(sources, Source{
			DocumentID:    ref.DocumentID,
			DocumentTitle: ref.DocumentTitle,
			ChunkIndex:    ref.SequenceIndex,
			Score:         ref.Score,
		})
	}
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Score > sources[j].Score
	})
	return sources
}

func localized(messages map[string]string, language string) string {
	if msg, ok := messages[language]; ok {
		return msg
	}
	return messages[DefaultLanguage]
}

// userContextRecord is the cached per-user context: the language the user
// last interacted in and their department category.
type userContextRecord struct {
	Language string `json:"language"`
	Category string `json:"category,omitempty"`
}

// lookupUserContext fills missing UserContext fields from the user-context
// cache. The remembered language seeds the detection fallback for the
// user's next letterless query; the remembered category restores their
// retrieval filter.
func (qw *QueryWorkflow) lookupUserContext(ctx context.Context, userCtx *UserContext) {
	if qw.cache == nil || userCtx.UserID == "" {
		return
	}
	data, found := qw.cache.Get(ctx, "user:context:"+userCtx.UserID)
	if !found {
		return
	}
	var record userContextRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return
	}
	if userCtx.PreferredLanguage == "" {
		userCtx.PreferredLanguage = record.Language
	}
	if userCtx.Category == "" {
		userCtx.Category = record.Category
	}
}

// rememberUserContext stores the resolved language and category for the
// user's next query.
func (qw *QueryWorkflow) rememberUserContext(ctx context.Context, userCtx UserContext, language string) {
	if qw.cache == nil || userCtx.UserID == "" || language == "" {
		return
	}
	record := userContextRecord{Language: language, Category: userCtx.Category}
	data, err := json.Marshal(&record)
	if err != nil {
		return
	}
	_ = qw.cache.Set(ctx, "user:context:"+userCtx.UserID, data, 30*24*time.Hour)
}

// usageRecord is one per-query activity entry kept for a day.
type usageRecord struct {
	QueryID    string    `json:"query_id"`
	UserID     string    `json:"user_id"`
	Language   string    `json:"language"`
	Confidence float32   `json:"confidence"`
	Sources    int       `json:"sources"`
	FromCache  bool      `json:"from_cache"`
	Code       string    `json:"code,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (qw *QueryWorkflow) logUsage(ctx context.Context, state *QueryState, userCtx UserContext, result *QueryResult) {
	if qw.cache == nil {
		return
	}
	record := usageRecord{
		QueryID:    state.QueryID,
		UserID:     userCtx.UserID,
		Language:   result.Language,
		Confidence: result.Confidence,
		Sources:    len(result.Sources),
		FromCache:  result.FromCache,
		Code:       result.Diagnostics["code"],
		Timestamp:  time.Now(),
	}
	data, err := json.Marshal(&record)
	if err != nil {
		return
	}
	_ = qw.cache.Set(ctx, "usage:"+state.QueryID, data, 24*time.Hour)
}
