package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/InsureGuide/internal/advisor"
	"github.com/BTreeMap/InsureGuide/internal/api"
	"github.com/BTreeMap/InsureGuide/internal/config"
	"github.com/BTreeMap/InsureGuide/internal/flow"
	"github.com/BTreeMap/InsureGuide/internal/genai"
	"github.com/BTreeMap/InsureGuide/internal/retrieval"
	"github.com/BTreeMap/InsureGuide/internal/scheduler"
	"github.com/BTreeMap/InsureGuide/internal/store"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// app holds the wired components of a running process.
type app struct {
	cfg       *config.Config
	tokenizer *genai.Tokenizer
	vectors   retrieval.VectorStore
	store     store.Store
	engine    *flow.Engine
	jobs      *store.JobRunner
	registry  *prometheus.Registry
	redis     *redis.Client
}

// buildApp connects the language model, retrieval, advisor and flow layers.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, tokenizer: genai.NewTokenizer("")}

	raw, err := genai.NewClient(buildGenAIOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	var llm genai.ClientInterface = raw
	if cfg.Cache.Enabled {
		var cacheOpts []genai.CacheOption
		if a.redis = genai.NewRedisClient(ctx, cfg.Cache.RedisAddr); a.redis != nil {
			cacheOpts = append(cacheOpts, genai.WithRedis(a.redis))
		}
		cached, err := genai.NewCachedClient(raw, cfg.Cache.Size, cfg.Cache.TTL, cacheOpts...)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create response cache: %w", err)
		}
		llm = cached
	}
	guarded := genai.NewGuardedClient(llm,
		genai.WithBackupModel(cfg.LLM.BackupModel),
		genai.WithBackoff(cfg.Flow.RateLimitBackoff),
		genai.WithPromptBudget(a.tokenizer, cfg.LLM.MaxPromptTokens),
	)

	embedder, err := genai.NewEmbedder(cfg.LLM.EmbeddingModel, 0, buildGenAIOptions(cfg)...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	if a.vectors, err = retrieval.NewVectorStore(ctx, cfg.Retrieval, embedder.Embed); err != nil {
		a.Close()
		return nil, fmt.Errorf("open vector store: %w", err)
	}

	bridge := retrieval.NewBridge(
		a.vectors,
		retrieval.NewLLMReranker(guarded, cfg.Retrieval.RerankConcurrency, cfg.Retrieval.RerankTimeout),
		guarded,
		retrieval.NewModelWebSearcher(raw, cfg.Retrieval.WebSearchModel),
		retrieval.WithCollections(cfg.Retrieval.PolicyCollection, cfg.Retrieval.SummaryCollection),
		retrieval.WithTopK(cfg.Retrieval.TopK),
		retrieval.WithTopN(cfg.Retrieval.RerankTopN),
	)

	router := advisor.NewPolicyRouter(guarded)
	deps := flow.Deps{
		Classifier:  advisor.NewIntentClassifier(guarded, cfg.Flow.ConfidenceThreshold, cfg.Flow.ConflictMargin, cfg.LLM.RecoveryTemperature),
		Extractor:   advisor.NewExtractor(guarded),
		Prechecker:  advisor.NewReplyPrechecker(guarded),
		Questions:   advisor.NewQuestionGenerator(guarded),
		Recommender: advisor.NewRecommender(guarded, cfg.LLM.AggregateModels),
		QA:          advisor.NewQAAgent(guarded, router, bridge),
		Router:      router,
		Knowledge:   bridge,
	}
	if a.store, err = store.Open(cfg.Store.DSN); err != nil {
		a.Close()
		return nil, fmt.Errorf("open session store: %w", err)
	}
	a.engine = flow.NewEngine(cfg.Flow, flow.NewStoreBasedStateManager(a.store), deps, flow.WithJobQueue(a.store))
	a.jobs = store.NewJobRunner(a.store, store.WithPollInterval(cfg.Flow.JobPollInterval))
	a.engine.RegisterJobs(a.jobs)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.registry.MustRegister(flow.Collectors()...)
	a.registry.MustRegister(genai.Collectors()...)
	a.registry.MustRegister(retrieval.Collectors()...)
	return a, nil
}

// buildGenAIOptions constructs GenAI configuration options.
func buildGenAIOptions(cfg *config.Config) []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(cfg.LLM.APIKey),
		genai.WithDefaultModel(cfg.LLM.Model),
		genai.WithDefaultTemperature(cfg.LLM.Temperature),
	}
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, genai.WithBaseURL(cfg.LLM.BaseURL))
	}
	if cfg.LLM.RequestTimeout > 0 {
		opts = append(opts, genai.WithRequestTimeout(cfg.LLM.RequestTimeout))
	}
	return opts
}

func (a *app) server() *api.Server {
	return api.NewServer(a.engine, api.WithDedup(a.store), api.WithMetrics(a.registry))
}

// startJobs runs the background job queue until the returned stop function
// is called. Stop drains the jobs that are due before returning.
func (a *app) startJobs(ctx context.Context) (stop func()) {
	if err := a.jobs.RecoverStaleJobs(); err != nil {
		slog.Warn("app.startJobs: stale job recovery failed", "error", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.jobs.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
		if n := a.jobs.RunDue(context.Background()); n > 0 {
			slog.Info("app.startJobs: drained queued jobs", "count", n)
		}
	}
}

// scheduleMaintenance starts the idle session sweep when a session TTL is set.
// Message ids and finished jobs are kept as long as the sessions they belong to.
func (a *app) scheduleMaintenance() (*scheduler.Scheduler, error) {
	sched := scheduler.NewScheduler(scheduler.WithJobTimeout(time.Minute))
	ttl := a.cfg.Flow.SessionTTL
	if ttl <= 0 {
		return sched, nil
	}
	err := sched.AddJob(a.cfg.Flow.SweepSchedule, "purge idle sessions", func(ctx context.Context) error {
		if _, err := a.engine.PurgeIdle(ctx, ttl); err != nil {
			return err
		}
		cutoff := time.Now().Add(-ttl)
		n, err := a.store.PruneInbound(cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Info("app.scheduleMaintenance: forgot old message ids", "count", n)
		}
		if n, err = a.store.PruneJobs(cutoff); n > 0 {
			slog.Info("app.scheduleMaintenance: pruned finished jobs", "count", n)
		}
		return err
	})
	if err != nil {
		sched.Stop()
		return nil, err
	}
	return sched, nil
}

func (a *app) ingest(ctx context.Context, dir string) error {
	in := retrieval.NewIngester(a.vectors, a.tokenizer,
		a.cfg.Retrieval.PolicyCollection, a.cfg.Retrieval.SummaryCollection,
		a.cfg.Retrieval.ChunkTokens, a.cfg.Retrieval.ChunkOverlapTokens)
	stats, err := in.IngestDir(ctx, dir)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", dir, err)
	}
	slog.Info("Ingestion complete", "dir", dir, "files", stats.Files, "chunks", stats.Chunks, "summaries", stats.Summaries, "skipped", stats.Skipped)
	return nil
}

// Close releases the stores. It tolerates a partially built app.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("app.Close: session store close failed", "error", err)
		}
	}
	if a.vectors != nil {
		if err := a.vectors.Close(); err != nil {
			slog.Warn("app.Close: vector store close failed", "error", err)
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
