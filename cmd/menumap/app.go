package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kalambet/menumap/internal/auditlog"
	"github.com/kalambet/menumap/internal/catalog"
	"github.com/kalambet/menumap/internal/classify"
	"github.com/kalambet/menumap/internal/config"
	"github.com/kalambet/menumap/internal/engine"
	"github.com/kalambet/menumap/internal/mapper"
	"github.com/kalambet/menumap/internal/prompts"
	"github.com/kalambet/menumap/internal/reranking"
	"github.com/kalambet/menumap/internal/retrieval"
	"github.com/kalambet/menumap/internal/spelling"
	"github.com/kalambet/menumap/internal/storage"
)

// app holds the long-lived components shared by serve, mcp and index.
type app struct {
	cfg       config.Config
	store     *storage.Store
	eng       engine.Engine
	vectors   retrieval.VectorStore
	retriever *retrieval.Retriever
	indexer   *retrieval.Indexer
	mapper    *mapper.Mapper

	closers []func() error
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// newApp opens storage, connects to the LLM provider and vector backend, and
// assembles the mapping pipeline. The catalog is not loaded; call syncCatalog.
func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	eng, err := engine.New(ctx, engine.Options{
		Provider:      cfg.LLM.Provider,
		OpenAIAPIKey:  cfg.LLM.OpenAIAPIKey,
		OpenAIBaseURL: cfg.LLM.OpenAIBaseURL,
		GeminiAPIKey:  cfg.LLM.GeminiAPIKey,
		OllamaBaseURL: cfg.LLM.OllamaBaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating llm engine: %w", err)
	}
	if err := engine.EnsureReady(ctx, eng, cfg.LLM.ChatModel, cfg.LLM.EmbedModel, os.Stderr); err != nil {
		return nil, err
	}
	a.eng = eng

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	switch cfg.Retrieval.Backend {
	case "chroma":
		cs, err := retrieval.NewChromaStore(ctx, cfg.Retrieval.ChromaURL, cfg.Retrieval.ChromaCollection)
		if err != nil {
			return nil, fmt.Errorf("connecting to chroma: %w", err)
		}
		a.vectors = cs
		a.closers = append(a.closers, cs.Close)
	default:
		a.vectors = retrieval.NewSQLiteStore(store.DB())
	}

	var embedder retrieval.TextEmbedder = retrieval.NewEmbedder(eng, cfg.LLM.EmbedModel)
	if cfg.Cache.RedisAddr != "" {
		ttl, err := time.ParseDuration(cfg.Cache.TTL)
		if err != nil {
			slog.Warn("invalid cache ttl, using default 24h", "value", cfg.Cache.TTL, "error", err)
			ttl = 24 * time.Hour
		}
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.Cache.RedisAddr})
		a.closers = append(a.closers, rdb.Close)
		embedder = retrieval.NewCachedEmbedder(embedder, rdb, ttl)
		slog.Info("embedding cache enabled", "addr", cfg.Cache.RedisAddr, "ttl", ttl)
	}

	a.retriever = retrieval.NewRetriever(embedder, a.vectors)
	a.indexer = retrieval.NewIndexer(embedder, a.vectors)

	prompt, err := prompts.Load(cfg.Prompts.Path, cfg.Prompts.PromptID)
	if err != nil {
		return nil, fmt.Errorf("loading selection prompt: %w", err)
	}

	rerankTimeout, err := time.ParseDuration(cfg.Reranking.Timeout)
	if err != nil {
		slog.Warn("invalid reranking timeout, using default 5s", "value", cfg.Reranking.Timeout, "error", err)
		rerankTimeout = 5 * time.Second
	}

	a.mapper = mapper.New(mapper.Deps{
		Corrector:  spelling.NewCorrector(eng, cfg.LLM.SpellModel, cfg.LLM.Temperature),
		Classifier: classify.NewClassifier(eng, cfg.LLM.SpellModel),
		Retriever:  a.retriever,
		Reranker: reranking.NewReranker(
			eng,
			cfg.LLM.SpellModel,
			cfg.Reranking.Enabled,
			rerankTimeout,
			cfg.Reranking.Threshold,
			cfg.Reranking.TopK,
		),
		Selector:  mapper.NewSelector(eng, cfg.LLM.ChatModel, prompt, cfg.LLM.Temperature),
		Logs:      store,
		Audit:     auditlog.NewWriter(cfg.Output.Dir),
		TopK:      cfg.Retrieval.TopK,
		Threshold: cfg.Mapping.Threshold,
	})

	ok = true
	return a, nil
}

// syncCatalog loads the master menu, mirrors it into SQLite, brings the
// vector index up to date and hands it to the mapper.
func (a *app) syncCatalog(ctx context.Context, rebuild bool) (retrieval.SyncStats, error) {
	cat, err := catalog.Load(a.cfg.Catalog.Path)
	if err != nil {
		return retrieval.SyncStats{}, err
	}
	return a.applyCatalog(ctx, cat, rebuild)
}

func (a *app) applyCatalog(ctx context.Context, cat *catalog.Catalog, rebuild bool) (retrieval.SyncStats, error) {
	items := cat.Items()
	rows := make([]storage.MenuItem, len(items))
	for i, it := range items {
		rows[i] = storage.MenuItem{ID: it.ID, Name: it.Name, Usage: it.Usage}
	}
	if err := a.store.ReplaceMenuItems(rows); err != nil {
		return retrieval.SyncStats{}, fmt.Errorf("saving menu items: %w", err)
	}

	stats, err := a.indexer.Sync(ctx, cat, rebuild)
	if err != nil {
		return stats, fmt.Errorf("indexing catalog: %w", err)
	}
	a.mapper.SetCatalog(cat)
	return stats, nil
}

// watchCatalog re-applies the catalog whenever the file changes, until ctx
// is done.
func (a *app) watchCatalog(ctx context.Context) {
	w := catalog.NewWatcher(a.cfg.Catalog.Path, time.Second, func(ctx context.Context, cat *catalog.Catalog) {
		stats, err := a.applyCatalog(ctx, cat, false)
		if err != nil {
			slog.Error("catalog reload failed", "error", err)
			return
		}
		slog.Info("catalog reloaded", "items", cat.Len(), "added", stats.Added, "removed", stats.Removed)
	})
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("catalog watcher stopped", "error", err)
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing: %v\n", err)
		}
	}
	a.closers = nil
}
