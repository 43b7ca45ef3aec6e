// Package service wires the signet subsystems together and exposes them over
// HTTP and MCP.
//
// Usage:
//
//	svc, err := service.New(cfg, logger)
//	defer svc.Close()
//	svc.Start(ctx)                 // background ingestion workers
//	http.ListenAndServe(addr, svc.Router())
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/solenne/signet/acquire"
	"github.com/solenne/signet/compose"
	"github.com/solenne/signet/embedder"
	"github.com/solenne/signet/extract"
	"github.com/solenne/signet/jobq"
	"github.com/solenne/signet/kvcache"
	"github.com/solenne/signet/pipeline"
	"github.com/solenne/signet/recommend"
	"github.com/solenne/signet/store"
)

// Service is the assembled application.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	store   *store.Store
	cache   *kvcache.Cache
	queue   *jobq.Queue
	engine  *recommend.Engine
	embed   embedder.Service
	cached  *embedder.Cached
	events  *store.EventLogger
	browser *acquire.Browser

	ownsDB bool
}

// New opens the database at cfg.DBPath and assembles the service.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	cfg.defaults()
	s, err := store.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("service: open store: %w", err)
	}
	svc, err := build(s, cfg, logger)
	if err != nil {
		s.Close()
		return nil, err
	}
	svc.ownsDB = true
	return svc, nil
}

// NewWith assembles the service over an existing database handle with the
// store schema already applied. The caller keeps ownership of the handle.
func NewWith(db *sql.DB, cfg *Config, logger *slog.Logger) (*Service, error) {
	cfg.defaults()
	return build(store.NewWith(db), cfg, logger)
}

func build(s *store.Store, cfg *Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cache, err := kvcache.New(s.DB)
	if err != nil {
		return nil, fmt.Errorf("service: init cache: %w", err)
	}

	queue, err := jobq.New(s.DB, jobq.Options{
		Visibility:   cfg.Queue.Visibility,
		PollInterval: cfg.Queue.PollInterval,
		MaxAttempts:  cfg.Queue.MaxAttempts,
		Backoff:      cfg.Queue.Backoff,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("service: init queue: %w", err)
	}

	embedCfg := cfg.Embed.Client
	embedCfg.Logger = logger
	cached := embedder.NewCached(embedder.NewLimited(embedder.New(embedCfg), embedder.LimitedConfig{
		SharedKey: os.Getenv("EMBED_API_KEY"),
		Keys:      s,
		Quota:     &store.Quota{Store: s, Limits: cfg.Embed.Limits},
		RPM:       cfg.Embed.RPM,
		Burst:     cfg.Embed.Burst,
		Logger:    logger,
	}), cache)

	engine := recommend.New(s, cache, cached, recommend.Config{
		Weights: recommend.Weights{
			Similarity: cfg.Recommend.SimilarityWt,
			Recency:    cfg.Recommend.RecencyWt,
			TagOverlap: cfg.Recommend.TagOverlapWt,
		},
		Limit:          cfg.Recommend.Limit,
		CacheTTL:       cfg.Recommend.CacheTTL,
		HalfLife:       cfg.Recommend.HalfLife,
		MaxPerHost:     cfg.Recommend.MaxPerHost,
		CandidateLimit: cfg.Recommend.CandidateLimit,
		ModelVersion:   cached.Model(),
		Logger:         logger,
	})

	return &Service{
		cfg:    cfg,
		logger: logger,
		store:  s,
		cache:  cache,
		queue:  queue,
		engine: engine,
		embed:  cached,
		cached: cached,
		events: store.NewEventLogger(s, 256),
	}, nil
}

// Start launches the ingestion workers. They stop when ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	ing := s.ingestor()
	go s.queue.Run(ctx, s.cfg.Queue.Concurrency, ing.Handle)
	s.logger.Info("service: workers started", "concurrency", s.cfg.Queue.Concurrency)
}

// ingestor builds the pipeline handler over the full fetcher chain.
func (s *Service) ingestor() *pipeline.Ingestor {
	s.browser = acquire.NewBrowser(acquire.BrowserConfig{
		ControlURL:  s.cfg.Acquire.BrowserURL,
		SettleDelay: s.cfg.Acquire.SettleDelay,
		Logger:      s.logger,
	})
	chain := acquire.NewChain(acquire.Config{
		StrategyTimeout: s.cfg.Acquire.StrategyTimeout,
		ChainTimeout:    s.cfg.Acquire.ChainTimeout,
		Logger:          s.logger,
	},
		acquire.NewDirect(acquire.DirectConfig{UserAgent: s.cfg.Acquire.UserAgent, Logger: s.logger}),
		acquire.NewAPI(acquire.APIConfig{UserAgent: s.cfg.Acquire.UserAgent}),
		s.browser,
		acquire.NewPlaceholder(),
	)
	composer := compose.New(compose.Config{
		Budget:    s.cfg.Compose.Budget,
		Head:      s.cfg.Compose.Head,
		Tail:      s.cfg.Compose.Tail,
		MaxTokens: s.cfg.Compose.MaxTokens,
		Encoding:  s.cfg.Compose.Encoding,
	})
	return pipeline.New(s.store, chain, composer, s.embed, s.cache, s.events, pipeline.Config{
		FetchTimeout: s.cfg.Queue.FetchTimeout,
		EmbedTimeout: s.cfg.Queue.EmbedTimeout,
		Policy:       extract.NewPolicy(s.cfg.Extract.EmbedThreshold),
		Logger:       s.logger,
	})
}

// Store exposes the persistence layer (CLI, migrations).
func (s *Service) Store() *store.Store { return s.store }

// Queue exposes the job queue.
func (s *Service) Queue() *jobq.Queue { return s.queue }

// Close flushes events and releases resources.
func (s *Service) Close() error {
	s.events.Close()
	if s.browser != nil {
		if err := s.browser.Close(); err != nil {
			s.logger.Warn("service: close browser", "error", err)
		}
	}
	if s.ownsDB {
		return s.store.Close()
	}
	return nil
}

// PruneStaleEmbeddings removes vectors produced by previous embedding
// models, resets the affected bookmarks to pending and drops cached
// recommendation sets and embedding cache entries built on the old
// vectors. Run once at startup.
func (s *Service) PruneStaleEmbeddings(ctx context.Context) error {
	model := s.embed.Model()
	models, err := s.store.EmbeddingModels(ctx)
	if err != nil {
		return fmt.Errorf("service: list embedding models: %w", err)
	}
	n, err := s.store.DeleteEmbeddingsExcept(ctx, model)
	if err != nil {
		return fmt.Errorf("service: prune embeddings: %w", err)
	}
	if n == 0 {
		return nil
	}
	downgraded, err := s.store.DowngradeMissingEmbeddings(ctx)
	if err != nil {
		return fmt.Errorf("service: downgrade bookmarks: %w", err)
	}
	if err := s.cache.DeletePrefix(ctx, "rec:"); err != nil {
		return fmt.Errorf("service: drop recommendation cache: %w", err)
	}
	for _, m := range models {
		if m == model {
			continue
		}
		if err := s.cached.InvalidateModel(ctx, m); err != nil {
			return fmt.Errorf("service: drop embedding cache for %s: %w", m, err)
		}
	}
	s.logger.Info("service: pruned stale embeddings",
		"model", model, "removed", n, "downgraded", downgraded)
	return nil
}
