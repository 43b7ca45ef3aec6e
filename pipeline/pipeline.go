// Package pipeline runs the ingestion of one bookmark end to end: fetch the
// page, extract and score its content, compose the embedding input and embed
// it, then persist the results and refresh derived state.
//
// The Ingestor is a jobq handler. Failures are classified at each stage:
// transient ones (network, upstream outage, spent quota) surface as plain
// errors so the queue retries with backoff, dead ends (auth walls, gone
// pages, unreadable formats, rejected requests) are wrapped in
// jobq.Permanent so the job terminates on the first attempt.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solenne/signet/acquire"
	"github.com/solenne/signet/compose"
	"github.com/solenne/signet/embedder"
	"github.com/solenne/signet/extract"
	"github.com/solenne/signet/jobq"
	"github.com/solenne/signet/kvcache"
	"github.com/solenne/signet/store"
)

// Fetcher acquires the raw document for a URL. *acquire.Chain satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*acquire.SourceDocument, error)
}

// Config configures the Ingestor.
type Config struct {
	// FetchTimeout bounds acquisition per job. Default: 90s (a browser
	// escalation needs room to launch and settle).
	FetchTimeout time.Duration
	// EmbedTimeout bounds the embedding call per job. Default: 45s.
	EmbedTimeout time.Duration
	// Policy gates embedding on the content quality score. Default
	// threshold: 5.
	Policy *extract.Policy

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 90 * time.Second
	}
	if c.EmbedTimeout <= 0 {
		c.EmbedTimeout = 45 * time.Second
	}
	if c.Policy == nil {
		c.Policy = extract.NewPolicy(0)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Ingestor processes ingestion jobs.
type Ingestor struct {
	store    *store.Store
	fetcher  Fetcher
	composer *compose.Composer
	embed    embedder.Service
	cache    *kvcache.Cache
	events   *store.EventLogger
	cfg      Config
}

// New creates an Ingestor. cache and events may be nil.
func New(s *store.Store, fetcher Fetcher, composer *compose.Composer,
	embed embedder.Service, cache *kvcache.Cache, events *store.EventLogger, cfg Config) *Ingestor {
	cfg.defaults()
	return &Ingestor{
		store:    s,
		fetcher:  fetcher,
		composer: composer,
		embed:    embed,
		cache:    cache,
		events:   events,
		cfg:      cfg,
	}
}

// Handle implements jobq.Handler. It is safe to run concurrently for
// different bookmarks; the queue guarantees one live job per bookmark.
func (in *Ingestor) Handle(ctx context.Context, job *jobq.Job) error {
	bm, err := in.store.GetBookmark(ctx, job.BookmarkID)
	if errors.Is(err, store.ErrBookmarkNotFound) {
		// Deleted while queued.
		return jobq.ErrCancelled
	}
	if err != nil {
		return fmt.Errorf("pipeline: load bookmark: %w", err)
	}

	doc, err := in.fetch(ctx, bm)
	if err != nil {
		return err
	}

	content, err := extract.Extract(doc)
	if err != nil {
		// The only extract error is an unreadable format; retrying cannot
		// change the bytes.
		in.markFailed(ctx, bm, "extract", err)
		return jobq.Permanent(fmt.Errorf("pipeline: extract %s: %w", bm.URL, err))
	}

	score := extract.Score(content)
	if err := in.persistContent(ctx, bm, doc, content, score); err != nil {
		return err
	}

	if doc.IsPlaceholder() {
		// Nothing real was fetched; keep the stub and flag the bookmark for
		// the owner instead of embedding synthetic text.
		if err := in.store.SetStatus(ctx, bm.ID, store.StatusManualReview); err != nil {
			return fmt.Errorf("pipeline: set status: %w", err)
		}
		in.logEvent(store.EventManualReview, bm, map[string]any{"strategy": doc.Strategy})
		in.cfg.Logger.Info("pipeline: placeholder saved, manual review",
			"bookmark_id", bm.ID, "url", bm.URL)
		return nil
	}

	if !in.cfg.Policy.ShouldEmbed(score) {
		if err := in.store.SetStatus(ctx, bm.ID, store.StatusExtractionFailed); err != nil {
			return fmt.Errorf("pipeline: set status: %w", err)
		}
		in.logEvent(store.EventQualityGated, bm, map[string]any{"score": score})
		in.cfg.Logger.Info("pipeline: quality below embed threshold",
			"bookmark_id", bm.ID, "url", bm.URL, "score", score)
		return nil
	}

	// Deletion during the slow stages must not resurrect the bookmark's
	// derived rows, so re-check before spending embedding budget.
	if _, err := in.store.GetBookmark(ctx, bm.ID); errors.Is(err, store.ErrBookmarkNotFound) {
		return jobq.ErrCancelled
	} else if err != nil {
		return fmt.Errorf("pipeline: recheck bookmark: %w", err)
	}

	text, err := in.composer.Compose(content, bm.Note)
	if err != nil {
		return fmt.Errorf("pipeline: compose: %w", err)
	}

	vec, err := in.embedText(ctx, bm, text)
	if err != nil {
		return err
	}

	if err := in.store.ReplaceEmbedding(ctx, bm.ID, in.embed.Model(),
		embedder.SerializeVector(vec), len(vec)); err != nil {
		return fmt.Errorf("pipeline: save embedding: %w", err)
	}
	if err := in.store.SetStatus(ctx, bm.ID, store.StatusEnriched); err != nil {
		return fmt.Errorf("pipeline: set status: %w", err)
	}
	in.invalidateRecommendations(ctx, bm.UserID)
	in.logEvent(store.EventEmbedded, bm, map[string]any{"model": in.embed.Model(), "dimension": len(vec)})
	in.logEvent(store.EventIngestSucceeded, bm, map[string]any{"score": score, "strategy": doc.Strategy})
	in.cfg.Logger.Info("pipeline: bookmark enriched",
		"bookmark_id", bm.ID, "url", bm.URL, "score", score, "strategy", doc.Strategy)
	return nil
}

func (in *Ingestor) fetch(ctx context.Context, bm *store.Bookmark) (*acquire.SourceDocument, error) {
	fctx, cancel := context.WithTimeout(ctx, in.cfg.FetchTimeout)
	defer cancel()

	doc, err := in.fetcher.Fetch(fctx, bm.URL)
	if err == nil {
		return doc, nil
	}
	if fe, ok := acquire.AsFetchError(err); ok && !fe.Retryable() {
		in.markFailed(ctx, bm, "fetch", err)
		return nil, jobq.Permanent(fmt.Errorf("pipeline: fetch %s: %w", bm.URL, err))
	}
	return nil, fmt.Errorf("pipeline: fetch %s: %w", bm.URL, err)
}

func (in *Ingestor) embedText(ctx context.Context, bm *store.Bookmark, text string) ([]float32, error) {
	ectx, cancel := context.WithTimeout(ctx, in.cfg.EmbedTimeout)
	defer cancel()

	vec, err := in.embed.EmbedFor(ectx, bm.UserID, text)
	if err == nil {
		return vec, nil
	}
	// Spent budget clears at the next rollover; let the backoff carry the
	// job there.
	if errors.Is(err, embedder.ErrOverQuota) {
		return nil, fmt.Errorf("pipeline: embed %s: %w", bm.ID, err)
	}
	if ee, ok := embedder.AsEmbedError(err); ok {
		switch ee.Kind {
		case embedder.KindUpstreamUnavailable, embedder.KindQuotaExceeded:
			return nil, fmt.Errorf("pipeline: embed %s: %w", bm.ID, err)
		}
		// Invalid keys and rejected requests don't fix themselves.
		in.markFailed(ctx, bm, "embed", err)
		return nil, jobq.Permanent(fmt.Errorf("pipeline: embed %s: %w", bm.ID, err))
	}
	return nil, fmt.Errorf("pipeline: embed %s: %w", bm.ID, err)
}

// persistContent stores the extraction and backfills bookmark metadata the
// owner left blank.
func (in *Ingestor) persistContent(ctx context.Context, bm *store.Bookmark,
	doc *acquire.SourceDocument, content *extract.Content, score int) error {
	ext := &store.Extraction{
		BookmarkID:    bm.ID,
		Title:         content.Title,
		Description:   content.Description,
		Headings:      content.Headings,
		Body:          content.Body,
		WordCount:     content.WordCount,
		QualityScore:  score,
		LowConfidence: content.LowConfidence,
		Warnings:      content.Warnings,
		Strategy:      doc.Strategy,
	}
	if err := in.store.SaveExtraction(ctx, ext); err != nil {
		return fmt.Errorf("pipeline: save extraction: %w", err)
	}
	if err := in.store.SetExtractedMeta(ctx, bm.ID, content.Title, content.Description); err != nil {
		return fmt.Errorf("pipeline: set meta: %w", err)
	}
	return nil
}

// markFailed records a permanent ingestion failure on the bookmark itself so
// the owner sees what went wrong and what to do about it, without digging
// through jobs. Best effort.
func (in *Ingestor) markFailed(ctx context.Context, bm *store.Bookmark, stage string, cause error) {
	reason := failureReason(stage, cause)
	if err := in.store.SetFailure(ctx, bm.ID, reason); err != nil &&
		!errors.Is(err, store.ErrBookmarkNotFound) {
		in.cfg.Logger.Error("pipeline: mark failed", "bookmark_id", bm.ID, "error", err)
	}
	in.logEvent(store.EventIngestFailed, bm, map[string]any{
		"stage": stage, "reason": reason, "error": cause.Error(),
	})
}

// failureReason translates a terminal stage error into the actionable
// message stored on the bookmark.
func failureReason(stage string, cause error) string {
	if fe, ok := acquire.AsFetchError(cause); ok {
		switch fe.Kind {
		case acquire.KindAuthRequired:
			return "requires login"
		case acquire.KindNotFound:
			return "page not found"
		case acquire.KindUnsupportedFormat:
			return "could not read this page"
		}
	}
	if ee, ok := embedder.AsEmbedError(cause); ok {
		switch ee.Kind {
		case embedder.KindInvalidKey:
			return "add your API key"
		case embedder.KindUpstreamRejected:
			return "could not embed this content"
		}
	}
	if stage == "extract" {
		return "could not read this page"
	}
	return "ingestion failed"
}

// invalidateRecommendations drops the user's cached recommendation sets
// after new content lands. Best effort: the TTL bounds staleness anyway.
func (in *Ingestor) invalidateRecommendations(ctx context.Context, userID string) {
	if in.cache == nil {
		return
	}
	if err := in.cache.DeletePrefix(ctx, kvcache.Key("rec", userID)+":"); err != nil {
		in.cfg.Logger.Warn("pipeline: invalidate recommendations", "user_id", userID, "error", err)
	}
}

func (in *Ingestor) logEvent(eventType string, bm *store.Bookmark, detail map[string]any) {
	if in.events == nil {
		return
	}
	in.events.Log(eventType, bm.UserID, bm.ID, detail)
}
