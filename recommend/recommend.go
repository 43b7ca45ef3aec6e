// Package recommend ranks a user's enriched bookmarks against a working
// context: the project or task being worked on, a general request, or a
// "surprise me" request.
//
// Ranking blends vector similarity with recency and technology-tag overlap,
// with ties broken by recency so results are stable. Result sets are cached
// briefly in the shared KV cache; ingestion writes invalidate the user's
// cached sets so recommendations never outlive their sources past the TTL.
package recommend

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/solenne/signet/embedder"
	"github.com/solenne/signet/kvcache"
	"github.com/solenne/signet/store"
)

// Context types. Scoped types restrict candidates to bookmarks linked to
// the named project or task; general and surprise draw from the whole
// corpus, surprise with diversity weighting instead of pure similarity.
const (
	ContextProject  = "project"
	ContextTask     = "task"
	ContextSubtask  = "subtask"
	ContextGeneral  = "general"
	ContextSurprise = "surprise"
)

// Context describes what to recommend against. Transient, built per
// request.
type Context struct {
	Type         string   `json:"type"`
	ID           string   `json:"id,omitempty"` // project or task ID for scoped types
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Technologies []string `json:"technologies,omitempty"`
}

// Signature is a stable digest of the context, used as the cache key part.
// Identical contexts hit the same cache entry.
func (c *Context) Signature() string {
	var sb strings.Builder
	sb.WriteString(c.Type)
	sb.WriteByte('\n')
	sb.WriteString(c.ID)
	sb.WriteByte('\n')
	sb.WriteString(c.Title)
	sb.WriteByte('\n')
	sb.WriteString(c.Description)
	for _, t := range c.Technologies {
		sb.WriteByte('\n')
		sb.WriteString(strings.ToLower(t))
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:16])
}

// text is what gets embedded to represent the context.
func (c *Context) text() string {
	parts := make([]string, 0, 3)
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	if c.Description != "" {
		parts = append(parts, c.Description)
	}
	if len(c.Technologies) > 0 {
		parts = append(parts, strings.Join(c.Technologies, ", "))
	}
	return strings.Join(parts, "\n\n")
}

func (c *Context) scope() store.Scope {
	switch c.Type {
	case ContextProject:
		return store.Scope{ProjectID: c.ID}
	case ContextTask, ContextSubtask:
		return store.Scope{TaskID: c.ID}
	default:
		return store.Scope{}
	}
}

// Recommendation is one ranked result.
type Recommendation struct {
	BookmarkID string  `json:"bookmark_id"`
	URL        string  `json:"url"`
	Title      string  `json:"title"`
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
	Recency    float64 `json:"recency"`
	TagOverlap float64 `json:"tag_overlap"`
	Fallback   bool    `json:"fallback,omitempty"`
}

// Weights blend the ranking signals. They should sum to roughly 1.
type Weights struct {
	Similarity float64 `yaml:"similarity"`
	Recency    float64 `yaml:"recency"`
	TagOverlap float64 `yaml:"tag_overlap"`
}

// Config configures the engine.
type Config struct {
	Weights Weights

	// Limit is the default result count. Default: 10.
	Limit int
	// CacheTTL bounds how stale a cached result set may get. Default: 10m.
	CacheTTL time.Duration
	// HalfLife is the recency decay: a bookmark this old scores 0.5 on the
	// recency signal. Default: 30 days.
	HalfLife time.Duration
	// MaxPerHost caps results from one site so a single documentation dump
	// cannot crowd out everything else. Default: 3. Surprise contexts
	// always use 1.
	MaxPerHost int
	// ModelVersion selects which embedding generation to score against.
	ModelVersion string
	// CandidateLimit bounds how many enriched bookmarks are loaded per
	// request. Default: 500.
	CandidateLimit int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	zero := Weights{}
	if c.Weights == zero {
		c.Weights = Weights{Similarity: 0.65, Recency: 0.20, TagOverlap: 0.15}
	}
	if c.Limit <= 0 {
		c.Limit = 10
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 10 * time.Minute
	}
	if c.HalfLife <= 0 {
		c.HalfLife = 30 * 24 * time.Hour
	}
	if c.MaxPerHost <= 0 {
		c.MaxPerHost = 3
	}
	if c.CandidateLimit <= 0 {
		c.CandidateLimit = 500
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Engine computes recommendations.
type Engine struct {
	store *store.Store
	cache *kvcache.Cache
	embed embedder.Service
	cfg   Config
}

// New creates an Engine. The cache may be nil (every request recomputes).
func New(s *store.Store, cache *kvcache.Cache, embed embedder.Service, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{store: s, cache: cache, embed: embed, cfg: cfg}
}

// Recommend returns the top bookmarks for the context, cache-fronted.
func (e *Engine) Recommend(ctx context.Context, userID string, rc *Context) ([]Recommendation, error) {
	key := kvcache.Key("rec", userID, rc.Signature())

	if e.cache != nil {
		if blob, ok, err := e.cache.Get(ctx, key); err == nil && ok {
			var recs []Recommendation
			if err := json.Unmarshal(blob, &recs); err == nil {
				return recs, nil
			}
		}
	}

	recs, fallback, err := e.compute(ctx, userID, rc)
	if err != nil {
		return nil, err
	}

	// Fallback rankings are not cached: the next request should try the
	// embedder again rather than pin a degraded result for the TTL.
	if e.cache != nil && !fallback {
		if blob, err := json.Marshal(recs); err == nil {
			_ = e.cache.Set(ctx, key, blob, e.cfg.CacheTTL)
		}
	}
	return recs, nil
}

// InvalidateUser drops every cached result set for a user. Called after any
// write that changes what could be recommended.
func (e *Engine) InvalidateUser(ctx context.Context, userID string) error {
	if e.cache == nil {
		return nil
	}
	return e.cache.DeletePrefix(ctx, kvcache.Key("rec", userID)+":")
}

func (e *Engine) compute(ctx context.Context, userID string, rc *Context) ([]Recommendation, bool, error) {
	candidates, err := e.store.ListEmbedded(ctx, userID, e.cfg.ModelVersion, rc.scope(), e.cfg.CandidateLimit)
	if err != nil {
		return nil, false, fmt.Errorf("recommend: load candidates: %w", err)
	}

	var anchor []float32
	fallback := false
	if text := rc.text(); text != "" && rc.Type != ContextSurprise {
		anchor, err = e.embed.EmbedFor(ctx, userID, text)
		if err != nil {
			// Degrade to recency and tag overlap rather than failing the
			// request: stale-but-useful beats an error page.
			e.cfg.Logger.Warn("recommend: context embedding failed, using fallback ranking",
				"user_id", userID, "type", rc.Type, "error", err)
			anchor = nil
			fallback = true
		}
	}

	sig := rc.Signature()
	now := time.Now()
	recs := make([]Recommendation, 0, len(candidates))
	for _, c := range candidates {
		r := Recommendation{
			BookmarkID: c.ID,
			URL:        c.URL,
			Title:      c.Title,
			Recency:    e.recency(now.Sub(c.CreatedAt)),
			TagOverlap: tagOverlap(rc.Technologies, c.Tags),
			Fallback:   fallback,
		}
		if anchor != nil {
			r.Similarity = embedder.CosineSimilarity(anchor, embedder.DeserializeVector(c.Vector))
		}
		r.Score = e.score(rc, sig, &r, anchor != nil)
		recs = append(recs, r)
	}

	sortRecs(recs, candidates)
	recs = diversify(recs, e.maxPerHost(rc))
	if len(recs) > e.cfg.Limit {
		recs = recs[:e.cfg.Limit]
	}
	return recs, fallback, nil
}

func (e *Engine) score(rc *Context, sig string, r *Recommendation, haveAnchor bool) float64 {
	w := e.cfg.Weights
	if rc.Type == ContextSurprise {
		// Deterministic hash spread replaces similarity: the set varies
		// across contexts but stays reproducible for one signature.
		return 0.5*hashSpread(sig, r.BookmarkID) + w.Recency*r.Recency + w.TagOverlap*r.TagOverlap
	}
	if !haveAnchor {
		// No vector to compare against: renormalize the remaining signals.
		total := w.Recency + w.TagOverlap
		return (w.Recency*r.Recency + w.TagOverlap*r.TagOverlap) / total
	}
	return w.Similarity*r.Similarity + w.Recency*r.Recency + w.TagOverlap*r.TagOverlap
}

func (e *Engine) maxPerHost(rc *Context) int {
	if rc.Type == ContextSurprise {
		return 1
	}
	return e.cfg.MaxPerHost
}

// recency maps age to (0, 1] with exponential half-life decay.
func (e *Engine) recency(age time.Duration) float64 {
	if age <= 0 {
		return 1
	}
	return math.Exp2(-float64(age) / float64(e.cfg.HalfLife))
}

// hashSpread maps (signature, bookmark) to a stable value in [0, 1).
func hashSpread(sig, bookmarkID string) float64 {
	sum := sha256.Sum256([]byte(sig + "\n" + bookmarkID))
	return float64(binary.BigEndian.Uint64(sum[:8])>>11) / float64(1<<53)
}

// tagOverlap is the Jaccard index of the two tag sets.
func tagOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[strings.ToLower(t)] = true
	}
	inter := 0
	union := len(set)
	seen := make(map[string]bool, len(b))
	for _, t := range b {
		t = strings.ToLower(t)
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// sortRecs orders by score descending with ties broken by creation time
// descending, so equal scores always list the newer bookmark first.
func sortRecs(recs []Recommendation, candidates []*store.EmbeddedBookmark) {
	created := make(map[string]time.Time, len(candidates))
	for _, c := range candidates {
		created[c.ID] = c.CreatedAt
	}
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].Score != recs[j].Score {
			return recs[i].Score > recs[j].Score
		}
		return created[recs[i].BookmarkID].After(created[recs[j].BookmarkID])
	})
}

// diversify caps how many results share a host, preserving rank order.
// Overflow from capped hosts fills the tail if nothing else remains.
func diversify(recs []Recommendation, maxPerHost int) []Recommendation {
	perHost := make(map[string]int)
	kept := make([]Recommendation, 0, len(recs))
	var overflow []Recommendation
	for _, r := range recs {
		h := hostOf(r.URL)
		if perHost[h] >= maxPerHost {
			overflow = append(overflow, r)
			continue
		}
		perHost[h]++
		kept = append(kept, r)
	}
	return append(kept, overflow...)
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
