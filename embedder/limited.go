package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// Service is the embedding surface the pipeline consumes: key selection,
// rate limiting and quota are already folded in.
type Service interface {
	// EmbedFor embeds text on behalf of a user.
	EmbedFor(ctx context.Context, userID, text string) ([]float32, error)

	// Model returns the model name, which namespaces cache entries.
	Model() string
}

// ErrOverQuota is returned by Quota implementations when a key's daily or
// monthly budget is spent.
var ErrOverQuota = errors.New("embedder: key over quota")

// Keys resolves a user's own API key. An empty key means the user has none
// on file and the shared key applies.
type Keys interface {
	UserKey(ctx context.Context, userID string) (string, error)
}

// Quota atomically reserves calls against a key's budget. Implementations
// must be safe under concurrent workers; the reservation either happens
// completely or not at all.
type Quota interface {
	Acquire(ctx context.Context, keyFingerprint string, calls int) error
}

// LimitedConfig configures the Limited wrapper.
type LimitedConfig struct {
	// SharedKey is the service-wide API key used when a user has none, or
	// as fallback when the user's key is rejected or over quota.
	SharedKey string

	// Keys resolves per-user keys. Nil means everyone uses SharedKey.
	Keys Keys

	// Quota accounts calls per key. Nil disables quota checks.
	Quota Quota

	// RPM is the per-key request rate. Default: 60.
	RPM int
	// Burst allows short spikes above RPM. Default: 10.
	Burst int

	Logger *slog.Logger
}

func (c *LimitedConfig) defaults() {
	if c.RPM <= 0 {
		c.RPM = 60
	}
	if c.Burst <= 0 {
		c.Burst = 10
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Limited wraps an Embedder with per-key rate limiting, quota accounting
// and the user-key to shared-key fallback.
type Limited struct {
	inner Embedder
	cfg   LimitedConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewLimited creates the wrapper.
func NewLimited(inner Embedder, cfg LimitedConfig) *Limited {
	cfg.defaults()
	return &Limited{
		inner:    inner,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *Limited) Model() string { return l.inner.Model() }

// EmbedFor embeds text with the user's own key when one is on file, falling
// back to the shared key when the user's key is over quota or rejected.
// Failures on the shared key are final.
func (l *Limited) EmbedFor(ctx context.Context, userID, text string) ([]float32, error) {
	userKey := ""
	if l.cfg.Keys != nil && userID != "" {
		var err error
		userKey, err = l.cfg.Keys.UserKey(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("resolve user key: %w", err)
		}
	}

	if userKey != "" && userKey != l.cfg.SharedKey {
		vec, err := l.embedWith(ctx, userKey, text)
		if err == nil {
			return vec, nil
		}
		ee, ok := AsEmbedError(err)
		if !ok || (ee.Kind != KindQuotaExceeded && ee.Kind != KindInvalidKey) {
			return nil, err
		}
		l.cfg.Logger.Warn("embed: user key failed, falling back to shared key",
			"user_id", userID, "kind", ee.Kind)
	}

	if l.cfg.SharedKey == "" && userKey == "" {
		// No key at all still works against unauthenticated local servers.
		return l.embedWith(ctx, "", text)
	}
	return l.embedWith(ctx, l.cfg.SharedKey, text)
}

func (l *Limited) embedWith(ctx context.Context, apiKey, text string) ([]float32, error) {
	fp := KeyFingerprint(apiKey)

	if err := l.limiter(fp).Wait(ctx); err != nil {
		return nil, &EmbedError{Kind: KindUpstreamUnavailable, Err: err}
	}

	if l.cfg.Quota != nil {
		if err := l.cfg.Quota.Acquire(ctx, fp, 1); err != nil {
			if errors.Is(err, ErrOverQuota) {
				return nil, &EmbedError{Kind: KindQuotaExceeded, Err: err}
			}
			return nil, fmt.Errorf("quota acquire: %w", err)
		}
	}

	return l.inner.EmbedWithKey(ctx, text, apiKey)
}

func (l *Limited) limiter(fingerprint string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[fingerprint]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(l.cfg.RPM)/60.0), l.cfg.Burst)
		l.limiters[fingerprint] = lim
	}
	return lim
}

// KeyFingerprint derives a stable non-reversible identifier for an API key,
// safe to store in quota tables and logs.
func KeyFingerprint(apiKey string) string {
	if apiKey == "" {
		return "anonymous"
	}
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:8])
}
