// Package embedder converts text to float32 vectors via any
// OpenAI-compatible embedding server, with per-user API keys, rate
// limiting, quota accounting and a content-hash cache layered on top.
//
// Usage:
//
//	emb := embedder.New(embedder.Config{
//	    Endpoint: "https://api.openai.com",
//	    Model:    "text-embedding-3-small",
//	})
//	vec, err := emb.EmbedWithKey(ctx, "What is photosynthesis?", apiKey)
package embedder

import (
	"context"
	"log/slog"
	"time"
)

// Embedder converts one text into one vector using an explicit API key.
// Wrappers (Limited, Cached) add key selection, quotas and caching.
type Embedder interface {
	EmbedWithKey(ctx context.Context, text, apiKey string) ([]float32, error)

	// Dimension returns the vector dimension, or 0 before the first call.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server. If empty, New
	// returns a deterministic fake for offline use.
	Endpoint string `yaml:"endpoint"`

	// Model is the model name sent in the request.
	Model string `yaml:"model"`

	// Dimension is the expected vector dimension. 0 means auto-detect on
	// first call.
	Dimension int `yaml:"dimension"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries bounds retries of transient upstream failures. Default: 3.
	MaxRetries int `yaml:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per attempt. Default: 500ms.
	RetryBackoff time.Duration `yaml:"retry_backoff"`

	Logger *slog.Logger `yaml:"-"`
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config. An empty Endpoint yields a fake
// embedder that hashes text into stable vectors, good enough for tests and
// air-gapped development.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = 256
		}
		return &fakeEmbedder{dim: dim, model: cfg.Model}
	}
	return newClient(cfg)
}
