package service

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/solenne/signet/embedder"
	"github.com/solenne/signet/store"
)

// Config holds all signet configuration, one section per subsystem.
type Config struct {
	DBPath string `yaml:"db_path"`

	HTTP      HTTPConfig      `yaml:"http"`
	Acquire   AcquireConfig   `yaml:"acquire"`
	Extract   ExtractConfig   `yaml:"extract"`
	Compose   ComposeConfig   `yaml:"compose"`
	Embed     EmbedConfig     `yaml:"embed"`
	Queue     QueueConfig     `yaml:"queue"`
	Recommend RecommendConfig `yaml:"recommend"`
}

// HTTPConfig controls the HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// AcquireConfig controls the fetcher chain.
type AcquireConfig struct {
	StrategyTimeout time.Duration `yaml:"strategy_timeout"`
	ChainTimeout    time.Duration `yaml:"chain_timeout"`
	UserAgent       string        `yaml:"user_agent"`
	// BrowserURL is a remote DevTools websocket. Empty launches a local
	// headless browser on first use.
	BrowserURL string `yaml:"browser_url"`
	// SettleDelay is how long rendered pages get for late JS after load.
	SettleDelay time.Duration `yaml:"settle_delay"`
}

// ExtractConfig controls content scoring.
type ExtractConfig struct {
	// EmbedThreshold is the minimum quality score that earns an embedding.
	EmbedThreshold int `yaml:"embed_threshold"`
}

// ComposeConfig bounds the embedding input text.
type ComposeConfig struct {
	Budget    int    `yaml:"budget"`
	Head      int    `yaml:"head"`
	Tail      int    `yaml:"tail"`
	MaxTokens int    `yaml:"max_tokens"`
	Encoding  string `yaml:"encoding"`
}

// EmbedConfig controls the embedding client and its budgets. The shared API
// key comes from the EMBED_API_KEY environment variable, never from the
// config file.
type EmbedConfig struct {
	Client embedder.Config   `yaml:"client"`
	RPM    int               `yaml:"rpm"`
	Burst  int               `yaml:"burst"`
	Limits store.UsageLimits `yaml:"limits"`
}

// QueueConfig controls the ingestion queue and its workers.
type QueueConfig struct {
	Visibility   time.Duration `yaml:"visibility"`
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxAttempts  int           `yaml:"max_attempts"`
	Backoff      time.Duration `yaml:"backoff"`
	Concurrency  int           `yaml:"concurrency"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	EmbedTimeout time.Duration `yaml:"embed_timeout"`
}

// RecommendConfig controls ranking.
type RecommendConfig struct {
	Limit          int           `yaml:"limit"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
	HalfLife       time.Duration `yaml:"half_life"`
	MaxPerHost     int           `yaml:"max_per_host"`
	SimilarityWt   float64       `yaml:"similarity_weight"`
	RecencyWt      float64       `yaml:"recency_weight"`
	TagOverlapWt   float64       `yaml:"tag_overlap_weight"`
	CandidateLimit int           `yaml:"candidate_limit"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "signet.db"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8086"
	}
	if c.Queue.Concurrency <= 0 {
		c.Queue.Concurrency = 2
	}
	if c.Embed.Limits.Daily <= 0 {
		c.Embed.Limits.Daily = 2000
	}
	if c.Embed.Limits.Monthly <= 0 {
		c.Embed.Limits.Monthly = 20000
	}
	// The remaining sections default inside their own packages.
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("service: parse config %s: %w", path, err)
	}
	return cfg, nil
}
