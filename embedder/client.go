package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// client implements Embedder against the OpenAI /v1/embeddings API format,
// which also covers vLLM, Ollama and most hosted providers.
type client struct {
	endpoint string
	cfg      Config
	http     *http.Client

	mu  sync.Mutex // protects dim on first call
	dim int
}

func newClient(cfg Config) *client {
	return &client{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		dim:      cfg.Dimension,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

// EmbedWithKey embeds one text using the given API key. Transient upstream
// failures are retried with exponential backoff; quota, key and request
// errors are returned immediately because retrying cannot change them.
func (c *client) EmbedWithKey(ctx context.Context, text, apiKey string) ([]float32, error) {
	backoff := c.cfg.RetryBackoff
	var lastErr error

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			c.cfg.Logger.Debug("embed: retrying", "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &EmbedError{Kind: KindUpstreamUnavailable, Err: ctx.Err()}
			}
			backoff *= 2
		}

		vec, err := c.callAPI(ctx, text, apiKey)
		if err == nil {
			return vec, nil
		}
		lastErr = err

		if ee, ok := AsEmbedError(err); !ok || !ee.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *client) callAPI(ctx context.Context, text, apiKey string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Input: []string{text}})
	if err != nil {
		return nil, &EmbedError{Kind: KindUpstreamRejected, Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := c.endpoint + "/v1/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &EmbedError{Kind: KindUpstreamRejected, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		kind := KindUpstreamUnavailable
		if errors.Is(err, context.Canceled) {
			return nil, &EmbedError{Kind: KindUpstreamUnavailable, Err: err}
		}
		return nil, &EmbedError{Kind: kind, Err: fmt.Errorf("POST %s: %w", url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		detail := fmt.Errorf("http %d from %s: %s", resp.StatusCode, url, string(respBody))
		switch {
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, &EmbedError{Kind: KindInvalidKey, Err: detail}
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, &EmbedError{Kind: KindQuotaExceeded, Err: detail}
		case resp.StatusCode >= 500:
			return nil, &EmbedError{Kind: KindUpstreamUnavailable, Err: detail}
		default:
			return nil, &EmbedError{Kind: KindUpstreamRejected, Err: detail}
		}
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &EmbedError{Kind: KindUpstreamUnavailable, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(result.Data) == 0 || len(result.Data[0].Embedding) == 0 {
		return nil, &EmbedError{Kind: KindUpstreamRejected, Err: fmt.Errorf("no embedding returned from %s", url)}
	}

	vec := result.Data[0].Embedding

	// Auto-detect dimension on first call.
	c.mu.Lock()
	if c.dim == 0 {
		c.dim = len(vec)
		c.cfg.Logger.Info("embed: auto-detected dimension", "dimension", c.dim, "model", result.Model)
	}
	c.mu.Unlock()

	return vec, nil
}

func (c *client) Dimension() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dim
}

func (c *client) Model() string { return c.cfg.Model }
