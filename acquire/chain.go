package acquire

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Strategy is one way of turning a URL into a SourceDocument.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, rawURL string) (*SourceDocument, error)
}

// Config configures the fetcher chain.
type Config struct {
	// StrategyTimeout bounds each individual strategy attempt.
	StrategyTimeout time.Duration
	// ChainTimeout bounds the whole chain for one URL.
	ChainTimeout time.Duration
	// Routes overrides the compiled-in route table.
	Routes []Route
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = 20 * time.Second
	}
	if c.ChainTimeout <= 0 {
		c.ChainTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Chain runs strategies in order until one produces a document. Routes pick
// a per-domain order; unrouted URLs use the registration order. The chain
// itself never returns an empty result for a routable URL: the placeholder
// strategy at the end always yields something.
type Chain struct {
	cfg        Config
	routes     *RouteTable
	strategies map[string]Strategy
	order      []string
}

// NewChain builds a chain over the given strategies. Registration order is
// the default attempt order for URLs without a route.
func NewChain(cfg Config, strategies ...Strategy) *Chain {
	cfg.defaults()
	c := &Chain{
		cfg:        cfg,
		routes:     NewRouteTable(cfg.Routes),
		strategies: make(map[string]Strategy, len(strategies)),
	}
	for _, s := range strategies {
		c.strategies[s.Name()] = s
		c.order = append(c.order, s.Name())
	}
	return c
}

// Fetch resolves the route for rawURL and walks the strategy list. It
// returns the first successful document, or the last strategy's error when
// every strategy fails.
func (c *Chain) Fetch(ctx context.Context, rawURL string) (*SourceDocument, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{Kind: KindNotFound, URL: rawURL,
			Err: fmt.Errorf("parse url: %w", err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &FetchError{Kind: KindUnsupportedFormat, URL: rawURL,
			Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}

	order := c.order
	if route := c.routes.Lookup(u); route != nil {
		if route.AuthWalled {
			return nil, &FetchError{Kind: KindAuthRequired, URL: rawURL,
				Err: fmt.Errorf("route %q is auth-walled", route.Pattern)}
		}
		if len(route.Strategies) > 0 {
			order = route.Strategies
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.ChainTimeout)
	defer cancel()

	var lastErr error
	for _, name := range order {
		s, ok := c.strategies[name]
		if !ok {
			c.cfg.Logger.Warn("acquire: route names unknown strategy", "strategy", name, "url", rawURL)
			continue
		}
		if ctx.Err() != nil {
			break
		}

		sctx, scancel := context.WithTimeout(ctx, c.cfg.StrategyTimeout)
		doc, err := s.Fetch(sctx, rawURL)
		scancel()

		if err == nil {
			c.cfg.Logger.Info("acquire: fetched",
				"url", rawURL, "strategy", name, "size", len(doc.Payload))
			return doc, nil
		}
		lastErr = err
		c.cfg.Logger.Debug("acquire: strategy failed",
			"url", rawURL, "strategy", name, "error", err)

		// Permanent failures that no later strategy can fix stop the walk.
		if fe, ok := AsFetchError(err); ok && fe.Kind == KindAuthRequired {
			return nil, err
		}
	}

	if lastErr == nil {
		lastErr = &FetchError{Kind: KindNotFound, URL: rawURL,
			Err: fmt.Errorf("no strategy available (order %s)", strings.Join(order, ","))}
	}
	return nil, lastErr
}
