package acquire

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type fakeStrategy struct {
	name  string
	doc   *SourceDocument
	err   error
	calls int
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Fetch(ctx context.Context, rawURL string) (*SourceDocument, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	doc := *f.doc
	doc.URL = rawURL
	return &doc, nil
}

func okDoc(strategy string) *SourceDocument {
	return &SourceDocument{Strategy: strategy, Payload: []byte("content"), FetchedAt: time.Now()}
}

func TestChainFirstSuccessWins(t *testing.T) {
	direct := &fakeStrategy{name: "direct", doc: okDoc("direct")}
	browser := &fakeStrategy{name: "browser", doc: okDoc("browser")}
	chain := NewChain(Config{}, direct, browser)

	doc, err := chain.Fetch(context.Background(), "https://example.com/post")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Strategy != "direct" {
		t.Errorf("strategy = %q, want direct", doc.Strategy)
	}
	if browser.calls != 0 {
		t.Errorf("browser called %d times, want 0", browser.calls)
	}
}

func TestChainAdvancesOnFailure(t *testing.T) {
	direct := &fakeStrategy{name: "direct",
		err: &FetchError{Kind: KindBlocked, Strategy: "direct", Err: errors.New("403")}}
	browser := &fakeStrategy{name: "browser", doc: okDoc("browser")}
	chain := NewChain(Config{}, direct, browser)

	doc, err := chain.Fetch(context.Background(), "https://example.com/post")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Strategy != "browser" {
		t.Errorf("strategy = %q, want browser", doc.Strategy)
	}
	if direct.calls != 1 {
		t.Errorf("direct called %d times, want 1", direct.calls)
	}
}

func TestChainRouteSkipsDirect(t *testing.T) {
	direct := &fakeStrategy{name: "direct", doc: okDoc("direct")}
	browser := &fakeStrategy{name: "browser", doc: okDoc("browser")}
	placeholder := &fakeStrategy{name: "placeholder", doc: okDoc("placeholder")}
	chain := NewChain(Config{}, direct, browser, placeholder)

	doc, err := chain.Fetch(context.Background(), "https://leetcode.com/problems/two-sum/")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Strategy != "browser" {
		t.Errorf("strategy = %q, want browser", doc.Strategy)
	}
	if direct.calls != 0 {
		t.Errorf("direct called %d times, want 0 for routed hostile domain", direct.calls)
	}
}

func TestChainAuthWalledShortCircuits(t *testing.T) {
	direct := &fakeStrategy{name: "direct", doc: okDoc("direct")}
	chain := NewChain(Config{}, direct)

	_, err := chain.Fetch(context.Background(), "https://chatgpt.com/c/abc123")
	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("want FetchError, got %v", err)
	}
	if fe.Kind != KindAuthRequired {
		t.Errorf("kind = %q, want auth_required", fe.Kind)
	}
	if fe.Retryable() {
		t.Error("auth_required must not be retryable")
	}
	if direct.calls != 0 {
		t.Errorf("direct called %d times, want 0 for auth-walled URL", direct.calls)
	}
}

func TestChainRejectsNonHTTPSchemes(t *testing.T) {
	chain := NewChain(Config{}, &fakeStrategy{name: "direct", doc: okDoc("direct")})
	for _, u := range []string{"file:///etc/passwd", "ftp://example.com/x", "javascript:alert(1)"} {
		_, err := chain.Fetch(context.Background(), u)
		fe, ok := AsFetchError(err)
		if !ok {
			t.Fatalf("%s: want FetchError, got %v", u, err)
		}
		if fe.Kind != KindUnsupportedFormat {
			t.Errorf("%s: kind = %q, want unsupported_format", u, fe.Kind)
		}
	}
}

func TestChainPlaceholderTerminates(t *testing.T) {
	direct := &fakeStrategy{name: "direct",
		err: &FetchError{Kind: KindTimeout, Strategy: "direct", Err: errors.New("deadline")}}
	browser := &fakeStrategy{name: "browser",
		err: &FetchError{Kind: KindBlocked, Strategy: "browser", Err: errors.New("challenge")}}
	chain := NewChain(Config{}, direct, browser, NewPlaceholder())

	doc, err := chain.Fetch(context.Background(), "https://example.com/deep/dive-into-go")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !doc.IsPlaceholder() {
		t.Error("want placeholder document")
	}
	if doc.Title == "" || !strings.Contains(doc.Title, "Dive into go") {
		t.Errorf("title = %q, want humanized from URL", doc.Title)
	}
}

func TestChainLastErrorSurfaces(t *testing.T) {
	direct := &fakeStrategy{name: "direct",
		err: &FetchError{Kind: KindBlocked, Strategy: "direct", Err: errors.New("403")}}
	browser := &fakeStrategy{name: "browser",
		err: &FetchError{Kind: KindTimeout, Strategy: "browser", Err: errors.New("deadline")}}
	chain := NewChain(Config{}, direct, browser)

	_, err := chain.Fetch(context.Background(), "https://example.com/post")
	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("want FetchError, got %v", err)
	}
	if fe.Kind != KindTimeout {
		t.Errorf("kind = %q, want the last strategy's timeout", fe.Kind)
	}
}

func TestPlaceholderNeverFails(t *testing.T) {
	p := NewPlaceholder()
	for _, u := range []string{
		"https://example.com/some-article",
		"https://example.com/",
		"https://example.com/12345",
	} {
		doc, err := p.Fetch(context.Background(), u)
		if err != nil {
			t.Fatalf("%s: %v", u, err)
		}
		if !doc.RequiresManualReview {
			t.Errorf("%s: want RequiresManualReview", u)
		}
		if doc.Title == "" {
			t.Errorf("%s: empty title", u)
		}
	}
}
