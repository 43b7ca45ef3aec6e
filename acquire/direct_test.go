package acquire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const articleHTML = `<!doctype html><html><head><title>Test Article</title></head><body>
<article><h1>Test Article</h1>
<p>` + "This paragraph carries enough visible text to clear the sufficiency bar. " +
	`It keeps going for a while because the heuristic wants at least two hundred
characters of real content before it trusts a direct fetch, and short stubs
look exactly like script-rendered shells.</p></article></body></html>`

func TestDirectFetchesHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); !strings.Contains(ua, "signet") {
			t.Errorf("user agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	d := NewDirect(DirectConfig{})
	doc, err := d.Fetch(context.Background(), srv.URL+"/post")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Strategy != "direct" {
		t.Errorf("strategy = %q", doc.Strategy)
	}
	if doc.HTTPStatus != 200 {
		t.Errorf("status = %d", doc.HTTPStatus)
	}
	if !strings.Contains(string(doc.Payload), "Test Article") {
		t.Error("payload missing page content")
	}
}

func TestDirectClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{http.StatusNotFound, KindNotFound},
		{http.StatusGone, KindNotFound},
		{http.StatusUnauthorized, KindBlocked},
		{http.StatusForbidden, KindBlocked},
		{http.StatusTooManyRequests, KindBlocked},
		{http.StatusInternalServerError, KindBlocked},
		{http.StatusBadGateway, KindBlocked},
	}
	for _, tc := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
		}))
		d := NewDirect(DirectConfig{})
		_, err := d.Fetch(context.Background(), srv.URL)
		srv.Close()

		fe, ok := AsFetchError(err)
		if !ok {
			t.Fatalf("status %d: want FetchError, got %v", tc.status, err)
		}
		if fe.Kind != tc.kind {
			t.Errorf("status %d: kind = %q, want %q", tc.status, fe.Kind, tc.kind)
		}
	}
}

func TestDirectRejectsSPAShell(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!doctype html><html><head><title>App</title>
<script src="/bundle.js"></script></head>
<body><div id="root"></div></body></html>`))
	}))
	defer srv.Close()

	d := NewDirect(DirectConfig{})
	_, err := d.Fetch(context.Background(), srv.URL)
	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("want FetchError, got %v", err)
	}
	if fe.Kind != KindBlocked {
		t.Errorf("kind = %q, want blocked so the chain escalates", fe.Kind)
	}
}

func TestDirectDetectsBotChallenge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Just a moment...</title></head>
<body>Checking your browser before accessing example.com. Please stand by while
we verify your request and make sure you are not a robot sending automated
traffic to the site, this should only take a few seconds to finish.</body></html>`))
	}))
	defer srv.Close()

	d := NewDirect(DirectConfig{})
	_, err := d.Fetch(context.Background(), srv.URL)
	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("want FetchError, got %v", err)
	}
	if fe.Kind != KindBlocked {
		t.Errorf("kind = %q, want blocked", fe.Kind)
	}
}

func TestDirectTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	d := NewDirect(DirectConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := d.Fetch(ctx, srv.URL)
	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("want FetchError, got %v", err)
	}
	if fe.Kind != KindTimeout {
		t.Errorf("kind = %q, want timeout", fe.Kind)
	}
	if !fe.Retryable() {
		t.Error("timeouts are retryable")
	}
}

func TestDirectPassesNonHTMLThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.4 fake"))
	}))
	defer srv.Close()

	d := NewDirect(DirectConfig{})
	doc, err := d.Fetch(context.Background(), srv.URL+"/paper.pdf")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(doc.ContentType, "application/pdf") {
		t.Errorf("content type = %q", doc.ContentType)
	}
}
