package acquire

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestAPIFetchFlattensJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/repos/golang/go" {
			t.Errorf("api path = %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"full_name":"golang/go","description":"The Go programming language"}`))
	}))
	defer srv.Close()

	a := NewAPI(APIConfig{Endpoints: []APIEndpoint{{
		Host:        "github.com",
		URLTemplate: srv.URL + "/repos/{1}/{2}",
		TitlePath:   "full_name",
		TextPaths:   []string{"description"},
	}}})

	doc, err := a.Fetch(context.Background(), "https://github.com/golang/go")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Title != "golang/go" {
		t.Errorf("title = %q", doc.Title)
	}
	text := string(doc.Payload)
	if !strings.HasPrefix(text, "golang/go") {
		t.Errorf("payload should lead with the title: %q", text)
	}
	if !strings.Contains(text, "The Go programming language") {
		t.Errorf("payload missing description: %q", text)
	}
	if !strings.Contains(doc.ContentType, "text/plain") {
		t.Errorf("content type = %q", doc.ContentType)
	}
}

func TestAPIFetchNestedPaths(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"crate":{"id":"serde","description":"Serialization framework"}}`))
	}))
	defer srv.Close()

	a := NewAPI(APIConfig{Endpoints: []APIEndpoint{{
		Host:        "crates.io",
		URLTemplate: srv.URL + "/api/v1/crates/{2}",
		TitlePath:   "crate.id",
		TextPaths:   []string{"crate.description"},
	}}})

	doc, err := a.Fetch(context.Background(), "https://crates.io/crates/serde")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Title != "serde" {
		t.Errorf("title = %q", doc.Title)
	}
}

func TestAPIFetchUnknownHost(t *testing.T) {
	a := NewAPI(APIConfig{})
	_, err := a.Fetch(context.Background(), "https://example.com/thing")
	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("want FetchError, got %v", err)
	}
	if fe.Kind != KindNotFound {
		t.Errorf("kind = %q, want not_found so the chain moves on", fe.Kind)
	}
}

func TestAPIFetchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewAPI(APIConfig{Endpoints: []APIEndpoint{{
		Host:        "github.com",
		URLTemplate: srv.URL + "/repos/{1}/{2}",
		TitlePath:   "full_name",
	}}})
	_, err := a.Fetch(context.Background(), "https://github.com/golang/go")
	fe, ok := AsFetchError(err)
	if !ok {
		t.Fatalf("want FetchError, got %v", err)
	}
	if !fe.Retryable() {
		t.Error("5xx from the api should be retryable")
	}
}

func TestExpandTemplate(t *testing.T) {
	tests := []struct {
		tmpl, path, want string
		wantErr          bool
	}{
		{"https://api.github.com/repos/{1}/{2}", "/golang/go", "https://api.github.com/repos/golang/go", false},
		{"https://crates.io/api/v1/crates/{2}", "/crates/serde", "https://crates.io/api/v1/crates/serde", false},
		{"https://api.github.com/repos/{1}/{2}", "/golang", "", true},
	}
	for _, tc := range tests {
		got, err := expandTemplate(tc.tmpl, tc.path)
		if tc.wantErr {
			if err == nil {
				t.Errorf("expandTemplate(%q, %q): want error", tc.tmpl, tc.path)
			}
			continue
		}
		if err != nil {
			t.Errorf("expandTemplate(%q, %q): %v", tc.tmpl, tc.path, err)
			continue
		}
		if got != tc.want {
			t.Errorf("expandTemplate(%q, %q) = %q, want %q", tc.tmpl, tc.path, got, tc.want)
		}
	}
}
