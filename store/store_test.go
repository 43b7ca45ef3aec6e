package store

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/solenne/signet/dbopen"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewWith(dbopen.OpenMemory(t, dbopen.WithSchema(Schema)))
}

func mustBookmark(t *testing.T, s *Store, userID, url string) *Bookmark {
	t.Helper()
	b, err := s.CreateBookmark(context.Background(), &Bookmark{
		UserID: userID,
		URL:    url,
		Note:   "note",
		Tags:   []string{"go", "testing"},
	})
	if err != nil {
		t.Fatalf("CreateBookmark: %v", err)
	}
	return b
}

func TestBookmarkCRUD(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	b := mustBookmark(t, s, "u1", "https://example.com/a")
	if b.ID == "" || b.Status != StatusPending {
		t.Fatalf("created = %+v", b)
	}

	got, err := s.GetBookmark(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBookmark: %v", err)
	}
	if got.URL != b.URL || len(got.Tags) != 2 {
		t.Errorf("got = %+v", got)
	}

	if err := s.SetStatus(ctx, b.ID, StatusEnriched); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	got, _ = s.GetBookmark(ctx, b.ID)
	if got.Status != StatusEnriched {
		t.Errorf("status = %s", got.Status)
	}

	if err := s.DeleteBookmark(ctx, b.ID); err != nil {
		t.Fatalf("DeleteBookmark: %v", err)
	}
	if _, err := s.GetBookmark(ctx, b.ID); !errors.Is(err, ErrBookmarkNotFound) {
		t.Errorf("err = %v, want ErrBookmarkNotFound", err)
	}
}

func TestCreateBookmarkDedupsByURL(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first := mustBookmark(t, s, "u1", "https://example.com/a")
	again, err := s.CreateBookmark(ctx, &Bookmark{
		UserID: "u1",
		URL:    "https://example.com/a",
		Note:   "updated note",
	})
	if err != nil {
		t.Fatalf("CreateBookmark: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("duplicate URL created a second bookmark")
	}
	if again.Note != "updated note" {
		t.Errorf("note = %q, re-save should update it", again.Note)
	}

	// Same URL for a different user is a different bookmark.
	other := mustBookmark(t, s, "u2", "https://example.com/a")
	if other.ID == first.ID {
		t.Error("bookmarks leaked across users")
	}
}

func TestSetExtractedMetaKeepsOwnerValues(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	b, _ := s.CreateBookmark(ctx, &Bookmark{UserID: "u1", URL: "https://example.com/x", Title: "My Title"})
	if err := s.SetExtractedMeta(ctx, b.ID, "Extracted Title", "Extracted desc"); err != nil {
		t.Fatalf("SetExtractedMeta: %v", err)
	}
	got, _ := s.GetBookmark(ctx, b.ID)
	if got.Title != "My Title" {
		t.Errorf("title = %q, owner title must win", got.Title)
	}
	if got.Description != "Extracted desc" {
		t.Errorf("description = %q", got.Description)
	}
}

func TestExtractionRoundTrip(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	b := mustBookmark(t, s, "u1", "https://example.com/a")

	e := &Extraction{
		BookmarkID:   b.ID,
		Title:        "T",
		Headings:     []string{"H1", "H2"},
		Body:         "body text",
		WordCount:    2,
		QualityScore: 7,
		Strategy:     "direct",
	}
	if err := s.SaveExtraction(ctx, e); err != nil {
		t.Fatalf("SaveExtraction: %v", err)
	}

	got, err := s.GetExtraction(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetExtraction: %v", err)
	}
	if got.QualityScore != 7 || len(got.Headings) != 2 {
		t.Errorf("got = %+v", got)
	}

	// Replacement supersedes completely.
	e.Body = "new body"
	e.QualityScore = 3
	e.Headings = nil
	if err := s.SaveExtraction(ctx, e); err != nil {
		t.Fatalf("SaveExtraction replace: %v", err)
	}
	got, _ = s.GetExtraction(ctx, b.ID)
	if got.Body != "new body" || got.QualityScore != 3 || len(got.Headings) != 0 {
		t.Errorf("replaced = %+v", got)
	}
}

func TestExtractionCascadesOnDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	b := mustBookmark(t, s, "u1", "https://example.com/a")

	s.SaveExtraction(ctx, &Extraction{BookmarkID: b.ID, Body: "x"})
	s.DeleteBookmark(ctx, b.ID)

	if _, err := s.GetExtraction(ctx, b.ID); !errors.Is(err, ErrExtractionNotFound) {
		t.Errorf("err = %v, want cascade delete", err)
	}
}

func TestEventLogger(t *testing.T) {
	s := newStore(t)
	l := NewEventLogger(s, 16)

	l.Log(EventIngestSucceeded, "u1", "bmk_1", map[string]any{"score": 7})
	l.Log(EventIngestSucceeded, "u1", "bmk_2", nil)
	l.Log(EventQualityGated, "u1", "bmk_3", nil)
	l.Close()

	events, err := s.ListEvents(context.Background(), EventIngestSucceeded, 10)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
}
