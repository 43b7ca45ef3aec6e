package store

import (
	"context"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/solenne/signet/embedder"
)

func TestReplaceEmbedding(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	b := mustBookmark(t, s, "u1", "https://example.com/a")

	v1 := embedder.SerializeVector([]float32{1, 0, 0})
	if err := s.ReplaceEmbedding(ctx, b.ID, "model-v1", v1, 3); err != nil {
		t.Fatalf("ReplaceEmbedding: %v", err)
	}

	v2 := embedder.SerializeVector([]float32{0, 1, 0})
	if err := s.ReplaceEmbedding(ctx, b.ID, "model-v1", v2, 3); err != nil {
		t.Fatalf("ReplaceEmbedding again: %v", err)
	}

	got, err := s.GetEmbedding(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetEmbedding: %v", err)
	}
	vec := embedder.DeserializeVector(got.Vector)
	if vec[0] != 0 || vec[1] != 1 {
		t.Errorf("vector = %v, want the replacement", vec)
	}

	var count int
	s.DB.QueryRow(`SELECT COUNT(*) FROM embeddings WHERE bookmark_id = ?`, b.ID).Scan(&count)
	if count != 1 {
		t.Errorf("rows = %d, want exactly one per bookmark", count)
	}
}

func TestDeleteEmbeddingsExcept(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := mustBookmark(t, s, "u1", "https://example.com/a")
	b := mustBookmark(t, s, "u1", "https://example.com/b")
	s.ReplaceEmbedding(ctx, a.ID, "model-v1", []byte{0, 0, 0, 0}, 1)
	s.ReplaceEmbedding(ctx, b.ID, "model-v2", []byte{0, 0, 0, 0}, 1)

	n, err := s.DeleteEmbeddingsExcept(ctx, "model-v2")
	if err != nil {
		t.Fatalf("DeleteEmbeddingsExcept: %v", err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, err := s.GetEmbedding(ctx, a.ID); !errors.Is(err, ErrEmbeddingNotFound) {
		t.Error("stale vector survived")
	}
	if _, err := s.GetEmbedding(ctx, b.ID); err != nil {
		t.Errorf("current vector lost: %v", err)
	}
}

func TestListEmbedded(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := mustBookmark(t, s, "u1", "https://example.com/a")
	mustBookmark(t, s, "u1", "https://example.com/no-vector")
	other := mustBookmark(t, s, "u2", "https://example.com/other")
	s.ReplaceEmbedding(ctx, a.ID, "m1", embedder.SerializeVector([]float32{1}), 1)
	s.ReplaceEmbedding(ctx, other.ID, "m1", embedder.SerializeVector([]float32{1}), 1)

	got, err := s.ListEmbedded(ctx, "u1", "m1", Scope{}, 0)
	if err != nil {
		t.Fatalf("ListEmbedded: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("got %d rows", len(got))
	}
	if len(got[0].Vector) == 0 {
		t.Error("vector not joined")
	}
}

func TestListEmbeddedScoped(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	in, err := s.CreateBookmark(ctx, &Bookmark{
		UserID: "u1", URL: "https://example.com/in", ProjectID: "prj_1", TaskID: "tsk_1",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := mustBookmark(t, s, "u1", "https://example.com/out")
	vec := embedder.SerializeVector([]float32{1})
	s.ReplaceEmbedding(ctx, in.ID, "m1", vec, 1)
	s.ReplaceEmbedding(ctx, out.ID, "m1", vec, 1)

	got, err := s.ListEmbedded(ctx, "u1", "m1", Scope{ProjectID: "prj_1"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != in.ID {
		t.Fatalf("project scope returned %d rows", len(got))
	}

	got, err = s.ListEmbedded(ctx, "u1", "m1", Scope{TaskID: "tsk_1"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != in.ID {
		t.Fatalf("task scope returned %d rows", len(got))
	}
}
