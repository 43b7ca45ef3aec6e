package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrEmbeddingNotFound: the bookmark has no stored vector.
var ErrEmbeddingNotFound = errors.New("store: embedding not found")

// Embedding is one bookmark's vector under a given model generation.
type Embedding struct {
	BookmarkID   string
	ModelVersion string
	Dimension    int
	Vector       []byte
	CreatedAt    time.Time
}

// ReplaceEmbedding atomically swaps in a new vector for a bookmark. Readers
// racing with the write see either the old complete vector or the new
// complete vector, never a mix.
func (s *Store) ReplaceEmbedding(ctx context.Context, bookmarkID, modelVersion string, vector []byte, dimension int) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO embeddings (bookmark_id, model_version, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bookmark_id) DO UPDATE SET
			model_version = excluded.model_version,
			dimension = excluded.dimension,
			vector = excluded.vector,
			created_at = excluded.created_at`,
		bookmarkID, modelVersion, dimension, vector, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: replace embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns the stored vector for a bookmark.
func (s *Store) GetEmbedding(ctx context.Context, bookmarkID string) (*Embedding, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT bookmark_id, model_version, dimension, vector, created_at
		FROM embeddings WHERE bookmark_id = ?`, bookmarkID)

	var e Embedding
	var creAt int64
	err := row.Scan(&e.BookmarkID, &e.ModelVersion, &e.Dimension, &e.Vector, &creAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEmbeddingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get embedding: %w", err)
	}
	e.CreatedAt = time.UnixMilli(creAt)
	return &e, nil
}

// EmbeddingModels returns the distinct model generations with stored
// vectors.
func (s *Store) EmbeddingModels(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT DISTINCT model_version FROM embeddings`)
	if err != nil {
		return nil, fmt.Errorf("store: embedding models: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("store: scan model: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteEmbeddingsExcept drops vectors from other model generations. Run at
// startup after a model upgrade so stale vectors never mix into similarity
// scoring.
func (s *Store) DeleteEmbeddingsExcept(ctx context.Context, modelVersion string) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM embeddings WHERE model_version != ?`, modelVersion)
	if err != nil {
		return 0, fmt.Errorf("store: delete stale embeddings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// EmbeddedBookmark joins a bookmark with its vector, the unit the
// recommendation engine scores.
type EmbeddedBookmark struct {
	Bookmark
	Vector []byte
}

// Scope restricts embedded-bookmark candidates to a project or task
// linkage. The zero Scope means the whole corpus.
type Scope struct {
	ProjectID string
	TaskID    string
}

// ListEmbedded returns a user's enriched bookmarks with vectors of the
// given model generation, newest first, optionally restricted to a scope.
func (s *Store) ListEmbedded(ctx context.Context, userID, modelVersion string, scope Scope, limit int) ([]*EmbeddedBookmark, error) {
	if limit <= 0 {
		limit = 500
	}
	query := `
		SELECT b.id, b.user_id, b.url, b.title, b.description, b.note, b.tags,
		       b.project_id, b.task_id, b.status, b.created_at, b.updated_at, e.vector
		FROM bookmarks b
		JOIN embeddings e ON e.bookmark_id = b.id
		WHERE b.user_id = ? AND e.model_version = ?`
	args := []any{userID, modelVersion}
	if scope.ProjectID != "" {
		query += ` AND b.project_id = ?`
		args = append(args, scope.ProjectID)
	}
	if scope.TaskID != "" {
		query += ` AND b.task_id = ?`
		args = append(args, scope.TaskID)
	}
	query += ` ORDER BY b.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: list embedded: %w", err)
	}
	defer rows.Close()

	var out []*EmbeddedBookmark
	for rows.Next() {
		var eb EmbeddedBookmark
		var tags string
		var creAt, updAt int64
		if err := rows.Scan(&eb.ID, &eb.UserID, &eb.URL, &eb.Title, &eb.Description,
			&eb.Note, &tags, &eb.ProjectID, &eb.TaskID, &eb.Status, &creAt, &updAt,
			&eb.Vector); err != nil {
			return nil, fmt.Errorf("store: scan embedded: %w", err)
		}
		if err := unmarshalTags(tags, &eb.Tags); err != nil {
			return nil, err
		}
		eb.CreatedAt = time.UnixMilli(creAt)
		eb.UpdatedAt = time.UnixMilli(updAt)
		out = append(out, &eb)
	}
	return out, rows.Err()
}

// DowngradeMissingEmbeddings resets enriched bookmarks without a stored
// vector back to pending, so the next ingestion re-embeds them. Used after
// an embedding model change invalidates the old generation.
func (s *Store) DowngradeMissingEmbeddings(ctx context.Context) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE bookmarks SET status = ?, updated_at = ?
		WHERE status = ? AND id NOT IN (SELECT bookmark_id FROM embeddings)`,
		StatusPending, time.Now().UnixMilli(), StatusEnriched)
	if err != nil {
		return 0, fmt.Errorf("store: downgrade missing embeddings: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
