package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Bookmark statuses reflect how far ingestion got.
const (
	StatusPending          = "pending"           // saved, not yet ingested
	StatusEnriched         = "enriched"          // extracted and embedded
	StatusExtractionFailed = "extraction_failed" // content kept, quality too low to embed
	StatusManualReview     = "manual_review"     // placeholder content, owner should re-save
	StatusFailed           = "failed"            // ingestion failed permanently
)

// ErrBookmarkNotFound: no bookmark with that ID.
var ErrBookmarkNotFound = errors.New("store: bookmark not found")

// Bookmark is a saved link.
type Bookmark struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Note        string    `json:"note,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	ProjectID   string    `json:"project_id,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	Status      string    `json:"status"`
	// FailureReason is the owner-facing explanation of a permanent
	// ingestion failure ("requires login", "add your API key"). Empty
	// unless Status is failed.
	FailureReason string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// CreateBookmark inserts a bookmark. Saving a URL the user already has
// updates note and tags on the existing row instead of duplicating it, and
// returns that row.
func (s *Store) CreateBookmark(ctx context.Context, b *Bookmark) (*Bookmark, error) {
	if b.ID == "" {
		b.ID = "bmk_" + s.ids()
	}
	now := time.Now()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = StatusPending
	}
	tags, err := json.Marshal(emptyToNilSafe(b.Tags))
	if err != nil {
		return nil, fmt.Errorf("store: marshal tags: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO bookmarks (id, user_id, url, title, description, note, tags,
			project_id, task_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, url) DO UPDATE SET
			note = excluded.note,
			tags = excluded.tags,
			project_id = excluded.project_id,
			task_id = excluded.task_id,
			updated_at = excluded.updated_at`,
		b.ID, b.UserID, b.URL, b.Title, b.Description, b.Note, string(tags),
		b.ProjectID, b.TaskID, b.Status, now.UnixMilli(), now.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("store: create bookmark: %w", err)
	}

	return s.bookmarkByUserURL(ctx, b.UserID, b.URL)
}

// GetBookmark returns a bookmark by ID.
func (s *Store) GetBookmark(ctx context.Context, id string) (*Bookmark, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, url, title, description, note, tags, project_id, task_id, status, failure_reason, created_at, updated_at
		FROM bookmarks WHERE id = ?`, id)
	return scanBookmark(row)
}

// SetStatus transitions the bookmark's ingestion status and clears any
// earlier failure reason, since the new status supersedes it.
func (s *Store) SetStatus(ctx context.Context, id, status string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE bookmarks SET status = ?, failure_reason = '', updated_at = ? WHERE id = ?`,
		status, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: set status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBookmarkNotFound
	}
	return nil
}

// SetFailure marks the bookmark permanently failed with an owner-facing
// reason.
func (s *Store) SetFailure(ctx context.Context, id, reason string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE bookmarks SET status = ?, failure_reason = ?, updated_at = ? WHERE id = ?`,
		StatusFailed, reason, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: set failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBookmarkNotFound
	}
	return nil
}

// SetExtractedMeta fills the bookmark's title and description from an
// extraction when the owner didn't set their own.
func (s *Store) SetExtractedMeta(ctx context.Context, id, title, description string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE bookmarks SET
			title = CASE WHEN title = '' THEN ? ELSE title END,
			description = CASE WHEN description = '' THEN ? ELSE description END,
			updated_at = ?
		WHERE id = ?`,
		title, description, time.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("store: set extracted meta: %w", err)
	}
	return nil
}

// DeleteBookmark removes a bookmark; extractions and embeddings cascade.
func (s *Store) DeleteBookmark(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM bookmarks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete bookmark: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrBookmarkNotFound
	}
	return nil
}

// ListBookmarks returns a user's bookmarks, newest first.
func (s *Store) ListBookmarks(ctx context.Context, userID string, limit int) ([]*Bookmark, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, url, title, description, note, tags, project_id, task_id, status, failure_reason, created_at, updated_at
		FROM bookmarks WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list bookmarks: %w", err)
	}
	defer rows.Close()

	var out []*Bookmark
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *Store) bookmarkByUserURL(ctx context.Context, userID, url string) (*Bookmark, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, url, title, description, note, tags, project_id, task_id, status, failure_reason, created_at, updated_at
		FROM bookmarks WHERE user_id = ? AND url = ?`, userID, url)
	return scanBookmark(row)
}

func scanBookmark(row rowScanner) (*Bookmark, error) {
	var b Bookmark
	var tags string
	var creAt, updAt int64
	err := row.Scan(&b.ID, &b.UserID, &b.URL, &b.Title, &b.Description, &b.Note,
		&tags, &b.ProjectID, &b.TaskID, &b.Status, &b.FailureReason, &creAt, &updAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBookmarkNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan bookmark: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &b.Tags); err != nil {
		return nil, fmt.Errorf("store: decode tags: %w", err)
	}
	b.CreatedAt = time.UnixMilli(creAt)
	b.UpdatedAt = time.UnixMilli(updAt)
	return &b, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func emptyToNilSafe(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func unmarshalTags(raw string, dst *[]string) error {
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return fmt.Errorf("store: decode tags: %w", err)
	}
	return nil
}
