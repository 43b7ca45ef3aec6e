package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrExtractionNotFound: the bookmark has no stored extraction.
var ErrExtractionNotFound = errors.New("store: extraction not found")

// Extraction is the persisted normalized content of one bookmark.
type Extraction struct {
	BookmarkID    string    `json:"bookmark_id"`
	Title         string    `json:"title,omitempty"`
	Description   string    `json:"description,omitempty"`
	Headings      []string  `json:"headings,omitempty"`
	Body          string    `json:"body"`
	WordCount     int       `json:"word_count"`
	QualityScore  int       `json:"quality_score"`
	LowConfidence bool      `json:"low_confidence,omitempty"`
	Warnings      []string  `json:"warnings,omitempty"`
	Strategy      string    `json:"strategy"`
	ExtractedAt   time.Time `json:"extracted_at"`
}

// SaveExtraction stores (or replaces) the extraction for a bookmark.
// Re-ingestion always supersedes the previous content whole.
func (s *Store) SaveExtraction(ctx context.Context, e *Extraction) error {
	headings, err := json.Marshal(emptyToNilSafe(e.Headings))
	if err != nil {
		return fmt.Errorf("store: marshal headings: %w", err)
	}
	warnings, err := json.Marshal(emptyToNilSafe(e.Warnings))
	if err != nil {
		return fmt.Errorf("store: marshal warnings: %w", err)
	}
	e.ExtractedAt = time.Now()

	_, err = s.DB.ExecContext(ctx, `
		INSERT OR REPLACE INTO extractions
		(bookmark_id, title, description, headings, body, word_count,
		 quality_score, low_confidence, warnings, strategy, extracted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.BookmarkID, e.Title, e.Description, string(headings), e.Body, e.WordCount,
		e.QualityScore, boolToInt(e.LowConfidence), string(warnings), e.Strategy,
		e.ExtractedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("store: save extraction: %w", err)
	}
	return nil
}

// GetExtraction returns the stored extraction for a bookmark.
func (s *Store) GetExtraction(ctx context.Context, bookmarkID string) (*Extraction, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT bookmark_id, title, description, headings, body, word_count,
		       quality_score, low_confidence, warnings, strategy, extracted_at
		FROM extractions WHERE bookmark_id = ?`, bookmarkID)

	var e Extraction
	var headings, warnings string
	var lowConf int
	var extAt int64
	err := row.Scan(&e.BookmarkID, &e.Title, &e.Description, &headings, &e.Body,
		&e.WordCount, &e.QualityScore, &lowConf, &warnings, &e.Strategy, &extAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExtractionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get extraction: %w", err)
	}
	if err := json.Unmarshal([]byte(headings), &e.Headings); err != nil {
		return nil, fmt.Errorf("store: decode headings: %w", err)
	}
	if err := json.Unmarshal([]byte(warnings), &e.Warnings); err != nil {
		return nil, fmt.Errorf("store: decode warnings: %w", err)
	}
	e.LowConfidence = lowConf != 0
	e.ExtractedAt = time.UnixMilli(extAt)
	return &e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
