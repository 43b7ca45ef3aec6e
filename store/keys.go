package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetUserKey stores (or replaces) a user's own embedding API key. An empty
// key removes it, putting the user back on the shared key.
func (s *Store) SetUserKey(ctx context.Context, userID, apiKey string) error {
	if apiKey == "" {
		_, err := s.DB.ExecContext(ctx, `DELETE FROM user_keys WHERE user_id = ?`, userID)
		if err != nil {
			return fmt.Errorf("store: delete user key: %w", err)
		}
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO user_keys (user_id, api_key, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET api_key = excluded.api_key, updated_at = excluded.updated_at`,
		userID, apiKey, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: set user key: %w", err)
	}
	return nil
}

// UserKey implements embedder.Keys. Users without a key on file return ""
// so the shared key applies.
func (s *Store) UserKey(ctx context.Context, userID string) (string, error) {
	var key string
	err := s.DB.QueryRowContext(ctx,
		`SELECT api_key FROM user_keys WHERE user_id = ?`, userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: user key: %w", err)
	}
	return key, nil
}
