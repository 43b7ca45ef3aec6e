package store

import (
	"context"
	"fmt"
	"time"

	"github.com/solenne/signet/embedder"
)

// UsageLimits bound embedding calls per key. Zero means unlimited.
type UsageLimits struct {
	Daily   int `yaml:"daily"`
	Monthly int `yaml:"monthly"`
}

// Usage is a snapshot of one key's counters.
type Usage struct {
	Fingerprint string
	Day         string
	DayCount    int
	Month       string
	MonthCount  int
}

// AcquireUsage atomically charges n embedding calls against a key's daily
// and monthly budgets. The single upsert rolls counters over at day and
// month boundaries and refuses the charge when either budget would be
// exceeded, so concurrent workers can never jointly overshoot a limit.
func (s *Store) AcquireUsage(ctx context.Context, fingerprint string, n int, limits UsageLimits) error {
	now := time.Now().UTC()
	day := now.Format("2006-01-02")
	month := now.Format("2006-01")

	daily := limits.Daily
	if daily <= 0 {
		daily = 1 << 30
	}
	monthly := limits.Monthly
	if monthly <= 0 {
		monthly = 1 << 30
	}

	res, err := s.DB.ExecContext(ctx, `
		INSERT INTO embed_usage (fingerprint, day, day_count, month, month_count, updated_at)
		SELECT ?, ?, ?, ?, ?, ?
		WHERE ? <= ? AND ? <= ?
		ON CONFLICT(fingerprint) DO UPDATE SET
			day_count = CASE WHEN embed_usage.day = excluded.day
				THEN embed_usage.day_count + excluded.day_count
				ELSE excluded.day_count END,
			day = excluded.day,
			month_count = CASE WHEN embed_usage.month = excluded.month
				THEN embed_usage.month_count + excluded.month_count
				ELSE excluded.month_count END,
			month = excluded.month,
			updated_at = excluded.updated_at
		WHERE (CASE WHEN embed_usage.day = excluded.day
				THEN embed_usage.day_count ELSE 0 END) + excluded.day_count <= ?
		  AND (CASE WHEN embed_usage.month = excluded.month
				THEN embed_usage.month_count ELSE 0 END) + excluded.month_count <= ?`,
		fingerprint, day, n, month, n, now.UnixMilli(),
		n, daily, n, monthly,
		daily, monthly)
	if err != nil {
		return fmt.Errorf("store: acquire usage: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: acquire usage: %w", err)
	}
	if affected == 0 {
		return embedder.ErrOverQuota
	}
	return nil
}

// GetUsage returns the current counters for a key, zeroed when the row's
// day or month has rolled over.
func (s *Store) GetUsage(ctx context.Context, fingerprint string) (*Usage, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT fingerprint, day, day_count, month, month_count
		FROM embed_usage WHERE fingerprint = ?`, fingerprint)

	var u Usage
	if err := row.Scan(&u.Fingerprint, &u.Day, &u.DayCount, &u.Month, &u.MonthCount); err != nil {
		return nil, fmt.Errorf("store: get usage: %w", err)
	}

	now := time.Now().UTC()
	if u.Day != now.Format("2006-01-02") {
		u.DayCount = 0
	}
	if u.Month != now.Format("2006-01") {
		u.MonthCount = 0
	}
	return &u, nil
}

// Quota adapts the usage counters to the embedder's Quota interface.
type Quota struct {
	Store  *Store
	Limits UsageLimits
}

// Acquire implements embedder.Quota.
func (q *Quota) Acquire(ctx context.Context, fingerprint string, calls int) error {
	return q.Store.AcquireUsage(ctx, fingerprint, calls, q.Limits)
}
