// Package jobq is the ingestion job queue, backed by SQLite.
//
// A claimed job holds a lease: while the worker heartbeats, the job stays
// invisible to other workers. If the worker crashes the lease expires and
// any worker can reclaim the job. At most one live job (queued, retrying or
// running) exists per bookmark; enqueueing an already-queued bookmark
// returns the existing job instead of creating a second one.
//
// Job lifecycle:
//
//	queued ──claim──> running ──> succeeded
//	  ^                  │
//	  │                  ├──> failed_retryable ──(backoff)──> claimable again
//	  │                  └──> failed_permanent
//	  └── cancelled (only before a worker picks the job up)
package jobq

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/solenne/signet/idgen"
)

// State is a job lifecycle state.
type State string

const (
	StateQueued          State = "queued"
	StateRunning         State = "running"
	StateSucceeded       State = "succeeded"
	StateFailedRetryable State = "failed_retryable"
	StateFailedPermanent State = "failed_permanent"
	StateCancelled       State = "cancelled"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailedPermanent || s == StateCancelled
}

var (
	// ErrNotFound: no job with that ID.
	ErrNotFound = errors.New("jobq: job not found")
	// ErrNotRunning: the job lost its lease or left the running state; the
	// worker holding it must stop processing.
	ErrNotRunning = errors.New("jobq: job is not running")
	// ErrCancelled is returned by handlers that notice mid-flight that the
	// work is no longer wanted. The worker marks the job cancelled.
	ErrCancelled = errors.New("jobq: job cancelled")
)

// Job is one ingestion job.
type Job struct {
	ID         string
	BookmarkID string
	UserID     string
	State      State
	Attempts   int
	LastError  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Options configures queue behaviour.
type Options struct {
	// Visibility is the lease duration. A running job whose lease expires
	// is presumed crashed and becomes claimable. Default: 60s.
	Visibility time.Duration
	// PollInterval is the delay between claim attempts in the worker loop.
	// Default: 1s.
	PollInterval time.Duration
	// MaxAttempts bounds retries; at the cap a retryable failure becomes
	// permanent. Default: 5.
	MaxAttempts int
	// Backoff is the initial retry delay, doubled per attempt. Default: 30s.
	Backoff time.Duration
	// IDs generates job IDs. Default: prefixed UUIDv7.
	IDs idgen.Generator
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Visibility <= 0 {
		o.Visibility = 60 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.Backoff <= 0 {
		o.Backoff = 30 * time.Second
	}
	if o.IDs == nil {
		o.IDs = idgen.Prefixed("job_", idgen.UUIDv7())
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS ingest_jobs (
	id          TEXT PRIMARY KEY,
	bookmark_id TEXT NOT NULL,
	user_id     TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL DEFAULT 'queued',
	attempts    INTEGER NOT NULL DEFAULT 0,
	visible_at  INTEGER NOT NULL DEFAULT 0,
	lease_until INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ingest_active
	ON ingest_jobs(bookmark_id)
	WHERE state IN ('queued', 'running', 'failed_retryable');
CREATE INDEX IF NOT EXISTS idx_ingest_claim
	ON ingest_jobs(state, visible_at);
`

// Queue is the queue handle.
type Queue struct {
	db   *sql.DB
	opts Options
}

// New creates a queue handle and its table.
func New(db *sql.DB, opts Options) (*Queue, error) {
	opts.defaults()
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("jobq: create schema: %w", err)
	}
	return &Queue{db: db, opts: opts}, nil
}

// Enqueue queues an ingestion job for a bookmark. If a live job for the
// bookmark already exists its ID is returned instead (existing = true); a
// pending retry is additionally made visible immediately, since a re-save
// signals the owner wants the result now.
func (q *Queue) Enqueue(ctx context.Context, bookmarkID, userID string) (id string, existing bool, err error) {
	now := time.Now().UnixMilli()
	id = q.opts.IDs()

	for attempt := 0; ; attempt++ {
		res, err := q.db.ExecContext(ctx, `
			INSERT INTO ingest_jobs (id, bookmark_id, user_id, visible_at, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(bookmark_id) WHERE state IN ('queued', 'running', 'failed_retryable')
			DO NOTHING`,
			id, bookmarkID, userID, now, now, now)
		if err != nil {
			return "", false, fmt.Errorf("jobq: enqueue %s: %w", bookmarkID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", false, fmt.Errorf("jobq: enqueue %s: %w", bookmarkID, err)
		}
		if n > 0 {
			return id, false, nil
		}

		// Coalesced: surface the live job and pull a pending retry forward.
		row := q.db.QueryRowContext(ctx, `
			SELECT id, state FROM ingest_jobs
			WHERE bookmark_id = ? AND state IN ('queued', 'running', 'failed_retryable')`,
			bookmarkID)
		var existingID string
		var state State
		err = row.Scan(&existingID, &state)
		if errors.Is(err, sql.ErrNoRows) && attempt == 0 {
			// The live job went terminal between the insert and this read;
			// the insert takes the freed slot on the next pass.
			continue
		}
		if err != nil {
			return "", false, fmt.Errorf("jobq: find live job for %s: %w", bookmarkID, err)
		}
		if state == StateFailedRetryable {
			_, err = q.db.ExecContext(ctx, `
				UPDATE ingest_jobs SET visible_at = ?, updated_at = ?
				WHERE id = ? AND state = 'failed_retryable'`,
				now, now, existingID)
			if err != nil {
				return "", false, fmt.Errorf("jobq: expedite retry %s: %w", existingID, err)
			}
		}
		return existingID, true, nil
	}
}

// Claim atomically picks the oldest eligible job, moves it to running and
// starts its lease. Eligible means queued or retry-due, plus running jobs
// whose lease expired (crashed worker). Returns nil, nil when idle.
func (q *Queue) Claim(ctx context.Context) (*Job, error) {
	now := time.Now()
	lease := now.Add(q.opts.Visibility).UnixMilli()

	row := q.db.QueryRowContext(ctx, `
		UPDATE ingest_jobs
		SET state = 'running', attempts = attempts + 1, lease_until = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM ingest_jobs
			WHERE (state IN ('queued', 'failed_retryable') AND visible_at <= ?)
			   OR (state = 'running' AND lease_until <= ?)
			ORDER BY created_at ASC
			LIMIT 1
		)
		RETURNING id, bookmark_id, user_id, state, attempts, last_error, created_at, updated_at`,
		lease, now.UnixMilli(), now.UnixMilli(), now.UnixMilli())

	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobq: claim: %w", err)
	}
	return j, nil
}

// Heartbeat extends the lease of a running job. The token is the Attempts
// value from the claim; it fences out a stalled worker whose job was
// reclaimed, since every reclaim bumps the counter. ErrNotRunning means the
// caller no longer owns the job and must abandon it.
func (q *Queue) Heartbeat(ctx context.Context, id string, token int) error {
	now := time.Now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET lease_until = ?, updated_at = ?
		WHERE id = ? AND state = 'running' AND attempts = ?`,
		now.Add(q.opts.Visibility).UnixMilli(), now.UnixMilli(), id, token)
	if err != nil {
		return fmt.Errorf("jobq: heartbeat %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotRunning
	}
	return nil
}

// Succeed marks a running job done. The token fences stalled workers the
// same way it does for Heartbeat.
func (q *Queue) Succeed(ctx context.Context, id string, token int) error {
	return q.finish(ctx, id, token, StateSucceeded, "")
}

// Fail records a failure. Permanent errors (and retryable ones at the
// attempt cap) terminate the job; anything else schedules a retry with
// exponential backoff. A stale token means the job was reclaimed and the
// outcome belongs to another worker: ErrNotRunning, no state change.
func (q *Queue) Fail(ctx context.Context, id string, token int, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}

	if IsPermanent(jobErr) || token >= q.opts.MaxAttempts {
		return q.finish(ctx, id, token, StateFailedPermanent, msg)
	}

	// Exponential backoff: Backoff * 2^(attempts-1).
	delay := q.opts.Backoff << (token - 1)
	now := time.Now()
	res, err := q.db.ExecContext(ctx, `
		UPDATE ingest_jobs
		SET state = 'failed_retryable', visible_at = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND state = 'running' AND attempts = ?`,
		now.Add(delay).UnixMilli(), msg, now.UnixMilli(), id, token)
	if err != nil {
		return fmt.Errorf("jobq: fail %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotRunning
	}
	return nil
}

// Cancel cancels the live job for a bookmark if no worker holds it yet.
// Running jobs keep their lease; the pipeline notices the missing bookmark
// at its next stage boundary and stops on its own.
func (q *Queue) Cancel(ctx context.Context, bookmarkID string) error {
	now := time.Now().UnixMilli()
	_, err := q.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET state = 'cancelled', updated_at = ?
		WHERE bookmark_id = ? AND state IN ('queued', 'failed_retryable')`,
		now, bookmarkID)
	if err != nil {
		return fmt.Errorf("jobq: cancel for %s: %w", bookmarkID, err)
	}
	return nil
}

// Get returns a job by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Job, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, bookmark_id, user_id, state, attempts, last_error, created_at, updated_at
		FROM ingest_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobq: get %s: %w", id, err)
	}
	return j, nil
}

// Depth returns how many jobs are waiting or running.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	var n int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ingest_jobs
		WHERE state IN ('queued', 'running', 'failed_retryable')`).Scan(&n)
	return n, err
}

// PruneFinished deletes terminal jobs older than the retention window.
func (q *Queue) PruneFinished(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM ingest_jobs
		WHERE state IN ('succeeded', 'failed_permanent', 'cancelled') AND updated_at < ?`,
		time.Now().Add(-olderThan).UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("jobq: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (q *Queue) finish(ctx context.Context, id string, token int, state State, msg string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE ingest_jobs SET state = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND state = 'running' AND attempts = ?`,
		string(state), msg, time.Now().UnixMilli(), id, token)
	if err != nil {
		return fmt.Errorf("jobq: finish %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotRunning
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var state string
	var creAt, updAt int64
	if err := row.Scan(&j.ID, &j.BookmarkID, &j.UserID, &state, &j.Attempts,
		&j.LastError, &creAt, &updAt); err != nil {
		return nil, err
	}
	j.State = State(state)
	j.CreatedAt = time.UnixMilli(creAt)
	j.UpdatedAt = time.UnixMilli(updAt)
	return &j, nil
}
