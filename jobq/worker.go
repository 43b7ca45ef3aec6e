package jobq

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Handler processes one claimed job. Returning nil succeeds the job,
// ErrCancelled cancels it, a Permanent error fails it terminally and any
// other error schedules a retry.
type Handler func(ctx context.Context, job *Job) error

// Run polls for eligible jobs and processes them with bounded concurrency.
// Each in-flight job gets a heartbeat goroutine that keeps its lease alive;
// a job that loses its lease anyway (clock pauses, reclaim) has its context
// cancelled so the handler stops doing work another worker now owns.
// Run blocks until ctx is cancelled, draining in-flight handlers.
func (q *Queue) Run(ctx context.Context, concurrency int, handler Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	log := q.opts.Logger
	log.Info("jobq: worker started",
		"concurrency", concurrency,
		"visibility", q.opts.Visibility,
		"poll", q.opts.PollInterval)

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("jobq: worker stopping, draining in-flight jobs")
			wg.Wait()
			log.Info("jobq: worker stopped")
			return
		case <-ticker.C:
		}

		for {
			job, err := q.Claim(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn("jobq: claim failed", "error", err)
				}
				break
			}
			if job == nil {
				break
			}

			// Acquire a slot, or hand the job back on shutdown so another
			// worker picks it up without waiting out the lease.
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				_ = q.requeue(job.ID, job.Attempts)
				wg.Wait()
				return
			}

			wg.Add(1)
			go func(j *Job) {
				defer wg.Done()
				defer func() { <-sem }()
				q.process(ctx, j, handler)
			}(job)
		}
	}
}

// requeue returns an unprocessed claim to the queue without burning the
// attempt.
func (q *Queue) requeue(id string, token int) error {
	now := time.Now().UnixMilli()
	_, err := q.db.Exec(`
		UPDATE ingest_jobs
		SET state = 'queued', attempts = attempts - 1, visible_at = ?, updated_at = ?
		WHERE id = ? AND state = 'running' AND attempts = ?`,
		now, now, id, token)
	return err
}

func (q *Queue) process(ctx context.Context, job *Job, handler Handler) {
	log := q.opts.Logger

	jctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Heartbeat at a third of the lease so two beats can fail before the
	// lease actually expires.
	hbDone := make(chan struct{})
	go func() {
		defer close(hbDone)
		t := time.NewTicker(q.opts.Visibility / 3)
		defer t.Stop()
		for {
			select {
			case <-jctx.Done():
				return
			case <-t.C:
				if err := q.Heartbeat(jctx, job.ID, job.Attempts); err != nil {
					if errors.Is(err, ErrNotRunning) {
						log.Warn("jobq: lease lost, abandoning job", "id", job.ID)
						cancel()
						return
					}
					log.Warn("jobq: heartbeat failed", "id", job.ID, "error", err)
				}
			}
		}
	}()

	err := handler(jctx, job)
	cancel()
	<-hbDone

	// Use a fresh context: the worker may be shutting down, but the
	// outcome still has to land in the database.
	fctx, fcancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer fcancel()

	switch {
	case err == nil:
		if err := q.Succeed(fctx, job.ID, job.Attempts); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Error("jobq: succeed failed", "id", job.ID, "error", err)
		}
		log.Info("jobq: job succeeded",
			"id", job.ID, "bookmark_id", job.BookmarkID, "attempts", job.Attempts)
	case errors.Is(err, ErrCancelled):
		if err := q.finish(fctx, job.ID, job.Attempts, StateCancelled, ""); err != nil && !errors.Is(err, ErrNotRunning) {
			log.Error("jobq: cancel finish failed", "id", job.ID, "error", err)
		}
		log.Info("jobq: job cancelled mid-flight", "id", job.ID, "bookmark_id", job.BookmarkID)
	default:
		if ferr := q.Fail(fctx, job.ID, job.Attempts, err); ferr != nil && !errors.Is(ferr, ErrNotRunning) {
			log.Error("jobq: fail failed", "id", job.ID, "error", ferr)
		}
		log.Warn("jobq: job failed",
			"id", job.ID, "bookmark_id", job.BookmarkID,
			"attempts", job.Attempts, "permanent", IsPermanent(err), "error", err)
	}
}
