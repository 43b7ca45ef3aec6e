package jobq

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestWorkerProcessesJobs(t *testing.T) {
	q := newQueue(t, Options{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var processed atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, 2, func(ctx context.Context, job *Job) error {
			processed.Add(1)
			return nil
		})
	}()

	ids := make([]string, 3)
	for i, bm := range []string{"bm-a", "bm-b", "bm-c"} {
		ids[i], _, _ = q.Enqueue(context.Background(), bm, "u1")
	}

	waitFor(t, 2*time.Second, func() bool { return processed.Load() == 3 })
	cancel()
	<-done

	for _, id := range ids {
		j, err := q.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if j.State != StateSucceeded {
			t.Errorf("%s state = %s", id, j.State)
		}
	}
}

func TestWorkerRetriesThenPermanent(t *testing.T) {
	q := newQueue(t, Options{
		PollInterval: 10 * time.Millisecond,
		Backoff:      time.Millisecond,
		MaxAttempts:  2,
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, 1, func(ctx context.Context, job *Job) error {
			attempts.Add(1)
			return errors.New("upstream down")
		})
	}()

	id, _, _ := q.Enqueue(context.Background(), "bm1", "u1")

	waitFor(t, 2*time.Second, func() bool {
		j, err := q.Get(context.Background(), id)
		return err == nil && j.State == StateFailedPermanent
	})
	cancel()
	<-done

	if got := attempts.Load(); got != 2 {
		t.Errorf("handler ran %d times, want MaxAttempts=2", got)
	}
}

func TestWorkerCancelledHandler(t *testing.T) {
	q := newQueue(t, Options{PollInterval: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, 1, func(ctx context.Context, job *Job) error {
			return ErrCancelled
		})
	}()

	id, _, _ := q.Enqueue(context.Background(), "bm1", "u1")
	waitFor(t, 2*time.Second, func() bool {
		j, err := q.Get(context.Background(), id)
		return err == nil && j.State == StateCancelled
	})
	cancel()
	<-done
}

func TestWorkerPermanentError(t *testing.T) {
	q := newQueue(t, Options{PollInterval: 10 * time.Millisecond, MaxAttempts: 5})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var attempts atomic.Int32
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Run(ctx, 1, func(ctx context.Context, job *Job) error {
			attempts.Add(1)
			return Permanent(errors.New("unsupported format"))
		})
	}()

	id, _, _ := q.Enqueue(context.Background(), "bm1", "u1")
	waitFor(t, 2*time.Second, func() bool {
		j, err := q.Get(context.Background(), id)
		return err == nil && j.State == StateFailedPermanent
	})
	cancel()
	<-done

	if got := attempts.Load(); got != 1 {
		t.Errorf("handler ran %d times, want 1 for a permanent error", got)
	}
}
