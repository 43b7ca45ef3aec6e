package jobq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/solenne/signet/dbopen"
)

func newQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	q, err := New(dbopen.OpenMemory(t), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return q
}

func TestEnqueueClaimSucceed(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	id, existing, err := q.Enqueue(ctx, "bm1", "u1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if existing {
		t.Error("fresh enqueue reported existing")
	}

	job, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job == nil || job.ID != id {
		t.Fatalf("claimed %+v, want id %s", job, id)
	}
	if job.State != StateRunning || job.Attempts != 1 {
		t.Errorf("state=%s attempts=%d", job.State, job.Attempts)
	}

	if err := q.Succeed(ctx, id, job.Attempts); err != nil {
		t.Fatalf("Succeed: %v", err)
	}
	got, err := q.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.State != StateSucceeded {
		t.Errorf("state = %s", got.State)
	}
	if !got.State.Terminal() {
		t.Error("succeeded should be terminal")
	}
}

func TestEnqueueCoalesces(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	first, _, err := q.Enqueue(ctx, "bm1", "u1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	second, existing, err := q.Enqueue(ctx, "bm1", "u1")
	if err != nil {
		t.Fatalf("Enqueue again: %v", err)
	}
	if !existing {
		t.Error("duplicate enqueue not reported as existing")
	}
	if second != first {
		t.Errorf("got new job %s, want coalesced %s", second, first)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestEnqueueConcurrentCoalesces(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, _, err := q.Enqueue(ctx, "bm1", "u1")
			if err != nil {
				t.Errorf("Enqueue: %v", err)
				return
			}
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent enqueues produced distinct jobs: %v", ids)
		}
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Errorf("depth = %d, want 1", depth)
	}
}

func TestEnqueueAfterTerminalCreatesNewJob(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	first, _, _ := q.Enqueue(ctx, "bm1", "u1")
	q.Claim(ctx)
	q.Succeed(ctx, first, 1)

	second, existing, err := q.Enqueue(ctx, "bm1", "u1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if existing || second == first {
		t.Errorf("re-save after success should queue a fresh job")
	}
}

func TestEnqueueRacingTerminalTransition(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	// A finisher constantly moves the live job to a terminal state, so
	// enqueues keep landing in the window between the conflicting insert
	// and the live-job lookup. Every one must still resolve to a job.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			if j, _ := q.Claim(ctx); j != nil {
				q.Succeed(ctx, j.ID, j.Attempts)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		if _, _, err := q.Enqueue(ctx, "bm1", "u1"); err != nil {
			t.Fatalf("Enqueue #%d: %v", i, err)
		}
	}
	close(stop)
	wg.Wait()
}

func TestClaimOrderAndIdle(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	a, _, _ := q.Enqueue(ctx, "bm-a", "u1")
	time.Sleep(5 * time.Millisecond)
	q.Enqueue(ctx, "bm-b", "u1")

	job, _ := q.Claim(ctx)
	if job.ID != a {
		t.Errorf("claimed %s first, want oldest %s", job.ID, a)
	}

	q.Claim(ctx)
	idle, err := q.Claim(ctx)
	if err != nil || idle != nil {
		t.Errorf("empty claim = %+v, %v; want nil, nil", idle, err)
	}
}

func TestLeaseExpiryReclaim(t *testing.T) {
	q := newQueue(t, Options{Visibility: 20 * time.Millisecond})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	first, _ := q.Claim(ctx)
	if first == nil {
		t.Fatal("first claim empty")
	}

	// While the lease holds, the job is invisible.
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("claimed a leased job")
	}

	time.Sleep(30 * time.Millisecond)

	second, err := q.Claim(ctx)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if second == nil || second.ID != id {
		t.Fatalf("expired lease not reclaimed: %+v", second)
	}
	if second.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", second.Attempts)
	}
}

func TestReclaimFencesStalledWorker(t *testing.T) {
	q := newQueue(t, Options{Visibility: 20 * time.Millisecond})
	ctx := context.Background()

	q.Enqueue(ctx, "bm1", "u1")
	stalled, _ := q.Claim(ctx)
	if stalled == nil {
		t.Fatal("first claim empty")
	}

	time.Sleep(30 * time.Millisecond)
	holder, err := q.Claim(ctx)
	if err != nil || holder == nil || holder.ID != stalled.ID {
		t.Fatalf("reclaim = %+v, %v", holder, err)
	}

	// The stalled worker's token is stale: it can neither extend the new
	// holder's lease nor record an outcome for work it no longer owns.
	if err := q.Heartbeat(ctx, stalled.ID, stalled.Attempts); !errors.Is(err, ErrNotRunning) {
		t.Errorf("stale heartbeat err = %v, want ErrNotRunning", err)
	}
	if err := q.Fail(ctx, stalled.ID, stalled.Attempts, errors.New("late failure")); !errors.Is(err, ErrNotRunning) {
		t.Errorf("stale fail err = %v, want ErrNotRunning", err)
	}
	if err := q.Succeed(ctx, stalled.ID, stalled.Attempts); !errors.Is(err, ErrNotRunning) {
		t.Errorf("stale succeed err = %v, want ErrNotRunning", err)
	}

	got, _ := q.Get(ctx, stalled.ID)
	if got.State != StateRunning || got.Attempts != holder.Attempts {
		t.Fatalf("job = %+v, stale worker disturbed the holder's claim", got)
	}

	// The current holder's token still works.
	if err := q.Heartbeat(ctx, holder.ID, holder.Attempts); err != nil {
		t.Fatalf("holder heartbeat: %v", err)
	}
	if err := q.Succeed(ctx, holder.ID, holder.Attempts); err != nil {
		t.Fatalf("holder succeed: %v", err)
	}
}

func TestHeartbeatKeepsLease(t *testing.T) {
	q := newQueue(t, Options{Visibility: 30 * time.Millisecond})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	q.Claim(ctx)

	for i := 0; i < 4; i++ {
		time.Sleep(15 * time.Millisecond)
		if err := q.Heartbeat(ctx, id, 1); err != nil {
			t.Fatalf("Heartbeat: %v", err)
		}
	}
	if j, _ := q.Claim(ctx); j != nil {
		t.Error("heartbeated job was reclaimed")
	}
}

func TestHeartbeatAfterFinish(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	q.Claim(ctx)
	q.Succeed(ctx, id, 1)

	if err := q.Heartbeat(ctx, id, 1); !errors.Is(err, ErrNotRunning) {
		t.Errorf("err = %v, want ErrNotRunning", err)
	}
}

func TestFailSchedulesRetryWithBackoff(t *testing.T) {
	q := newQueue(t, Options{Backoff: 25 * time.Millisecond})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	q.Claim(ctx)
	if err := q.Fail(ctx, id, 1, errors.New("fetch timeout")); err != nil {
		t.Fatalf("Fail: %v", err)
	}

	got, _ := q.Get(ctx, id)
	if got.State != StateFailedRetryable {
		t.Fatalf("state = %s", got.State)
	}
	if got.LastError != "fetch timeout" {
		t.Errorf("last_error = %q", got.LastError)
	}

	// Not visible until the backoff elapses.
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("retry claimed before backoff elapsed")
	}
	time.Sleep(35 * time.Millisecond)
	j, _ := q.Claim(ctx)
	if j == nil || j.ID != id {
		t.Fatalf("retry not claimable after backoff: %+v", j)
	}
}

func TestFailPermanentError(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	q.Claim(ctx)
	if err := q.Fail(ctx, id, 1, Permanent(errors.New("auth required"))); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	got, _ := q.Get(ctx, id)
	if got.State != StateFailedPermanent {
		t.Errorf("state = %s, want failed_permanent on first attempt", got.State)
	}
}

func TestFailAttemptCapBecomesPermanent(t *testing.T) {
	q := newQueue(t, Options{MaxAttempts: 2, Backoff: time.Millisecond})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	for attempt := 1; ; attempt++ {
		time.Sleep(5 * time.Millisecond)
		j, err := q.Claim(ctx)
		if err != nil {
			t.Fatalf("Claim: %v", err)
		}
		if j == nil {
			break
		}
		if err := q.Fail(ctx, id, j.Attempts, errors.New("still down")); err != nil {
			t.Fatalf("Fail: %v", err)
		}
		if attempt > 5 {
			t.Fatal("job never became permanent")
		}
	}

	got, _ := q.Get(ctx, id)
	if got.State != StateFailedPermanent {
		t.Errorf("state = %s, want failed_permanent after cap", got.State)
	}
	if got.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", got.Attempts)
	}
}

func TestEnqueueExpeditesPendingRetry(t *testing.T) {
	q := newQueue(t, Options{Backoff: time.Hour})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	q.Claim(ctx)
	q.Fail(ctx, id, 1, errors.New("blocked"))

	// An hour of backoff stands between the job and its retry...
	if j, _ := q.Claim(ctx); j != nil {
		t.Fatal("claimed during backoff")
	}

	// ...until the owner re-saves the bookmark.
	again, existing, err := q.Enqueue(ctx, "bm1", "u1")
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !existing || again != id {
		t.Fatalf("expected coalescing onto %s, got %s (existing=%v)", id, again, existing)
	}
	j, _ := q.Claim(ctx)
	if j == nil || j.ID != id {
		t.Fatal("expedited retry not claimable")
	}
}

func TestCancelQueuedJob(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	if err := q.Cancel(ctx, "bm1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := q.Get(ctx, id)
	if got.State != StateCancelled {
		t.Errorf("state = %s", got.State)
	}
	if j, _ := q.Claim(ctx); j != nil {
		t.Error("cancelled job claimed")
	}
}

func TestCancelLeavesRunningAlone(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	q.Claim(ctx)
	if err := q.Cancel(ctx, "bm1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	got, _ := q.Get(ctx, id)
	if got.State != StateRunning {
		t.Errorf("state = %s, running jobs finish on their own", got.State)
	}
}

func TestGetNotFound(t *testing.T) {
	q := newQueue(t, Options{})
	if _, err := q.Get(context.Background(), "job_nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPruneFinished(t *testing.T) {
	q := newQueue(t, Options{})
	ctx := context.Background()

	id, _, _ := q.Enqueue(ctx, "bm1", "u1")
	q.Claim(ctx)
	q.Succeed(ctx, id, 1)
	q.Enqueue(ctx, "bm2", "u1")

	n, err := q.PruneFinished(ctx, 0)
	if err != nil {
		t.Fatalf("PruneFinished: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, err := q.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Error("terminal job survived pruning")
	}
}
