package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/calebdore/medtide/internal/database"
	"github.com/calebdore/medtide/internal/model"
	"github.com/calebdore/medtide/internal/remote"
	"github.com/calebdore/medtide/internal/store"
)

// fakeSyncAPI scripts server behavior and records every submitted action id.
type fakeSyncAPI struct {
	mu        sync.Mutex
	submitted map[string]int // action id -> times seen
	reject    map[string]bool
	err       error
	block     chan struct{} // when set, Sync blocks until closed
}

func newFakeSyncAPI() *fakeSyncAPI {
	return &fakeSyncAPI{submitted: make(map[string]int), reject: make(map[string]bool)}
}

func (f *fakeSyncAPI) SyncOfflineActions(ctx context.Context, actions []remote.SyncAction) ([]remote.ActionResult, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}

	results := make([]remote.ActionResult, len(actions))
	for i, a := range actions {
		f.submitted[a.ID]++
		if f.reject[a.ID] {
			results[i] = remote.ActionResult{ID: a.ID, Success: false, Error: "conflict"}
		} else {
			results[i] = remote.ActionResult{ID: a.ID, Success: true}
		}
	}
	return results, nil
}

func setupQueue(t *testing.T, api SyncAPI, opts ...Option) (*Queue, *store.ActionStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	as := store.NewActionStore(db)
	return New(as, api, slog.Default(), opts...), as
}

func TestEnqueueAndFlush(t *testing.T) {
	api := newFakeSyncAPI()
	q, as := setupQueue(t, api)

	a, err := q.Enqueue(model.ActionConfirm, "rem-1")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	if api.submitted[a.ID] != 1 {
		t.Errorf("action submitted %d times, want 1", api.submitted[a.ID])
	}
	pending, err := as.ListUnsynced()
	if err != nil {
		t.Fatalf("list unsynced: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty queue after flush, got %d", len(pending))
	}
}

func TestFlushEmptyQueue(t *testing.T) {
	api := newFakeSyncAPI()
	q, _ := setupQueue(t, api)

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush empty: %v", err)
	}
	if len(api.submitted) != 0 {
		t.Errorf("network call made for empty queue")
	}
}

func TestFlushPartialSuccess(t *testing.T) {
	api := newFakeSyncAPI()
	q, as := setupQueue(t, api)

	ok, _ := q.Enqueue(model.ActionConfirm, "rem-1")
	bad, _ := q.Enqueue(model.ActionSnooze, "rem-2")
	api.reject[bad.ID] = true

	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}

	pending, err := as.ListUnsynced()
	if err != nil {
		t.Fatalf("list unsynced: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != bad.ID {
		t.Fatalf("expected only rejected action pending, got %+v", pending)
	}
	if pending[0].RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", pending[0].RetryCount)
	}

	if synced, _ := as.Get(ok.ID); synced != nil {
		t.Errorf("acknowledged action not purged: %+v", synced)
	}
}

// Two overlapping flushes must not double-submit: the second call no-ops
// while the first is in flight.
func TestFlushReentrantNoDoubleSubmit(t *testing.T) {
	api := newFakeSyncAPI()
	api.block = make(chan struct{})
	q, _ := setupQueue(t, api)

	a, _ := q.Enqueue(model.ActionConfirm, "rem-1")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := q.Flush(context.Background()); err != nil {
			t.Errorf("first flush: %v", err)
		}
	}()

	// Wait until the first flush is inside the network call.
	deadline := time.Now().Add(time.Second)
	for !q.flushing.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first flush never started")
		}
		time.Sleep(time.Millisecond)
	}

	// Second flush must no-op immediately.
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("re-entrant flush: %v", err)
	}

	close(api.block)
	wg.Wait()

	if api.submitted[a.ID] != 1 {
		t.Errorf("action submitted %d times, want exactly 1", api.submitted[a.ID])
	}
}

func TestRetryCapDropsAction(t *testing.T) {
	api := newFakeSyncAPI()
	q, as := setupQueue(t, api, WithMaxRetries(2))

	a, _ := q.Enqueue(model.ActionConfirm, "rem-1")
	api.reject[a.ID] = true

	// First rejection: retry count 1, still pending.
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush 1: %v", err)
	}
	pending, _ := as.ListUnsynced()
	if len(pending) != 1 {
		t.Fatalf("expected action still pending, got %d", len(pending))
	}

	// Second rejection reaches the cap: dropped, queue stops growing.
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush 2: %v", err)
	}
	pending, _ = as.ListUnsynced()
	if len(pending) != 0 {
		t.Fatalf("expected exhausted action dropped, got %+v", pending)
	}

	// Further flushes submit nothing.
	before := api.submitted[a.ID]
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("flush 3: %v", err)
	}
	if api.submitted[a.ID] != before {
		t.Errorf("dropped action resubmitted")
	}
}

func TestTransportFailureCountsAsRetry(t *testing.T) {
	api := newFakeSyncAPI()
	api.err = errors.New("connection refused")
	q, as := setupQueue(t, api)

	a, _ := q.Enqueue(model.ActionConfirm, "rem-1")

	// A short deadline cuts the backoff loop off quickly; the timeout is
	// transient, not fatal.
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Flush(ctx); err == nil {
		t.Fatal("expected transport error")
	}

	got, err := as.Get(a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.RetryCount < 1 {
		t.Errorf("retry count = %d, want >= 1", got.RetryCount)
	}
	if got.Synced {
		t.Errorf("action marked synced despite transport failure")
	}
}

func TestPending(t *testing.T) {
	api := newFakeSyncAPI()
	q, _ := setupQueue(t, api)

	n, err := q.Pending()
	if err != nil || n != 0 {
		t.Fatalf("pending = %d, %v; want 0, nil", n, err)
	}

	q.Enqueue(model.ActionConfirm, "rem-1")
	q.Enqueue(model.ActionSnooze, "rem-2")

	n, err = q.Pending()
	if err != nil || n != 2 {
		t.Fatalf("pending = %d, %v; want 2, nil", n, err)
	}
}
