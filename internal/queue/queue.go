// Package queue durably records confirm/snooze actions taken offline (or
// speculatively) and replays them against the remote API with bounded
// retries.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/calebdore/medtide/internal/model"
	"github.com/calebdore/medtide/internal/remote"
	"github.com/calebdore/medtide/internal/store"
)

// ErrExhausted marks an action dropped after exceeding its retry cap. It is
// logged, never surfaced to the user path: locally the action already
// succeeded.
var ErrExhausted = errors.New("action retry cap exceeded")

const (
	defaultMaxRetries     = 5
	flushBackoffBase      = 500 * time.Millisecond
	flushTransportRetries = 3
)

// SyncAPI is the slice of the remote client the queue needs.
type SyncAPI interface {
	SyncOfflineActions(ctx context.Context, actions []remote.SyncAction) ([]remote.ActionResult, error)
}

// Queue is the offline action queue. Enqueue is durable before it returns;
// Flush is safe to call concurrently with itself and with Enqueue.
type Queue struct {
	actions    *store.ActionStore
	api        SyncAPI
	maxRetries int
	log        *slog.Logger

	flushing atomic.Bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithMaxRetries overrides the per-action retry cap.
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

func New(actions *store.ActionStore, api SyncAPI, log *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		actions:    actions,
		api:        api,
		maxRetries: defaultMaxRetries,
		log:        log,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue records an action. The row is committed before Enqueue returns,
// so a crash immediately after still replays the action.
func (q *Queue) Enqueue(kind, reminderID string) (model.QueuedAction, error) {
	a := model.QueuedAction{
		ID:         uuid.NewString(),
		Kind:       kind,
		ReminderID: reminderID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := q.actions.Insert(a); err != nil {
		return model.QueuedAction{}, fmt.Errorf("enqueue %s for %s: %w", kind, reminderID, err)
	}
	q.log.Debug("action queued", "id", a.ID, "kind", kind, "reminder_id", reminderID)
	return a, nil
}

// Pending returns how many actions await server acknowledgment, for the
// non-blocking "pending sync" indicator.
func (q *Queue) Pending() (int, error) {
	actions, err := q.actions.ListUnsynced()
	if err != nil {
		return 0, err
	}
	return len(actions), nil
}

// Flush batch-submits all unsynced actions. A Flush while another is in
// flight is a no-op; actions enqueued mid-flush are picked up by the next
// one. Transport errors (including timeouts) are transient: retried with
// backoff inside the call, then counted against each action's retry cap.
func (q *Queue) Flush(ctx context.Context) error {
	if !q.flushing.CompareAndSwap(false, true) {
		return nil
	}
	defer q.flushing.Store(false)

	pending, err := q.actions.ListUnsynced()
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	batch := make([]remote.SyncAction, len(pending))
	for i, a := range pending {
		batch[i] = remote.SyncAction{
			ID:         a.ID,
			Kind:       a.Kind,
			ReminderID: a.ReminderID,
			Timestamp:  a.CreatedAt,
		}
	}

	var results []remote.ActionResult
	backoff := retry.WithMaxRetries(flushTransportRetries, retry.NewFibonacci(flushBackoffBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var rerr error
		results, rerr = q.api.SyncOfflineActions(ctx, batch)
		if rerr != nil {
			return retry.RetryableError(rerr)
		}
		return nil
	})
	if err != nil {
		// The whole batch failed transport; every action takes a retry hit.
		q.log.Warn("flush transport failed", "actions", len(pending), "error", err)
		for _, a := range pending {
			q.bumpOrDrop(a)
		}
		return fmt.Errorf("flush: %w", err)
	}

	byID := make(map[string]remote.ActionResult, len(results))
	for _, res := range results {
		byID[res.ID] = res
	}

	var synced []string
	for _, a := range pending {
		res, ok := byID[a.ID]
		if ok && res.Success {
			synced = append(synced, a.ID)
			continue
		}
		if ok {
			q.log.Warn("server rejected action", "id", a.ID, "kind", a.Kind, "error", res.Error)
		} else {
			q.log.Warn("server omitted action from results", "id", a.ID)
		}
		q.bumpOrDrop(a)
	}

	if err := q.actions.MarkSynced(synced); err != nil {
		return fmt.Errorf("flush mark synced: %w", err)
	}
	if err := q.actions.PurgeSynced(); err != nil {
		return fmt.Errorf("flush purge: %w", err)
	}

	q.log.Info("flush complete", "submitted", len(pending), "acknowledged", len(synced))
	return nil
}

// bumpOrDrop increments an action's retry count and drops it once the cap
// is reached. Dropping is deliberate at-most-N-retries: the queue must not
// grow unbounded or block forever on one poisoned action. The user already
// believes the action succeeded, so the drop is telemetry-logged loudly.
func (q *Queue) bumpOrDrop(a model.QueuedAction) {
	count, err := q.actions.IncrementRetry(a.ID)
	if err != nil {
		q.log.Error("increment retry", "id", a.ID, "error", err)
		return
	}
	if count < q.maxRetries {
		return
	}

	if err := q.actions.MarkSynced([]string{a.ID}); err != nil {
		q.log.Error("drop exhausted action", "id", a.ID, "error", err)
		return
	}
	q.log.Error("action dropped after retry cap",
		"id", a.ID, "kind", a.Kind, "reminder_id", a.ReminderID,
		"retries", count, "error", ErrExhausted)
}
