package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebdore/medtide/internal/model"
	"github.com/calebdore/medtide/internal/store"
	"github.com/calebdore/medtide/internal/trigger"
)

// API is the slice of the remote client the runner needs.
type API interface {
	Upcoming(ctx context.Context, patientID string) ([]model.Reminder, error)
}

// VoiceCache prefetches voice assets for newly scheduled reminders.
type VoiceCache interface {
	Get(ctx context.Context, prescriptionID, url string) (string, error)
	Prune(live map[string]bool) error
}

// Flusher drains the offline action queue opportunistically after a sync.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Presence reports whether a reminder is currently presenting to the user.
// A presenting reminder is never cancelled or rescheduled under the user's
// finger; it is reconciled on the next sync after they act.
type Presence interface {
	Presenting(reminderID string) bool
}

// Runner drives periodic and on-demand reconciliation.
type Runner struct {
	mu        sync.RWMutex
	api       API
	patientID string
	reminders *store.ReminderStore
	syncState *store.SyncStore
	sched     *trigger.Scheduler
	voice     VoiceCache
	flusher   Flusher
	presence  Presence
	interval  time.Duration
	timeout   time.Duration
	log       *slog.Logger

	kick   chan struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// Config holds runner timing knobs.
type Config struct {
	PatientID string
	Interval  time.Duration
	Timeout   time.Duration
}

func NewRunner(cfg Config, api API, reminders *store.ReminderStore, syncState *store.SyncStore,
	sched *trigger.Scheduler, voice VoiceCache, flusher Flusher, presence Presence, log *slog.Logger) *Runner {
	if cfg.Interval == 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Runner{
		api:       api,
		patientID: cfg.PatientID,
		reminders: reminders,
		syncState: syncState,
		sched:     sched,
		voice:     voice,
		flusher:   flusher,
		presence:  presence,
		interval:  cfg.Interval,
		timeout:   cfg.Timeout,
		log:       log,
		kick:      make(chan struct{}, 1),
	}
}

// Start begins the sync loop: one immediate reconciliation, then ticks and
// SyncNow kicks.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})
	r.mu.Unlock()

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()

		r.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.runOnce(ctx)
			case <-r.kick:
				r.runOnce(ctx)
			}
		}
	}()
}

// Stop gracefully stops the sync loop.
func (r *Runner) Stop() {
	r.mu.RLock()
	cancel := r.cancel
	done := r.done
	r.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// SyncNow requests an immediate reconciliation (app foreground, pull to
// refresh). Coalesces if one is already queued.
func (r *Runner) SyncNow() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Runner) runOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.Reconcile(ctx); err != nil {
		// Transient by definition; the next tick retries. Surfaced only as
		// a stale lastSync, never as a blocking error.
		r.log.Warn("reconciliation failed", "error", err)
	}
}

// Reconcile pulls the server set, applies the minimal diff, drains the
// action queue, and records the sync time.
func (r *Runner) Reconcile(ctx context.Context) error {
	server, err := r.api.Upcoming(ctx, r.patientID)
	if err != nil {
		return fmt.Errorf("fetch server reminders: %w", err)
	}

	stored, err := r.reminders.List()
	if err != nil {
		return fmt.Errorf("list local reminders: %w", err)
	}
	local := make(map[string]model.StoredReminder, len(stored))
	for _, s := range stored {
		local[s.ReminderID] = s
	}

	plan := Diff(server, local)
	if !plan.Empty() {
		r.log.Info("reconcile plan",
			"schedule", len(plan.ToSchedule),
			"reschedule", len(plan.ToReschedule),
			"cancel", len(plan.ToCancel))
	}

	for _, id := range plan.ToCancel {
		if r.presence.Presenting(id) {
			r.log.Debug("deferring cancel of presenting reminder", "reminder_id", id)
			continue
		}
		if err := r.sched.Cancel(ctx, id); err != nil {
			r.log.Warn("cancel deleted reminder", "reminder_id", id, "error", err)
			continue
		}
		if err := r.reminders.Delete(id); err != nil {
			r.log.Warn("delete reminder", "reminder_id", id, "error", err)
		}
	}

	for _, srv := range plan.ToSchedule {
		r.apply(ctx, srv)
	}
	for _, srv := range plan.ToReschedule {
		if r.presence.Presenting(srv.ReminderID) {
			r.log.Debug("deferring reschedule of presenting reminder", "reminder_id", srv.ReminderID)
			continue
		}
		r.apply(ctx, srv)
	}

	// Opportunistic queue drain; failures keep their own retry accounting.
	if err := r.flusher.Flush(ctx); err != nil {
		r.log.Debug("queue flush during sync failed", "error", err)
	}

	live := make(map[string]bool, len(server))
	for _, srv := range server {
		live[srv.PrescriptionID] = true
	}
	if err := r.voice.Prune(live); err != nil {
		r.log.Warn("prune voice cache", "error", err)
	}

	if err := r.syncState.SetLastSync(time.Now().UTC()); err != nil {
		return fmt.Errorf("record sync time: %w", err)
	}
	return nil
}

// apply persists a server record and places its trigger. Voice download
// failure never blocks scheduling: the reminder fires with the default cue.
func (r *Runner) apply(ctx context.Context, srv model.Reminder) {
	if err := r.reminders.Put(srv); err != nil {
		r.log.Warn("store reminder", "reminder_id", srv.ReminderID, "error", err)
		return
	}

	if srv.Voice != nil {
		if _, err := r.voice.Get(ctx, srv.PrescriptionID, srv.Voice.URL); err != nil {
			r.log.Warn("voice prefetch failed, default cue will be used",
				"prescription_id", srv.PrescriptionID, "error", err)
		}
	}

	stored, err := r.reminders.Get(srv.ReminderID)
	if err != nil || stored == nil {
		r.log.Warn("reload stored reminder", "reminder_id", srv.ReminderID, "error", err)
		return
	}
	if _, err := r.sched.Schedule(ctx, *stored); err != nil {
		// Left in scheduled state with no trigger; the due sweep catches it.
		r.log.Error("schedule reminder", "reminder_id", srv.ReminderID, "error", err)
	}
}
