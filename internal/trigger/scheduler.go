package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/calebdore/medtide/internal/model"
	"github.com/calebdore/medtide/internal/store"
)

// ErrAllStrategiesFailed means every strategy in the cascade rejected the
// request.
var ErrAllStrategiesFailed = errors.New("all delivery strategies failed")

// Placement records which strategy produced which handle.
type Placement struct {
	Handle   string
	Strategy model.Strategy
}

// Scheduler walks the strategy cascade to place triggers and keeps the
// local store's handle mapping current. At most one trigger exists per
// reminder: scheduling always cancels the previous placement first.
type Scheduler struct {
	strategies []Strategy
	reminders  *store.ReminderStore
	log        *slog.Logger
}

// NewScheduler creates a scheduler over the given cascade, in priority
// order.
func NewScheduler(strategies []Strategy, reminders *store.ReminderStore, log *slog.Logger) *Scheduler {
	return &Scheduler{strategies: strategies, reminders: reminders, log: log}
}

// Schedule places a trigger for a stored reminder and records the handle.
// Any previous trigger for the same reminder is cancelled first, whatever
// strategy created it.
func (s *Scheduler) Schedule(ctx context.Context, r model.StoredReminder) (Placement, error) {
	if err := s.Cancel(ctx, r.ReminderID); err != nil {
		return Placement{}, err
	}

	req := Request{
		ReminderID: r.ReminderID,
		FireAt:     r.ScheduledFor,
		Title:      "Time for " + r.MedicationName,
		Body:       fmt.Sprintf("Take %s of %s", r.Dosage, r.MedicationName),
		Urgent:     r.Escalations > 0,
	}

	var lastErr error
	for _, strat := range s.strategies {
		handle, err := strat.Schedule(ctx, req)
		if err != nil {
			s.log.Debug("delivery strategy refused", "reminder_id", r.ReminderID, "strategy", strat.Name(), "error", err)
			lastErr = err
			continue
		}

		if err := s.reminders.SetTrigger(r.ReminderID, handle, strat.Name()); err != nil {
			// The trigger is live but unrecorded; cancel it rather than leak
			// an orphan the store knows nothing about.
			if cerr := strat.Cancel(ctx, handle); cerr != nil {
				s.log.Warn("cancel unrecorded trigger", "reminder_id", r.ReminderID, "error", cerr)
			}
			return Placement{}, err
		}

		s.log.Info("trigger scheduled", "reminder_id", r.ReminderID, "strategy", strat.Name(), "fire_at", r.ScheduledFor)
		return Placement{Handle: handle, Strategy: strat.Name()}, nil
	}

	return Placement{}, fmt.Errorf("%w: %v", ErrAllStrategiesFailed, lastErr)
}

// Cancel removes the live trigger for a reminder, if any. Cancellation is
// handle-based: the placement's own strategy performs it, regardless of
// what a future schedule might pick. A reminder with no trigger is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, reminderID string) error {
	r, err := s.reminders.Get(reminderID)
	if err != nil {
		return err
	}
	if r == nil || r.TriggerHandle == "" {
		return nil
	}

	strat := s.byName(r.Strategy)
	if strat == nil {
		// Strategy removed from the cascade since the handle was written.
		// The handle is unreachable garbage; drop the record.
		s.log.Warn("no strategy for stored trigger", "reminder_id", reminderID, "strategy", r.Strategy)
		return s.reminders.ClearTrigger(reminderID)
	}

	if err := strat.Cancel(ctx, r.TriggerHandle); err != nil {
		return fmt.Errorf("cancel trigger for %s: %w", reminderID, err)
	}
	return s.reminders.ClearTrigger(reminderID)
}

func (s *Scheduler) byName(name model.Strategy) Strategy {
	for _, strat := range s.strategies {
		if strat.Name() == name {
			return strat
		}
	}
	return nil
}
