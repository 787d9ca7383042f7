// Package lifecycle owns a reminder from scheduled through delivered to a
// terminal action. It is the single entry point for every "this reminder is
// due" signal, so concurrent delivery callbacks, user taps, and the due
// sweep collapse into exactly one presentation.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/calebdore/medtide/internal/model"
	"github.com/calebdore/medtide/internal/platform"
	"github.com/calebdore/medtide/internal/queue"
	"github.com/calebdore/medtide/internal/store"
	"github.com/calebdore/medtide/internal/trigger"
)

// Signal identifies which source reported a reminder as due.
type Signal string

const (
	SignalDelivery Signal = "platform_delivery"
	SignalTap      Signal = "user_tap"
	SignalSweep    Signal = "due_sweep"
)

const (
	defaultSnoozeDelay     = 10 * time.Minute
	defaultEscalationDelay = 2 * time.Minute
	maxEscalations         = 3
)

// Config holds lifecycle tuning.
type Config struct {
	// SnoozeDelay is how far a snoozed reminder's replacement occurrence is
	// pushed out. Defaults to 10 minutes.
	SnoozeDelay time.Duration
	// EscalationDelay is how long a presented reminder waits for a user
	// action before re-presenting with heightened urgency.
	EscalationDelay time.Duration
	// DefaultCueURI plays when a reminder has no resolvable voice asset.
	DefaultCueURI string
}

// presentation is the in-memory record of a reminder currently on screen.
type presentation struct {
	escalation *time.Timer
}

// ReminderStore is the slice of the reminder store the controller uses.
type ReminderStore interface {
	Get(reminderID string) (*model.StoredReminder, error)
	SetState(reminderID string, state model.State, escalations int) error
	Reschedule(reminderID string, fireAt time.Time) error
	Due(now time.Time) ([]model.StoredReminder, error)
}

// Controller is the reminder state machine.
type Controller struct {
	cfg       Config
	reminders ReminderStore
	voice     *store.VoiceStore
	sched     *trigger.Scheduler
	actions   *queue.Queue
	audio     *platform.SessionGuard
	haptics   platform.Haptics
	// syncNow opportunistically pushes a user action to the server right
	// after it is queued. Optional.
	syncNow func()
	log     *slog.Logger

	mu         sync.Mutex
	presenting map[string]*presentation
}

func NewController(cfg Config, reminders ReminderStore, voice *store.VoiceStore,
	sched *trigger.Scheduler, actions *queue.Queue, audio *platform.SessionGuard,
	haptics platform.Haptics, syncNow func(), log *slog.Logger) *Controller {
	if cfg.SnoozeDelay == 0 {
		cfg.SnoozeDelay = defaultSnoozeDelay
	}
	if cfg.EscalationDelay == 0 {
		cfg.EscalationDelay = defaultEscalationDelay
	}
	if syncNow == nil {
		syncNow = func() {}
	}
	return &Controller{
		cfg:        cfg,
		reminders:  reminders,
		voice:      voice,
		sched:      sched,
		actions:    actions,
		audio:      audio,
		haptics:    haptics,
		syncNow:    syncNow,
		log:        log,
		presenting: make(map[string]*presentation),
	}
}

// Presenting reports whether a reminder is currently on screen. Implements
// the reconciliation engine's presence check.
func (c *Controller) Presenting(reminderID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.presenting[reminderID]
	return ok
}

// HandleEvent routes a validated bridge event into the state machine.
func (c *Controller) HandleEvent(ctx context.Context, ev platform.Event) {
	var err error
	switch ev.Kind {
	case platform.EventDelivered:
		err = c.HandleDue(ctx, ev.ReminderID, SignalDelivery)
	case platform.EventResponse:
		switch ev.Action {
		case platform.ResponseConfirm:
			err = c.Confirm(ctx, ev.ReminderID)
		case platform.ResponseSnooze:
			err = c.Snooze(ctx, ev.ReminderID)
		case platform.ResponseOpen:
			err = c.HandleDue(ctx, ev.ReminderID, SignalTap)
		}
	}
	if err != nil {
		c.log.Warn("handle bridge event", "kind", ev.Kind, "reminder_id", ev.ReminderID, "error", err)
	}
}

// HandleDue moves a reminder into the delivered state and starts the
// presentation. Only the first signal per delivery cycle wins; duplicates
// from other sources are logged and ignored without restarting audio.
func (c *Controller) HandleDue(ctx context.Context, reminderID string, source Signal) error {
	c.mu.Lock()
	if _, ok := c.presenting[reminderID]; ok {
		c.mu.Unlock()
		c.log.Debug("duplicate due signal ignored", "reminder_id", reminderID, "source", source)
		return nil
	}

	r, err := c.reminders.Get(reminderID)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	if r == nil {
		c.mu.Unlock()
		c.log.Warn("due signal for unknown reminder", "reminder_id", reminderID, "source", source)
		return nil
	}
	if r.State.Terminal() {
		c.mu.Unlock()
		c.log.Debug("due signal for settled reminder ignored", "reminder_id", reminderID, "state", r.State)
		return nil
	}

	// Claim the presentation slot before any side effect so racing signal
	// sources bounce off the map, not off half-started audio.
	p := &presentation{}
	c.presenting[reminderID] = p
	p.escalation = time.AfterFunc(c.cfg.EscalationDelay, func() {
		c.escalate(context.WithoutCancel(ctx), reminderID)
	})
	c.mu.Unlock()

	if err := c.reminders.SetState(reminderID, model.StateDelivered, r.Escalations); err != nil {
		// Release the claim or every future due signal bounces off a slot
		// that never started presenting.
		p.escalation.Stop()
		c.mu.Lock()
		if cur := c.presenting[reminderID]; cur == p {
			delete(c.presenting, reminderID)
		}
		c.mu.Unlock()
		return err
	}

	c.log.Info("reminder presenting", "reminder_id", reminderID, "source", source, "medication", r.MedicationName)
	c.startAlert(ctx, r)
	return nil
}

// startAlert begins the looping audio and haptics for a presentation.
func (c *Controller) startAlert(ctx context.Context, r *model.StoredReminder) {
	uri := c.cfg.DefaultCueURI
	if a, err := c.voice.Get(r.PrescriptionID); err == nil && a != nil {
		uri = "file://" + a.LocalPath
	}
	if uri != "" {
		if err := c.audio.Start(ctx, uri, true); err != nil {
			c.log.Warn("start reminder audio", "reminder_id", r.ReminderID, "error", err)
		}
	}
	c.haptics.Start()
}

// escalate re-presents an unacknowledged reminder with heightened urgency,
// up to the cap.
func (c *Controller) escalate(ctx context.Context, reminderID string) {
	c.mu.Lock()
	p, ok := c.presenting[reminderID]
	if !ok {
		c.mu.Unlock()
		return
	}

	r, err := c.reminders.Get(reminderID)
	if err != nil || r == nil {
		c.mu.Unlock()
		return
	}

	count := r.Escalations + 1
	if count > maxEscalations {
		c.mu.Unlock()
		c.log.Warn("escalation cap reached, holding presentation", "reminder_id", reminderID, "escalations", r.Escalations)
		return
	}

	p.escalation = time.AfterFunc(c.cfg.EscalationDelay, func() {
		c.escalate(ctx, reminderID)
	})
	c.mu.Unlock()

	if err := c.reminders.SetState(reminderID, model.StateDelivered, count); err != nil {
		c.log.Warn("record escalation", "reminder_id", reminderID, "error", err)
		return
	}

	c.log.Info("reminder escalated", "reminder_id", reminderID, "escalation", count)
	c.startAlert(ctx, r)
}

// Confirm settles a reminder as taken: alert off, trigger gone, action
// queued for the server. Confirming an already settled reminder is a no-op.
func (c *Controller) Confirm(ctx context.Context, reminderID string) error {
	c.endPresentation(reminderID)

	r, err := c.reminders.Get(reminderID)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("confirm unknown reminder %s", reminderID)
	}
	if r.State.Terminal() {
		c.log.Debug("confirm on settled reminder ignored", "reminder_id", reminderID, "state", r.State)
		return nil
	}

	if err := c.sched.Cancel(ctx, reminderID); err != nil {
		return err
	}
	if err := c.reminders.SetState(reminderID, model.StateConfirmed, r.Escalations); err != nil {
		return err
	}
	if _, err := c.actions.Enqueue(model.ActionConfirm, reminderID); err != nil {
		return err
	}

	c.log.Info("reminder confirmed", "reminder_id", reminderID)
	c.syncNow()
	return nil
}

// Snooze settles the current occurrence and immediately schedules its
// replacement a configured delay out, with a fresh trigger handle.
func (c *Controller) Snooze(ctx context.Context, reminderID string) error {
	c.endPresentation(reminderID)

	r, err := c.reminders.Get(reminderID)
	if err != nil {
		return err
	}
	if r == nil {
		return fmt.Errorf("snooze unknown reminder %s", reminderID)
	}
	if r.State.Terminal() {
		c.log.Debug("snooze on settled reminder ignored", "reminder_id", reminderID, "state", r.State)
		return nil
	}

	if err := c.sched.Cancel(ctx, reminderID); err != nil {
		return err
	}
	if _, err := c.actions.Enqueue(model.ActionSnooze, reminderID); err != nil {
		return err
	}

	fireAt := time.Now().UTC().Add(c.cfg.SnoozeDelay)
	if err := c.reminders.Reschedule(reminderID, fireAt); err != nil {
		return err
	}
	replacement, err := c.reminders.Get(reminderID)
	if err != nil || replacement == nil {
		return fmt.Errorf("reload snoozed reminder %s: %w", reminderID, err)
	}
	if _, err := c.sched.Schedule(ctx, *replacement); err != nil {
		// No trigger placed, but the occurrence is stored; the due sweep
		// will present it at the snoozed time.
		c.log.Error("schedule snooze replacement", "reminder_id", reminderID, "error", err)
	}

	c.log.Info("reminder snoozed", "reminder_id", reminderID, "until", fireAt)
	c.syncNow()
	return nil
}

// endPresentation tears down the on-screen presentation: audio, haptics,
// escalation timer. Idempotent; safe when nothing is presenting.
func (c *Controller) endPresentation(reminderID string) {
	c.mu.Lock()
	p, ok := c.presenting[reminderID]
	if ok {
		delete(c.presenting, reminderID)
	}
	c.mu.Unlock()

	if ok && p.escalation != nil {
		p.escalation.Stop()
	}
	// Stop unconditionally: audio and haptics stops are idempotent and the
	// shared session may outlive the presentation record after a restart.
	c.audio.Stop()
	c.haptics.Stop()
}

// DueSweep presents every past-due reminder not already on screen: triggers
// the platform swallowed, and delivered reminders orphaned when a restart
// wiped the in-memory presentation. Run periodically as the third,
// poll-based signal source.
func (c *Controller) DueSweep(ctx context.Context) error {
	due, err := c.reminders.Due(time.Now().UTC())
	if err != nil {
		return fmt.Errorf("due sweep: %w", err)
	}
	for _, r := range due {
		if err := c.HandleDue(ctx, r.ReminderID, SignalSweep); err != nil {
			c.log.Warn("due sweep present", "reminder_id", r.ReminderID, "error", err)
		}
	}
	return nil
}
