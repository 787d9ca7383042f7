// Package trigger turns reminders into device-level triggers through an
// ordered cascade of delivery strategies.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/calebdore/medtide/internal/model"
	"github.com/calebdore/medtide/internal/platform"
)

// Request is the strategy-independent description of a trigger.
type Request struct {
	ReminderID string
	FireAt     time.Time
	Title      string
	Body       string
	Urgent     bool
}

// Strategy is one way of getting a trigger onto the device. Each strategy
// fails independently of the others; the scheduler walks them in priority
// order until one accepts.
type Strategy interface {
	Name() model.Strategy
	Schedule(ctx context.Context, req Request) (handle string, err error)
	// Cancel by handle. Cancelling a handle the strategy no longer knows
	// (already fired, already cancelled) is a no-op.
	Cancel(ctx context.Context, handle string) error
}

// surfaceStrategy schedules through the platform notification daemon with a
// given trigger class. Both the native exact alarm and the channel alarm
// are this strategy with different classes.
type surfaceStrategy struct {
	name    model.Strategy
	class   platform.TriggerClass
	surface platform.Surface
}

// NewNativeAlarm returns the highest-priority strategy: a privileged exact
// alarm. The daemon refuses it when the alarm permission is denied.
func NewNativeAlarm(surface platform.Surface) Strategy {
	return &surfaceStrategy{name: model.StrategyNativeAlarm, class: platform.ClassExact, surface: surface}
}

// NewChannelAlarm returns the high-priority notification channel strategy.
func NewChannelAlarm(surface platform.Surface) Strategy {
	return &surfaceStrategy{name: model.StrategyChannelAlarm, class: platform.ClassChannel, surface: surface}
}

func (s *surfaceStrategy) Name() model.Strategy { return s.name }

func (s *surfaceStrategy) Schedule(ctx context.Context, req Request) (string, error) {
	handle, err := s.surface.ScheduleTrigger(ctx, platform.TriggerRequest{
		ReminderID: req.ReminderID,
		FireAt:     req.FireAt.UTC(),
		Class:      s.class,
		Title:      req.Title,
		Body:       req.Body,
		Urgent:     req.Urgent,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}
	return handle, nil
}

func (s *surfaceStrategy) Cancel(ctx context.Context, handle string) error {
	if err := s.surface.CancelTrigger(ctx, handle); err != nil {
		return fmt.Errorf("%s cancel: %w", s.name, err)
	}
	return nil
}
