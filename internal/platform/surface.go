// Package platform is the boundary to the device's notification daemon:
// scheduling and cancelling triggers, receiving delivery/response events,
// and driving the single audio playback session.
package platform

import (
	"context"
	"time"
)

// TriggerClass selects how the daemon should deliver a trigger.
type TriggerClass string

const (
	// ClassExact requests a privileged exact alarm. May be refused when the
	// alarm permission is denied.
	ClassExact TriggerClass = "exact"
	// ClassChannel requests a high-priority notification channel alarm.
	ClassChannel TriggerClass = "channel"
	// ClassStandard is the plain notification path.
	ClassStandard TriggerClass = "standard"
)

// TriggerRequest describes a platform trigger to schedule. FireAt is an
// absolute instant; the daemon owns any wall-clock conversion.
type TriggerRequest struct {
	ReminderID string       `json:"reminder_id"`
	FireAt     time.Time    `json:"fire_at"`
	Class      TriggerClass `json:"class"`
	Title      string       `json:"title"`
	Body       string       `json:"body"`
	Urgent     bool         `json:"urgent"`
}

// Surface schedules and cancels device-level triggers. CancelTrigger on a
// handle the platform has already fired (or never knew) must be a no-op.
type Surface interface {
	ScheduleTrigger(ctx context.Context, req TriggerRequest) (handle string, err error)
	CancelTrigger(ctx context.Context, handle string) error
}

// Haptics drives device vibration while a reminder is presenting. Stop must
// be idempotent.
type Haptics interface {
	Start()
	Stop()
}

// NoopHaptics is used on devices without a vibration motor.
type NoopHaptics struct{}

func (NoopHaptics) Start() {}
func (NoopHaptics) Stop()  {}
