package model

import "time"

// Reminder is a server-issued medication reminder occurrence. It is
// read-only on the device: when the prescription changes, the server sends
// a new record under the same ReminderID and reconciliation detects the diff.
type Reminder struct {
	ReminderID     string     `json:"reminder_id"`
	PrescriptionID string     `json:"prescription_id"`
	MedicationName string     `json:"medication_name"`
	Dosage         string     `json:"dosage"`
	Instructions   string     `json:"instructions,omitempty"`
	ScheduledFor   time.Time  `json:"scheduled_for"`
	PatientID      string     `json:"patient_id"`
	Voice          *VoiceRef  `json:"voice,omitempty"`
}

// VoiceRef points at the voice message recorded for a prescription.
type VoiceRef struct {
	URL             string `json:"url"`
	FileName        string `json:"file_name"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Strategy identifies which delivery strategy produced a trigger handle.
type Strategy string

const (
	StrategyNativeAlarm  Strategy = "native_alarm"
	StrategyChannelAlarm Strategy = "channel_alarm"
	StrategyFallback     Strategy = "fallback_notification"
)

// State is the lifecycle state of a reminder on this device.
type State string

const (
	StateScheduled State = "scheduled"
	StateDelivered State = "delivered"
	StateConfirmed State = "confirmed"
	StateSnoozed   State = "snoozed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateSnoozed
}

// StoredReminder is the durable device-side record for a reminder: the
// display fields needed to re-render without a network call plus the
// platform trigger that will fire for it, if any.
type StoredReminder struct {
	ReminderID     string    `json:"reminder_id"`
	PrescriptionID string    `json:"prescription_id"`
	MedicationName string    `json:"medication_name"`
	Dosage         string    `json:"dosage"`
	Instructions   string    `json:"instructions,omitempty"`
	ScheduledFor   time.Time `json:"scheduled_for"`
	PatientID      string    `json:"patient_id"`
	TriggerHandle  string    `json:"trigger_handle,omitempty"`
	Strategy       Strategy  `json:"strategy,omitempty"`
	State          State     `json:"state"`
	Escalations    int       `json:"escalations"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Changed reports whether the server record differs from the stored one in
// any field that requires a reschedule.
func (r StoredReminder) Changed(srv Reminder) bool {
	return r.MedicationName != srv.MedicationName ||
		r.Dosage != srv.Dosage ||
		r.PrescriptionID != srv.PrescriptionID
}
