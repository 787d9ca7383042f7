package model

import "time"

// ActionKind constants
const (
	ActionConfirm = "confirm"
	ActionSnooze  = "snooze"
)

// QueuedAction is a confirm/snooze decision recorded locally before the
// server has acknowledged it. ID doubles as the idempotent submission key.
type QueuedAction struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ReminderID string    `json:"reminder_id"`
	CreatedAt  time.Time `json:"created_at"`
	RetryCount int       `json:"retry_count"`
	Synced     bool      `json:"synced"`
}

// VoiceAsset maps a prescription to its locally cached voice message.
// Keyed by prescription, not reminder: one recording serves every occurrence.
type VoiceAsset struct {
	PrescriptionID string    `json:"prescription_id"`
	LocalPath      string    `json:"local_path"`
	SourceURL      string    `json:"source_url"`
	CreatedAt      time.Time `json:"created_at"`
}
