package store

import (
	"testing"
	"time"

	"github.com/calebdore/medtide/internal/database"
	"github.com/calebdore/medtide/internal/model"
)

func setupTestDB(t *testing.T) (*ReminderStore, *ActionStore, *VoiceStore, *SyncStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewReminderStore(db), NewActionStore(db), NewVoiceStore(db), NewSyncStore(db)
}

func testReminder(id string, at time.Time) model.Reminder {
	return model.Reminder{
		ReminderID:     id,
		PrescriptionID: "rx-1",
		MedicationName: "Metformin",
		Dosage:         "500mg",
		Instructions:   "with food",
		ScheduledFor:   at,
		PatientID:      "pat-1",
	}
}

func TestReminderPutGet(t *testing.T) {
	rs, _, _, _ := setupTestDB(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := rs.Put(testReminder("rem-1", at)); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := rs.Get("rem-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected reminder, got nil")
	}
	if got.MedicationName != "Metformin" {
		t.Errorf("medication = %q, want %q", got.MedicationName, "Metformin")
	}
	if got.State != model.StateScheduled {
		t.Errorf("state = %q, want %q", got.State, model.StateScheduled)
	}
	if !got.ScheduledFor.Equal(at) {
		t.Errorf("scheduled_for = %v, want %v", got.ScheduledFor, at)
	}

	missing, err := rs.Get("rem-none")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing reminder, got %+v", missing)
	}
}

func TestReminderPutResetsTriggerAndState(t *testing.T) {
	rs, _, _, _ := setupTestDB(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := rs.Put(testReminder("rem-1", at)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := rs.SetTrigger("rem-1", "handle-1", model.StrategyNativeAlarm); err != nil {
		t.Fatalf("set trigger: %v", err)
	}
	if err := rs.SetState("rem-1", model.StateDelivered, 2); err != nil {
		t.Fatalf("set state: %v", err)
	}

	// A replacement record (changed dosage) resets trigger and lifecycle.
	r := testReminder("rem-1", at)
	r.Dosage = "1000mg"
	if err := rs.Put(r); err != nil {
		t.Fatalf("put replacement: %v", err)
	}

	got, err := rs.Get("rem-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Dosage != "1000mg" {
		t.Errorf("dosage = %q, want %q", got.Dosage, "1000mg")
	}
	if got.TriggerHandle != "" || got.Strategy != "" {
		t.Errorf("trigger not cleared: handle=%q strategy=%q", got.TriggerHandle, got.Strategy)
	}
	if got.State != model.StateScheduled || got.Escalations != 0 {
		t.Errorf("lifecycle not reset: state=%q escalations=%d", got.State, got.Escalations)
	}
}

func TestReminderDue(t *testing.T) {
	rs, _, _, _ := setupTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := rs.Put(testReminder("past", now.Add(-time.Hour))); err != nil {
		t.Fatalf("put past: %v", err)
	}
	if err := rs.Put(testReminder("future", now.Add(time.Hour))); err != nil {
		t.Fatalf("put future: %v", err)
	}
	if err := rs.Put(testReminder("done", now.Add(-2*time.Hour))); err != nil {
		t.Fatalf("put done: %v", err)
	}
	if err := rs.SetState("done", model.StateConfirmed, 0); err != nil {
		t.Fatalf("set state: %v", err)
	}

	due, err := rs.Due(now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected 1 due reminder, got %d", len(due))
	}
	if due[0].ReminderID != "past" {
		t.Errorf("due[0] = %q, want %q", due[0].ReminderID, "past")
	}
}

// A delivered row whose fire time has passed is still awaiting an
// acknowledgement and must surface in the sweep, or a crash mid-presentation
// loses the reminder for good.
func TestReminderDueIncludesDelivered(t *testing.T) {
	rs, _, _, _ := setupTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := rs.Put(testReminder("orphaned", now.Add(-time.Hour))); err != nil {
		t.Fatalf("put orphaned: %v", err)
	}
	if err := rs.SetState("orphaned", model.StateDelivered, 1); err != nil {
		t.Fatalf("set delivered: %v", err)
	}
	if err := rs.Put(testReminder("settled", now.Add(-time.Hour))); err != nil {
		t.Fatalf("put settled: %v", err)
	}
	if err := rs.SetState("settled", model.StateConfirmed, 0); err != nil {
		t.Fatalf("set confirmed: %v", err)
	}

	due, err := rs.Due(now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ReminderID != "orphaned" {
		t.Fatalf("due = %+v, want only the orphaned delivered reminder", due)
	}
}

func TestReminderReschedule(t *testing.T) {
	rs, _, _, _ := setupTestDB(t)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	if err := rs.Put(testReminder("rem-1", at)); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := rs.SetTrigger("rem-1", "handle-1", model.StrategyChannelAlarm); err != nil {
		t.Fatalf("set trigger: %v", err)
	}
	if err := rs.SetState("rem-1", model.StateSnoozed, 1); err != nil {
		t.Fatalf("set state: %v", err)
	}

	later := at.Add(10 * time.Minute)
	if err := rs.Reschedule("rem-1", later); err != nil {
		t.Fatalf("reschedule: %v", err)
	}

	got, err := rs.Get("rem-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.ScheduledFor.Equal(later) {
		t.Errorf("scheduled_for = %v, want %v", got.ScheduledFor, later)
	}
	if got.State != model.StateScheduled {
		t.Errorf("state = %q, want scheduled", got.State)
	}
	if got.TriggerHandle != "" {
		t.Errorf("trigger handle not cleared: %q", got.TriggerHandle)
	}
	if got.Escalations != 0 {
		t.Errorf("escalations = %d, want 0", got.Escalations)
	}
}

func TestReminderDelete(t *testing.T) {
	rs, _, _, _ := setupTestDB(t)

	if err := rs.Put(testReminder("rem-1", time.Now())); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := rs.Delete("rem-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := rs.Get("rem-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil after delete, got %+v", got)
	}
	// Deleting again is harmless.
	if err := rs.Delete("rem-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
