package reconcile

import (
	"testing"
	"time"

	"github.com/calebdore/medtide/internal/model"
)

func srvReminder(id, medication, dosage string, at time.Time) model.Reminder {
	return model.Reminder{
		ReminderID:     id,
		PrescriptionID: "rx-" + id,
		MedicationName: medication,
		Dosage:         dosage,
		ScheduledFor:   at,
		PatientID:      "pat-1",
	}
}

func asStored(r model.Reminder) model.StoredReminder {
	return model.StoredReminder{
		ReminderID:     r.ReminderID,
		PrescriptionID: r.PrescriptionID,
		MedicationName: r.MedicationName,
		Dosage:         r.Dosage,
		ScheduledFor:   r.ScheduledFor,
		PatientID:      r.PatientID,
		State:          model.StateScheduled,
	}
}

func localSet(reminders ...model.Reminder) map[string]model.StoredReminder {
	m := make(map[string]model.StoredReminder, len(reminders))
	for _, r := range reminders {
		m[r.ReminderID] = asStored(r)
	}
	return m
}

// The server scenario from the reliability checklist: empty local store,
// then a dosage change, then a removal.
func TestDiffScenario(t *testing.T) {
	t10 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	a := srvReminder("A", "Metformin", "500mg", t10)
	b := srvReminder("B", "Lisinopril", "10mg", t10.Add(5*time.Minute))

	// Empty local store: both get scheduled.
	plan := Diff([]model.Reminder{a, b}, nil)
	if len(plan.ToSchedule) != 2 || len(plan.ToReschedule) != 0 || len(plan.ToCancel) != 0 {
		t.Fatalf("initial plan = %+v, want schedule [A B]", plan)
	}

	// A's dosage changes: reschedule A only.
	local := localSet(a, b)
	a2 := a
	a2.Dosage = "1000mg"
	plan = Diff([]model.Reminder{a2, b}, local)
	if len(plan.ToSchedule) != 0 {
		t.Errorf("toSchedule = %v, want empty", plan.ToSchedule)
	}
	if len(plan.ToReschedule) != 1 || plan.ToReschedule[0].ReminderID != "A" {
		t.Errorf("toReschedule = %v, want [A]", plan.ToReschedule)
	}
	if len(plan.ToCancel) != 0 {
		t.Errorf("toCancel = %v, want empty", plan.ToCancel)
	}

	// Server drops B: cancel B.
	local = localSet(a2, b)
	plan = Diff([]model.Reminder{a2}, local)
	if !planOnlyCancels(plan, "B") {
		t.Errorf("plan = %+v, want cancel [B] only", plan)
	}
}

func planOnlyCancels(p Plan, id string) bool {
	return len(p.ToSchedule) == 0 && len(p.ToReschedule) == 0 &&
		len(p.ToCancel) == 1 && p.ToCancel[0] == id
}

// Reconciling an unchanged set is idempotent: the second diff is empty.
func TestDiffIdempotent(t *testing.T) {
	t10 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	server := []model.Reminder{
		srvReminder("A", "Metformin", "500mg", t10),
		srvReminder("B", "Lisinopril", "10mg", t10.Add(5*time.Minute)),
	}

	plan := Diff(server, localSet(server...))
	if !plan.Empty() {
		t.Fatalf("expected empty plan for unchanged set, got %+v", plan)
	}
}

func TestDiffChangedFields(t *testing.T) {
	t10 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	base := srvReminder("A", "Metformin", "500mg", t10)

	cases := []struct {
		name   string
		mutate func(*model.Reminder)
		want   bool
	}{
		{"medication name", func(r *model.Reminder) { r.MedicationName = "Metformin XR" }, true},
		{"dosage", func(r *model.Reminder) { r.Dosage = "850mg" }, true},
		{"prescription id", func(r *model.Reminder) { r.PrescriptionID = "rx-new" }, true},
		{"instructions only", func(r *model.Reminder) { r.Instructions = "before bed" }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			changed := base
			tc.mutate(&changed)
			plan := Diff([]model.Reminder{changed}, localSet(base))
			got := len(plan.ToReschedule) == 1
			if got != tc.want {
				t.Errorf("reschedule = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestDiffDisjointSets(t *testing.T) {
	t10 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	oldR := srvReminder("old", "Aspirin", "81mg", t10)
	newR := srvReminder("new", "Metformin", "500mg", t10)

	plan := Diff([]model.Reminder{newR}, localSet(oldR))
	if len(plan.ToSchedule) != 1 || plan.ToSchedule[0].ReminderID != "new" {
		t.Errorf("toSchedule = %v", plan.ToSchedule)
	}
	if len(plan.ToCancel) != 1 || plan.ToCancel[0] != "old" {
		t.Errorf("toCancel = %v", plan.ToCancel)
	}
}
