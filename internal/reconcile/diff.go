// Package reconcile aligns the locally scheduled trigger set with the
// server's current reminder set.
package reconcile

import "github.com/calebdore/medtide/internal/model"

// Plan is the minimal set of operations that brings local state in line
// with the server set.
type Plan struct {
	ToSchedule   []model.Reminder
	ToReschedule []model.Reminder
	ToCancel     []string
}

// Empty reports whether the plan requires no work.
func (p Plan) Empty() bool {
	return len(p.ToSchedule) == 0 && len(p.ToReschedule) == 0 && len(p.ToCancel) == 0
}

// Diff computes the three-way difference between the server's reminder set
// and the local store. A reminder in both sets whose medication name,
// dosage, or prescription differs is classified as changed and treated like
// a new one: cancel-if-present, then reschedule. Runs in O(n) over the two
// sets using map lookups.
func Diff(server []model.Reminder, local map[string]model.StoredReminder) Plan {
	serverByID := make(map[string]model.Reminder, len(server))
	for _, r := range server {
		serverByID[r.ReminderID] = r
	}

	var plan Plan
	for _, srv := range server {
		stored, ok := local[srv.ReminderID]
		if !ok {
			plan.ToSchedule = append(plan.ToSchedule, srv)
			continue
		}
		if stored.Changed(srv) {
			plan.ToReschedule = append(plan.ToReschedule, srv)
		}
	}

	for id := range local {
		if _, ok := serverByID[id]; !ok {
			plan.ToCancel = append(plan.ToCancel, id)
		}
	}

	return plan
}
