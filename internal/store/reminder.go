package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebdore/medtide/internal/model"
)

// ReminderStore persists every reminder known to this device, keyed by the
// server-issued reminder id.
type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

const reminderCols = `reminder_id, prescription_id, medication_name, dosage, instructions,
	scheduled_for, patient_id, trigger_handle, strategy, state, escalations, created_at, updated_at`

func scanReminder(scanner interface{ Scan(...any) error }) (*model.StoredReminder, error) {
	var r model.StoredReminder
	err := scanner.Scan(
		&r.ReminderID, &r.PrescriptionID, &r.MedicationName, &r.Dosage, &r.Instructions,
		&r.ScheduledFor, &r.PatientID, &r.TriggerHandle, &r.Strategy, &r.State,
		&r.Escalations, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Put inserts or replaces the record for a reminder. An existing row keeps
// its created_at; trigger handle and lifecycle state are reset because a
// replaced record always goes through scheduling again.
func (s *ReminderStore) Put(r model.Reminder) error {
	_, err := s.db.Exec(
		`INSERT INTO reminders (reminder_id, prescription_id, medication_name, dosage, instructions, scheduled_for, patient_id, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(reminder_id) DO UPDATE SET
			prescription_id = excluded.prescription_id,
			medication_name = excluded.medication_name,
			dosage = excluded.dosage,
			instructions = excluded.instructions,
			scheduled_for = excluded.scheduled_for,
			patient_id = excluded.patient_id,
			trigger_handle = '',
			strategy = '',
			state = excluded.state,
			escalations = 0,
			updated_at = CURRENT_TIMESTAMP`,
		r.ReminderID, r.PrescriptionID, r.MedicationName, r.Dosage, r.Instructions,
		r.ScheduledFor.UTC(), r.PatientID, model.StateScheduled,
	)
	if err != nil {
		return fmt.Errorf("put reminder: %w", err)
	}
	return nil
}

func (s *ReminderStore) Get(reminderID string) (*model.StoredReminder, error) {
	row := s.db.QueryRow(`SELECT `+reminderCols+` FROM reminders WHERE reminder_id = ?`, reminderID)
	r, err := scanReminder(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return r, nil
}

func (s *ReminderStore) List() ([]model.StoredReminder, error) {
	rows, err := s.db.Query(`SELECT ` + reminderCols + ` FROM reminders ORDER BY scheduled_for ASC`)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()

	var reminders []model.StoredReminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

// Due returns past-due reminders still awaiting acknowledgement: scheduled
// rows whose trigger never produced a signal, and delivered rows whose
// presentation died with the process. The sweep's de-dup keeps the second
// group from restarting a presentation that is still live.
func (s *ReminderStore) Due(now time.Time) ([]model.StoredReminder, error) {
	rows, err := s.db.Query(
		`SELECT `+reminderCols+` FROM reminders WHERE state IN (?, ?) AND scheduled_for <= ? ORDER BY scheduled_for ASC`,
		model.StateScheduled, model.StateDelivered, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list due reminders: %w", err)
	}
	defer rows.Close()

	var reminders []model.StoredReminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due reminder: %w", err)
		}
		reminders = append(reminders, *r)
	}
	return reminders, rows.Err()
}

func (s *ReminderStore) Delete(reminderID string) error {
	_, err := s.db.Exec(`DELETE FROM reminders WHERE reminder_id = ?`, reminderID)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	return nil
}

// SetTrigger records which strategy produced which handle for a reminder.
// The write is a transactional read-modify-write so that a concurrent
// snooze or sync cannot interleave between read and write.
func (s *ReminderStore) SetTrigger(reminderID, handle string, strategy model.Strategy) error {
	return s.inTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE reminders SET trigger_handle = ?, strategy = ?, updated_at = CURRENT_TIMESTAMP WHERE reminder_id = ?`,
			handle, strategy, reminderID,
		)
		if err != nil {
			return fmt.Errorf("set trigger: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("set trigger rows: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("set trigger: reminder %s not found", reminderID)
		}
		return nil
	})
}

// ClearTrigger drops the stored handle for a reminder. Clearing an already
// clear handle is a no-op.
func (s *ReminderStore) ClearTrigger(reminderID string) error {
	_, err := s.db.Exec(
		`UPDATE reminders SET trigger_handle = '', strategy = '', updated_at = CURRENT_TIMESTAMP WHERE reminder_id = ?`,
		reminderID,
	)
	if err != nil {
		return fmt.Errorf("clear trigger: %w", err)
	}
	return nil
}

func (s *ReminderStore) SetState(reminderID string, state model.State, escalations int) error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE reminders SET state = ?, escalations = ?, updated_at = CURRENT_TIMESTAMP WHERE reminder_id = ?`,
			state, escalations, reminderID,
		)
		if err != nil {
			return fmt.Errorf("set state: %w", err)
		}
		return nil
	})
}

// Reschedule moves a reminder to a new fire time and returns it to the
// scheduled state with its trigger cleared. Used for snooze replacements.
func (s *ReminderStore) Reschedule(reminderID string, fireAt time.Time) error {
	return s.inTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(
			`UPDATE reminders SET scheduled_for = ?, state = ?, trigger_handle = '', strategy = '', escalations = 0, updated_at = CURRENT_TIMESTAMP
			 WHERE reminder_id = ?`,
			fireAt.UTC(), model.StateScheduled, reminderID,
		)
		if err != nil {
			return fmt.Errorf("reschedule reminder: %w", err)
		}
		return nil
	})
}

func (s *ReminderStore) inTx(fn func(*sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
