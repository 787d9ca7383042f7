package store

import (
	"database/sql"
	"fmt"

	"github.com/calebdore/medtide/internal/model"
)

// ActionStore is the durable backing of the offline action queue.
type ActionStore struct {
	db *sql.DB
}

func NewActionStore(db *sql.DB) *ActionStore {
	return &ActionStore{db: db}
}

const actionCols = `id, kind, reminder_id, created_at, retry_count, synced`

func scanAction(scanner interface{ Scan(...any) error }) (*model.QueuedAction, error) {
	var a model.QueuedAction
	err := scanner.Scan(&a.ID, &a.Kind, &a.ReminderID, &a.CreatedAt, &a.RetryCount, &a.Synced)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Insert records an action. The id is the idempotent submission key; a
// duplicate id is rejected by the primary key, never silently doubled.
func (s *ActionStore) Insert(a model.QueuedAction) error {
	_, err := s.db.Exec(
		`INSERT INTO queued_actions (id, kind, reminder_id, created_at, retry_count, synced)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.Kind, a.ReminderID, a.CreatedAt.UTC(), a.RetryCount, a.Synced,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

// ListUnsynced returns every action still awaiting server acknowledgment,
// oldest first.
func (s *ActionStore) ListUnsynced() ([]model.QueuedAction, error) {
	rows, err := s.db.Query(`SELECT ` + actionCols + ` FROM queued_actions WHERE synced = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list unsynced actions: %w", err)
	}
	defer rows.Close()

	var actions []model.QueuedAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, *a)
	}
	return actions, rows.Err()
}

func (s *ActionStore) Get(id string) (*model.QueuedAction, error) {
	row := s.db.QueryRow(`SELECT `+actionCols+` FROM queued_actions WHERE id = ?`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get action: %w", err)
	}
	return a, nil
}

// MarkSynced flags a batch of actions as acknowledged in one transaction.
func (s *ActionStore) MarkSynced(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, id := range ids {
		if _, err := tx.Exec(`UPDATE queued_actions SET synced = 1 WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("mark synced %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// IncrementRetry bumps the retry counter for a failed action and returns
// the new count.
func (s *ActionStore) IncrementRetry(id string) (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var count int
	if err := tx.QueryRow(`SELECT retry_count FROM queued_actions WHERE id = ?`, id).Scan(&count); err != nil {
		return 0, fmt.Errorf("read retry count: %w", err)
	}
	count++
	if _, err := tx.Exec(`UPDATE queued_actions SET retry_count = ? WHERE id = ?`, count, id); err != nil {
		return 0, fmt.Errorf("increment retry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return count, nil
}

// PurgeSynced removes acknowledged actions so the table stays small.
func (s *ActionStore) PurgeSynced() error {
	_, err := s.db.Exec(`DELETE FROM queued_actions WHERE synced = 1`)
	if err != nil {
		return fmt.Errorf("purge synced actions: %w", err)
	}
	return nil
}
