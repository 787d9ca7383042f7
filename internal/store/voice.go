package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebdore/medtide/internal/model"
)

// VoiceStore maps prescription ids to locally cached voice message files.
type VoiceStore struct {
	db *sql.DB
}

func NewVoiceStore(db *sql.DB) *VoiceStore {
	return &VoiceStore{db: db}
}

func (s *VoiceStore) Get(prescriptionID string) (*model.VoiceAsset, error) {
	row := s.db.QueryRow(
		`SELECT prescription_id, local_path, source_url, created_at FROM voice_assets WHERE prescription_id = ?`,
		prescriptionID,
	)
	var a model.VoiceAsset
	err := row.Scan(&a.PrescriptionID, &a.LocalPath, &a.SourceURL, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get voice asset: %w", err)
	}
	return &a, nil
}

func (s *VoiceStore) Put(prescriptionID, localPath, sourceURL string) error {
	_, err := s.db.Exec(
		`INSERT INTO voice_assets (prescription_id, local_path, source_url)
		 VALUES (?, ?, ?)
		 ON CONFLICT(prescription_id) DO UPDATE SET local_path = excluded.local_path, source_url = excluded.source_url`,
		prescriptionID, localPath, sourceURL,
	)
	if err != nil {
		return fmt.Errorf("put voice asset: %w", err)
	}
	return nil
}

func (s *VoiceStore) List() ([]model.VoiceAsset, error) {
	rows, err := s.db.Query(`SELECT prescription_id, local_path, source_url, created_at FROM voice_assets`)
	if err != nil {
		return nil, fmt.Errorf("list voice assets: %w", err)
	}
	defer rows.Close()

	var assets []model.VoiceAsset
	for rows.Next() {
		var a model.VoiceAsset
		if err := rows.Scan(&a.PrescriptionID, &a.LocalPath, &a.SourceURL, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan voice asset: %w", err)
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (s *VoiceStore) Delete(prescriptionID string) error {
	_, err := s.db.Exec(`DELETE FROM voice_assets WHERE prescription_id = ?`, prescriptionID)
	if err != nil {
		return fmt.Errorf("delete voice asset: %w", err)
	}
	return nil
}

// SyncStore holds single-value engine settings, currently the timestamp of
// the last successful reconciliation.
type SyncStore struct {
	db *sql.DB
}

func NewSyncStore(db *sql.DB) *SyncStore {
	return &SyncStore{db: db}
}

const lastSyncKey = "last_sync"

// LastSync returns the time of the last successful sync, or the zero time
// if the device has never synced.
func (s *SyncStore) LastSync() (time.Time, error) {
	var raw string
	err := s.db.QueryRow(`SELECT value FROM engine_settings WHERE key = ?`, lastSyncKey).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get last sync: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last sync: %w", err)
	}
	return t, nil
}

func (s *SyncStore) SetLastSync(t time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO engine_settings (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		lastSyncKey, t.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("set last sync: %w", err)
	}
	return nil
}
