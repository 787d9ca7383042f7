// Package backup snapshots the engine's state database to S3-compatible
// storage, encrypted with a device passphrase, so reminders and pending
// offline actions survive device replacement.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// Config holds snapshot manager configuration.
type Config struct {
	S3         S3Config
	DBPath     string
	DeviceID   string
	Passphrase string
	Interval   time.Duration
}

// Manager periodically uploads encrypted snapshots of the state database.
// Disabled when S3 credentials are absent; the engine runs fine without it.
type Manager struct {
	mu      sync.RWMutex
	cfg     Config
	db      *sql.DB
	client  s3Client
	log     *slog.Logger
	lastRun time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(cfg Config, db *sql.DB, log *slog.Logger) *Manager {
	if cfg.Interval == 0 {
		cfg.Interval = 6 * time.Hour
	}
	m := &Manager{cfg: cfg, db: db, log: log}
	if cfg.S3.Bucket != "" && cfg.S3.AccessKey != "" && cfg.S3.SecretKey != "" {
		m.client = newS3Client(cfg.S3)
	}
	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether snapshotting is configured.
func (m *Manager) Enabled() bool {
	return m.client != nil
}

// Start begins the periodic snapshot loop. A no-op when disabled.
func (m *Manager) Start(ctx context.Context) {
	if !m.Enabled() {
		return
	}

	m.mu.Lock()
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := m.Snapshot(ctx); err != nil {
					m.log.Warn("scheduled snapshot failed", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the snapshot loop.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (m *Manager) objectKey() string {
	return fmt.Sprintf("snapshots/%s/state-latest.db.enc", m.cfg.DeviceID)
}

// Snapshot checkpoints the WAL, encrypts a copy of the database, and
// uploads it under a stable per-device key.
func (m *Manager) Snapshot(ctx context.Context) error {
	if !m.Enabled() {
		return fmt.Errorf("snapshot not configured: S3 credentials missing")
	}

	tmpDir := os.TempDir()
	dbCopy := filepath.Join(tmpDir, fmt.Sprintf("medtide-snapshot-%d.db", time.Now().UnixNano()))
	encFile := dbCopy + ".enc"
	defer os.Remove(dbCopy)
	defer os.Remove(encFile)

	if _, err := m.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("wal checkpoint: %w", err)
	}
	if err := copyFile(m.cfg.DBPath, dbCopy); err != nil {
		return fmt.Errorf("copy database: %w", err)
	}

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}
	if err := EncryptFile(dbCopy, encFile, m.cfg.Passphrase, salt); err != nil {
		return fmt.Errorf("encrypt snapshot: %w", err)
	}

	f, err := os.Open(encFile)
	if err != nil {
		return fmt.Errorf("open encrypted snapshot: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat encrypted snapshot: %w", err)
	}

	_, err = m.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.S3.Bucket),
		Key:           aws.String(m.objectKey()),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return fmt.Errorf("upload snapshot: %w", err)
	}

	m.mu.Lock()
	m.lastRun = time.Now().UTC()
	m.mu.Unlock()

	m.log.Info("state snapshot uploaded", "key", m.objectKey(), "bytes", stat.Size())
	return nil
}

// Restore downloads the latest snapshot and decrypts it over dbPath. Called
// only before the database is opened, on a device with no local state.
func (m *Manager) Restore(ctx context.Context, dbPath string) error {
	if !m.Enabled() {
		return fmt.Errorf("restore not configured: S3 credentials missing")
	}

	out, err := m.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.S3.Bucket),
		Key:    aws.String(m.objectKey()),
	})
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	defer out.Body.Close()

	encFile := filepath.Join(os.TempDir(), fmt.Sprintf("medtide-restore-%d.db.enc", time.Now().UnixNano()))
	defer os.Remove(encFile)

	f, err := os.Create(encFile)
	if err != nil {
		return fmt.Errorf("create restore file: %w", err)
	}
	if _, err := f.ReadFrom(out.Body); err != nil {
		f.Close()
		return fmt.Errorf("write restore file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close restore file: %w", err)
	}

	if err := DecryptFile(encFile, dbPath, m.cfg.Passphrase); err != nil {
		return fmt.Errorf("decrypt snapshot: %w", err)
	}

	m.log.Info("state restored from snapshot", "key", m.objectKey())
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o600)
}
