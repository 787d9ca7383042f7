// Package voice caches prescription voice messages on local disk. Assets
// are content-addressed by prescription id, not URL: one recording serves
// every occurrence of the prescription.
package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/calebdore/medtide/internal/store"
)

// ErrUnavailable means the asset could not be downloaded. Callers that only
// want to schedule a reminder treat it as non-fatal and fall back to the
// default alert cue.
var ErrUnavailable = errors.New("voice asset unavailable")

// Cache downloads each prescription's voice message at most once and
// memoizes the local path.
type Cache struct {
	dir        string
	assets     *store.VoiceStore
	httpClient *http.Client
	log        *slog.Logger

	mu sync.Mutex
}

func NewCache(dir string, assets *store.VoiceStore, log *slog.Logger) *Cache {
	return &Cache{
		dir:    dir,
		assets: assets,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log,
	}
}

// Get returns the local path for a prescription's voice message,
// downloading it on first reference. Subsequent calls hit the cache with no
// network round-trip.
func (c *Cache) Get(ctx context.Context, prescriptionID, sourceURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if a, err := c.assets.Get(prescriptionID); err != nil {
		return "", err
	} else if a != nil {
		if _, err := os.Stat(a.LocalPath); err == nil {
			return a.LocalPath, nil
		}
		// Row without a file: the cache dir was cleared. Re-download.
		c.log.Warn("cached voice file missing, re-downloading", "prescription_id", prescriptionID)
	}

	localPath := filepath.Join(c.dir, prescriptionID+extFromURL(sourceURL))
	if err := c.download(ctx, sourceURL, localPath); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := c.assets.Put(prescriptionID, localPath, sourceURL); err != nil {
		return "", err
	}

	c.log.Info("voice asset cached", "prescription_id", prescriptionID, "path", localPath)
	return localPath, nil
}

func (c *Cache) download(ctx context.Context, sourceURL, dest string) error {
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("asset server returned %d", resp.StatusCode)
	}

	// Write through a temp file so a torn download never looks cached.
	tmp, err := os.CreateTemp(c.dir, "voice-*.part")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("write asset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return fmt.Errorf("finalize asset: %w", err)
	}
	return nil
}

// Prune removes cached assets for prescriptions no longer referenced by any
// stored reminder. This is the cache's only expiry mechanism.
func (c *Cache) Prune(live map[string]bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	assets, err := c.assets.List()
	if err != nil {
		return err
	}

	for _, a := range assets {
		if live[a.PrescriptionID] {
			continue
		}
		if err := os.Remove(a.LocalPath); err != nil && !os.IsNotExist(err) {
			c.log.Warn("remove stale voice file", "path", a.LocalPath, "error", err)
		}
		if err := c.assets.Delete(a.PrescriptionID); err != nil {
			return err
		}
		c.log.Debug("pruned voice asset", "prescription_id", a.PrescriptionID)
	}
	return nil
}

func extFromURL(sourceURL string) string {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return ".mp3"
	}
	if ext := path.Ext(u.Path); ext != "" {
		return ext
	}
	return ".mp3"
}
