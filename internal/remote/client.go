// Package remote is the client for the medication backend's reminder API.
// The backend itself (prescriptions, auth, messaging) is a separate system;
// the engine only consumes the endpoints declared here.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/calebdore/medtide/internal/model"
)

// Config holds remote API configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// Client talks to the Remote Reminder API over HTTPS with a bearer token.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

// ActionResult is the server's per-action outcome for a batch sync.
type ActionResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// VoiceAssetInfo describes the voice message recorded for a prescription.
type VoiceAssetInfo struct {
	URL             string `json:"url"`
	FileName        string `json:"file_name"`
	DurationSeconds int    `json:"duration_seconds"`
}

// SyncAction is the wire form of a queued offline action.
type SyncAction struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	ReminderID string    `json:"reminder_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewClient creates a remote API client.
func NewClient(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		log: log,
	}
	c.warnIfTokenStale()
	return c
}

// warnIfTokenStale parses the bearer token's exp claim without verifying the
// signature (verification is the server's job) and logs when the token is
// expired or about to expire, since every call will start failing with 401s.
func (c *Client) warnIfTokenStale() {
	if c.cfg.Token == "" {
		return
	}
	token, _, err := jwt.NewParser().ParseUnverified(c.cfg.Token, jwt.MapClaims{})
	if err != nil {
		return
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return
	}
	switch {
	case time.Now().After(exp.Time):
		c.log.Warn("api token is expired", "expired_at", exp.Time)
	case time.Until(exp.Time) < 24*time.Hour:
		c.log.Warn("api token expires soon", "expires_at", exp.Time)
	}
}

// Upcoming fetches the server's current reminder set for a patient.
func (c *Client) Upcoming(ctx context.Context, patientID string) ([]model.Reminder, error) {
	url := fmt.Sprintf("%s/api/patients/%s/reminders/upcoming", c.cfg.BaseURL, patientID)
	var reminders []model.Reminder
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &reminders); err != nil {
		return nil, fmt.Errorf("fetch upcoming reminders: %w", err)
	}
	return reminders, nil
}

// Confirm marks reminders as taken on the server.
func (c *Client) Confirm(ctx context.Context, reminderIDs []string) ([]ActionResult, error) {
	return c.postIDs(ctx, "/api/reminders/confirm", reminderIDs)
}

// Snooze marks reminders as snoozed on the server.
func (c *Client) Snooze(ctx context.Context, reminderIDs []string) ([]ActionResult, error) {
	return c.postIDs(ctx, "/api/reminders/snooze", reminderIDs)
}

func (c *Client) postIDs(ctx context.Context, path string, reminderIDs []string) ([]ActionResult, error) {
	req := struct {
		ReminderIDs []string `json:"reminder_ids"`
	}{ReminderIDs: reminderIDs}

	var results []ActionResult
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+path, req, &results); err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	return results, nil
}

// SyncOfflineActions batch-submits queued actions and returns the server's
// per-action outcomes.
func (c *Client) SyncOfflineActions(ctx context.Context, actions []SyncAction) ([]ActionResult, error) {
	req := struct {
		Actions []SyncAction `json:"actions"`
	}{Actions: actions}

	var results []ActionResult
	if err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/api/reminders/sync-actions", req, &results); err != nil {
		return nil, fmt.Errorf("sync offline actions: %w", err)
	}
	return results, nil
}

// VoiceAsset looks up the voice message metadata for a prescription.
func (c *Client) VoiceAsset(ctx context.Context, prescriptionID string) (*VoiceAssetInfo, error) {
	url := fmt.Sprintf("%s/api/prescriptions/%s/voice", c.cfg.BaseURL, prescriptionID)
	var info VoiceAssetInfo
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &info); err != nil {
		return nil, fmt.Errorf("fetch voice asset info: %w", err)
	}
	return &info, nil
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
