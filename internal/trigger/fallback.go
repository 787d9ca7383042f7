package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"

	"github.com/calebdore/medtide/internal/model"
)

// Subscription is the patient's companion-browser push subscription,
// registered out of band.
type Subscription struct {
	Endpoint  string
	P256dhKey string
	AuthKey   string
}

// VAPIDConfig holds the web push signing keys.
type VAPIDConfig struct {
	PublicKey  string
	PrivateKey string
	Subscriber string
}

// pushPayload is the JSON delivered to the push service.
type pushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// FallbackPush is the last-resort strategy: the engine holds the timer
// itself and sends a web push to the patient's companion browser at fire
// time. It works even when the notification daemon is unreachable, at the
// cost of delivery precision.
type FallbackPush struct {
	sub   Subscription
	vapid VAPIDConfig
	log   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewFallbackPush(sub Subscription, vapid VAPIDConfig, log *slog.Logger) *FallbackPush {
	return &FallbackPush{
		sub:    sub,
		vapid:  vapid,
		log:    log,
		timers: make(map[string]*time.Timer),
	}
}

func (f *FallbackPush) Name() model.Strategy { return model.StrategyFallback }

// Schedule arms a timer for the fire instant and mints a local handle for
// later cancellation. A subscription must exist or the strategy refuses,
// letting the caller surface a scheduling failure.
func (f *FallbackPush) Schedule(_ context.Context, req Request) (string, error) {
	if f.sub.Endpoint == "" {
		return "", fmt.Errorf("%s: no push subscription registered", model.StrategyFallback)
	}

	handle := "fallback-" + uuid.NewString()
	payload := pushPayload{Title: req.Title, Body: req.Body, Tag: req.ReminderID}

	delay := time.Until(req.FireAt)
	if delay < 0 {
		delay = 0
	}

	f.mu.Lock()
	f.timers[handle] = time.AfterFunc(delay, func() {
		f.mu.Lock()
		delete(f.timers, handle)
		f.mu.Unlock()
		f.send(payload)
	})
	f.mu.Unlock()

	return handle, nil
}

// Cancel disarms the timer for a handle. An unknown handle means the timer
// already fired or was cancelled; that is a no-op.
func (f *FallbackPush) Cancel(_ context.Context, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, ok := f.timers[handle]; ok {
		t.Stop()
		delete(f.timers, handle)
	}
	return nil
}

func (f *FallbackPush) send(payload pushPayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		f.log.Error("marshal fallback push payload", "error", err)
		return
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: f.sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: f.sub.P256dhKey,
			Auth:   f.sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  f.vapid.PublicKey,
		VAPIDPrivateKey: f.vapid.PrivateKey,
		Subscriber:      f.vapid.Subscriber,
		TTL:             3600,
	})
	if err != nil {
		f.log.Warn("fallback push send failed", "tag", payload.Tag, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone || resp.StatusCode >= 400 {
		// Subscription gone or push service balked. The reminder still
		// exists locally; the due sweep will pick it up.
		f.log.Warn("fallback push rejected", "tag", payload.Tag, "status", resp.StatusCode)
	}
}
