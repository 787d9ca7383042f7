package trigger

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestFallbackRefusesWithoutSubscription(t *testing.T) {
	f := NewFallbackPush(Subscription{}, VAPIDConfig{}, slog.Default())

	_, err := f.Schedule(context.Background(), Request{
		ReminderID: "rem-1",
		FireAt:     time.Now().Add(time.Hour),
	})
	if err == nil {
		t.Fatal("expected refusal without a subscription")
	}
}

func TestFallbackScheduleAndCancel(t *testing.T) {
	f := NewFallbackPush(Subscription{Endpoint: "https://push.example.com/sub"}, VAPIDConfig{}, slog.Default())

	handle, err := f.Schedule(context.Background(), Request{
		ReminderID: "rem-1",
		FireAt:     time.Now().Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if handle == "" {
		t.Fatal("empty handle")
	}

	if err := f.Cancel(context.Background(), handle); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Cancelling the same handle again is a no-op.
	if err := f.Cancel(context.Background(), handle); err != nil {
		t.Fatalf("double cancel: %v", err)
	}

	f.mu.Lock()
	remaining := len(f.timers)
	f.mu.Unlock()
	if remaining != 0 {
		t.Errorf("timers still armed after cancel: %d", remaining)
	}
}

func TestFallbackHandlesAreDistinct(t *testing.T) {
	f := NewFallbackPush(Subscription{Endpoint: "https://push.example.com/sub"}, VAPIDConfig{}, slog.Default())
	defer func() {
		f.mu.Lock()
		for _, timer := range f.timers {
			timer.Stop()
		}
		f.mu.Unlock()
	}()

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		handle, err := f.Schedule(context.Background(), Request{
			ReminderID: "rem-1",
			FireAt:     time.Now().Add(time.Hour),
		})
		if err != nil {
			t.Fatalf("schedule: %v", err)
		}
		if seen[handle] {
			t.Fatalf("handle %q minted twice", handle)
		}
		seen[handle] = true
	}
}
