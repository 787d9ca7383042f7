package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	ws "github.com/coder/websocket"

	"github.com/google/uuid"
)

const (
	pingInterval   = 30 * time.Second
	commandTimeout = 10 * time.Second
)

// Bridge implements Surface over a websocket connection to the local
// notification daemon and feeds inbound delivery/response events to a
// handler. Commands are correlated with their replies by request id.
type Bridge struct {
	conn *ws.Conn
	log  *slog.Logger

	// handler is read by the pump goroutine and may be installed after the
	// pump is already running, so access goes through an atomic pointer.
	handler atomic.Pointer[func(Event)]

	mu      sync.Mutex
	pending map[string]chan commandReply

	cancel context.CancelFunc
	done   chan struct{}
}

type command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id"`
	Trigger   *TriggerRequest `json:"trigger,omitempty"`
	Media     *mediaRequest   `json:"media,omitempty"`
	Handle    string          `json:"handle,omitempty"`
}

type commandReply struct {
	Handle string
	Err    string
}

// envelope is the wire shape of every inbound bridge frame.
type envelope struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
	Handle    string `json:"handle"`
	Error     string `json:"error"`
}

// Dial connects to the notification daemon and starts the read pump. Events
// are delivered to onEvent; malformed payloads are logged and dropped. A
// caller whose handler is not ready yet may pass nil and install it with
// SetHandler; events arriving in between are dropped.
func Dial(ctx context.Context, url string, onEvent func(Event), log *slog.Logger) (*Bridge, error) {
	conn, _, err := ws.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial notification bridge: %w", err)
	}

	b := &Bridge{
		conn:    conn,
		log:     log,
		pending: make(map[string]chan commandReply),
		done:    make(chan struct{}),
	}
	if onEvent != nil {
		b.handler.Store(&onEvent)
	}

	ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	go b.readPump(ctx)
	go b.pingLoop(ctx)

	return b, nil
}

// SetHandler installs the event handler. Safe to call while the read pump
// is running; the atomic store also publishes everything the caller wired
// up before installing it.
func (b *Bridge) SetHandler(onEvent func(Event)) {
	b.handler.Store(&onEvent)
}

// Close tears the connection down and unblocks any in-flight commands.
func (b *Bridge) Close() {
	b.cancel()
	b.conn.Close(ws.StatusNormalClosure, "shutting down")
	<-b.done
}

func (b *Bridge) readPump(ctx context.Context) {
	defer close(b.done)
	defer b.failPending()

	for {
		_, raw, err := b.conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				b.log.Warn("bridge connection lost", "error", err)
			}
			return
		}
		b.dispatch(raw)
	}
}

func (b *Bridge) dispatch(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.log.Warn("dropping undecodable bridge frame", "error", err)
		return
	}

	if env.Type == "result" {
		b.mu.Lock()
		ch, ok := b.pending[env.RequestID]
		if ok {
			delete(b.pending, env.RequestID)
		}
		b.mu.Unlock()
		if ok {
			ch <- commandReply{Handle: env.Handle, Err: env.Error}
		}
		return
	}

	ev, err := DecodeEvent(raw)
	if err != nil {
		// Fail closed: a malformed event never reaches the controller.
		b.log.Warn("dropping malformed bridge event", "error", err)
		return
	}
	h := b.handler.Load()
	if h == nil {
		b.log.Debug("no event handler installed, dropping event", "reminder_id", ev.ReminderID)
		return
	}
	(*h)(ev)
}

func (b *Bridge) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := b.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) failPending() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.pending {
		delete(b.pending, id)
		ch <- commandReply{Err: "bridge connection closed"}
	}
}

// ScheduleTrigger asks the daemon to schedule a trigger and returns the
// daemon-issued handle.
func (b *Bridge) ScheduleTrigger(ctx context.Context, req TriggerRequest) (string, error) {
	reply, err := b.roundTrip(ctx, command{Type: "schedule", Trigger: &req})
	if err != nil {
		return "", err
	}
	if reply.Err != "" {
		return "", fmt.Errorf("schedule trigger: %s", reply.Err)
	}
	if reply.Handle == "" {
		return "", errors.New("schedule trigger: daemon returned no handle")
	}
	return reply.Handle, nil
}

// CancelTrigger asks the daemon to cancel a trigger by handle. An unknown or
// already-fired handle is success, not an error.
func (b *Bridge) CancelTrigger(ctx context.Context, handle string) error {
	reply, err := b.roundTrip(ctx, command{Type: "cancel", Handle: handle})
	if err != nil {
		return err
	}
	if reply.Err != "" && reply.Err != "unknown handle" {
		return fmt.Errorf("cancel trigger: %s", reply.Err)
	}
	return nil
}

func (b *Bridge) roundTrip(ctx context.Context, cmd command) (commandReply, error) {
	cmd.RequestID = uuid.NewString()

	ch := make(chan commandReply, 1)
	b.mu.Lock()
	b.pending[cmd.RequestID] = ch
	b.mu.Unlock()

	raw, err := json.Marshal(cmd)
	if err != nil {
		b.forget(cmd.RequestID)
		return commandReply{}, fmt.Errorf("marshal command: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := b.conn.Write(ctx, ws.MessageText, raw); err != nil {
		b.forget(cmd.RequestID)
		return commandReply{}, fmt.Errorf("write command: %w", err)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-ctx.Done():
		b.forget(cmd.RequestID)
		return commandReply{}, fmt.Errorf("bridge command: %w", ctx.Err())
	}
}

func (b *Bridge) forget(requestID string) {
	b.mu.Lock()
	delete(b.pending, requestID)
	b.mu.Unlock()
}
