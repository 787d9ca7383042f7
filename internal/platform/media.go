package platform

import (
	"context"
	"errors"
	"fmt"
)

// mediaRequest is the wire shape of an audio playback command.
type mediaRequest struct {
	URI  string `json:"uri"`
	Loop bool   `json:"loop"`
}

// Play asks the daemon to start playback and returns a session bound to the
// daemon-issued handle. Implements AudioPlayer.
func (b *Bridge) Play(ctx context.Context, uri string, loop bool) (AudioSession, error) {
	reply, err := b.roundTrip(ctx, command{Type: "play_audio", Media: &mediaRequest{URI: uri, Loop: loop}})
	if err != nil {
		return nil, err
	}
	if reply.Err != "" {
		return nil, fmt.Errorf("play audio: %s", reply.Err)
	}
	if reply.Handle == "" {
		return nil, errors.New("play audio: daemon returned no handle")
	}
	return &bridgeSession{bridge: b, handle: reply.Handle}, nil
}

// bridgeSession stops daemon-side playback by handle. Stopping a session the
// daemon already ended is success.
type bridgeSession struct {
	bridge *Bridge
	handle string
}

func (s *bridgeSession) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	reply, err := s.bridge.roundTrip(ctx, command{Type: "stop_audio", Handle: s.handle})
	if err != nil {
		s.bridge.log.Warn("stop audio command failed", "error", err)
		return
	}
	if reply.Err != "" && reply.Err != "unknown handle" {
		s.bridge.log.Warn("daemon rejected stop audio", "error", reply.Err)
	}
}

// BridgeHaptics drives the vibration motor through the daemon. Commands are
// fire-and-forget; a lost vibration is not worth failing a presentation over.
type BridgeHaptics struct {
	bridge *Bridge
}

func NewBridgeHaptics(b *Bridge) *BridgeHaptics {
	return &BridgeHaptics{bridge: b}
}

func (h *BridgeHaptics) Start() { h.send("haptics_start") }
func (h *BridgeHaptics) Stop()  { h.send("haptics_stop") }

func (h *BridgeHaptics) send(kind string) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if reply, err := h.bridge.roundTrip(ctx, command{Type: kind}); err != nil {
		h.bridge.log.Warn("haptics command failed", "kind", kind, "error", err)
	} else if reply.Err != "" {
		h.bridge.log.Warn("daemon rejected haptics command", "kind", kind, "error", reply.Err)
	}
}
