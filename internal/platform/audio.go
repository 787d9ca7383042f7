package platform

import (
	"context"
	"fmt"
	"sync"
)

// AudioSession is one running playback. Stop must be idempotent.
type AudioSession interface {
	Stop()
}

// AudioPlayer plays one audio stream through the device speaker.
type AudioPlayer interface {
	Play(ctx context.Context, uri string, loop bool) (AudioSession, error)
}

// SilentPlayer satisfies AudioPlayer on devices with no audio path. The
// reminder still presents; it just makes no sound.
type SilentPlayer struct{}

func (SilentPlayer) Play(ctx context.Context, uri string, loop bool) (AudioSession, error) {
	return silentSession{}, nil
}

type silentSession struct{}

func (silentSession) Stop() {}

// SessionGuard enforces the single-playback invariant: at most one
// reminder's audio plays at a time. Starting a new session first stops the
// previous one; Stop on an idle guard is a no-op.
type SessionGuard struct {
	player AudioPlayer

	mu      sync.Mutex
	current AudioSession
}

func NewSessionGuard(player AudioPlayer) *SessionGuard {
	return &SessionGuard{player: player}
}

// Start stops any running session, then starts playback of uri.
func (g *SessionGuard) Start(ctx context.Context, uri string, loop bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != nil {
		g.current.Stop()
		g.current = nil
	}

	session, err := g.player.Play(ctx, uri, loop)
	if err != nil {
		return fmt.Errorf("start audio: %w", err)
	}
	g.current = session
	return nil
}

// Stop halts the running session if there is one.
func (g *SessionGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.current != nil {
		g.current.Stop()
		g.current = nil
	}
}
