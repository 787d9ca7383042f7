package lifecycle

import (
	"context"
	"sync"
	"time"
)

// Sweeper periodically runs the controller's due sweep, the poll-based
// backstop for triggers the platform swallowed.
type Sweeper struct {
	mu         sync.RWMutex
	controller *Controller
	interval   time.Duration
	cancel     context.CancelFunc
	done       chan struct{}
}

func NewSweeper(controller *Controller, interval time.Duration) *Sweeper {
	if interval == 0 {
		interval = time.Minute
	}
	return &Sweeper{controller: controller, interval: interval}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.controller.DueSweep(ctx); err != nil {
					s.controller.log.Warn("due sweep", "error", err)
				}
			}
		}
	}()
}

// Stop gracefully stops the sweep loop.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}
