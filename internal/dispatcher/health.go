package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/lynkr/lynkr/internal/actor"
)

// healthTickMessage is sent on a timer to make the health tracker re-poll
// the breaker registry; it satisfies actor.Message.
type healthTickMessage struct{}

func (healthTickMessage) Type() string { return "health.tick" }

// HealthTracker is a process-wide actor.Actor that periodically snapshots
// the breaker registry, giving /health/live?verbose=1 a cheap read
// without taking any breaker's mutex on the request path.
type HealthTracker struct {
	registry *Registry
	interval time.Duration
	stopCh   chan struct{}

	mu           sync.RWMutex
	lastSnapshot map[string]BreakerState
}

// NewHealthTracker constructs a tracker over registry, polling every
// interval (defaults to 5s, matching the teacher's
// DefaultHealthCheckInterval).
func NewHealthTracker(registry *Registry, interval time.Duration) *HealthTracker {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &HealthTracker{registry: registry, interval: interval, stopCh: make(chan struct{})}
}

func (h *HealthTracker) ID() string { return "health-tracker" }

func (h *HealthTracker) Receive(ctx context.Context, msg actor.Message) error {
	if _, ok := msg.(healthTickMessage); ok {
		snapshot := h.registry.Snapshot()
		h.mu.Lock()
		h.lastSnapshot = snapshot
		h.mu.Unlock()
	}
	return nil
}

func (h *HealthTracker) Start(ctx context.Context) error {
	snapshot := h.registry.Snapshot()
	h.mu.Lock()
	h.lastSnapshot = snapshot
	h.mu.Unlock()
	return nil
}

func (h *HealthTracker) Stop(ctx context.Context) error {
	close(h.stopCh)
	return nil
}

// Snapshot returns the most recently polled breaker states.
func (h *HealthTracker) Snapshot() map[string]BreakerState {
	h.mu.RLock()
	snapshot := h.lastSnapshot
	h.mu.RUnlock()
	if snapshot == nil {
		return h.registry.Snapshot()
	}
	return snapshot
}

// Run drives the periodic tick via ref.Send until ctx is cancelled; the
// caller spawns this in a goroutine right after actor.System.Spawn.
func Run(ctx context.Context, ref *actor.ActorRef, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = ref.Send(healthTickMessage{})
		}
	}
}
