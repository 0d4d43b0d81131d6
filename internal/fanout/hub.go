package fanout

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/feedback-service/internal/domain"
)

// Viewer is one connected dashboard.
type Viewer struct {
	Principal domain.Principal
	ch        chan Message
	dropped   atomic.Int64
}

// Messages returns the viewer's stream. It is closed on unregister.
func (v *Viewer) Messages() <-chan Message { return v.ch }

// Dropped counts messages discarded because the viewer fell behind.
func (v *Viewer) Dropped() int64 { return v.dropped.Load() }

// Hub delivers bus messages to the viewers connected to this process.
type Hub struct {
	buffer int
	logger *zap.Logger

	mu      sync.RWMutex
	viewers map[*Viewer]struct{}
}

// NewHub builds a hub whose viewers buffer up to buffer messages.
func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 32
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{buffer: buffer, logger: logger, viewers: make(map[*Viewer]struct{})}
}

// Register connects a viewer. The returned func disconnects it.
func (h *Hub) Register(p domain.Principal) (*Viewer, func()) {
	v := &Viewer{Principal: p, ch: make(chan Message, h.buffer)}
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return v, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.viewers, v)
			close(v.ch)
			h.mu.Unlock()
		})
	}
}

// Count returns the number of connected viewers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Broadcast hands msg to every viewer whose scope covers it. Slow viewers
// lose messages rather than block the hub.
func (h *Hub) Broadcast(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for v := range h.viewers {
		if !msg.VisibleTo(v.Principal) {
			continue
		}
		select {
		case v.ch <- msg:
		default:
			v.dropped.Add(1)
		}
	}
}

// Run relays bus messages to viewers until ctx is done.
func (h *Hub) Run(ctx context.Context, bus Bus) error {
	msgs, err := bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	h.logger.Info("fan-out hub started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			h.Broadcast(msg)
		}
	}
}
