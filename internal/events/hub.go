package events

import (
	"sync"
	"sync/atomic"

	"github.com/park285/cheese-analysis/internal/chess/uci"
	"go.uber.org/zap"
)

const defaultBuffer = 256

// Subscription is one consumer of the hub. C is closed when the subscription
// is cancelled or the hub is closed.
type Subscription struct {
	C <-chan uci.EngineMessage

	id      int
	ch      chan uci.EngineMessage
	dropped atomic.Int64
}

// Dropped counts messages discarded because the consumer fell behind.
func (s *Subscription) Dropped() int64 { return s.dropped.Load() }

// Hub fans engine messages out to subscribers. Publish never blocks: a full
// subscriber buffer drops the message for that subscriber only.
type Hub struct {
	logger *zap.Logger

	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{logger: logger, subs: make(map[int]*Subscription)}
}

// Subscribe registers a consumer with the given buffer size. The returned
// cancel func is safe to call more than once.
func (h *Hub) Subscribe(buffer int) (*Subscription, func()) {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	ch := make(chan uci.EngineMessage, buffer)
	sub := &Subscription{C: ch, ch: ch}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return sub, func() {}
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub, func() {
		once.Do(func() { h.remove(sub.id) })
	}
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sub, ok := h.subs[id]
	if !ok {
		return
	}
	delete(h.subs, id)
	close(sub.ch)
}

func (h *Hub) Publish(msg uci.EngineMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		select {
		case sub.ch <- msg:
		default:
			if sub.dropped.Add(1) == 1 {
				h.logger.Warn("event_subscriber_lagging", zap.Int("subscriber", sub.id))
			}
		}
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close closes every subscription. Later Publish calls are no-ops.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		close(sub.ch)
	}
}

// Multi publishes to each non-nil publisher in order.
type Multi []uci.Publisher

func (m Multi) Publish(msg uci.EngineMessage) {
	for _, p := range m {
		if p != nil {
			p.Publish(msg)
		}
	}
}
