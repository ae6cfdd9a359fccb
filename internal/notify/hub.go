package notify

import "sync"

const subscriberBuffer = 16

// Hub is an in-process Broker. Subscribers that fall behind lose events
// rather than stall the publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan Event]struct{})}
}

// Publish delivers the event to every current subscriber of the key.
// Slow subscribers are skipped.
func (h *Hub) Publish(key string, event Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[key] {
		select {
		case ch <- event:
		default:
		}
	}
}

// Subscribe registers a new subscriber for the key. The returned cancel
// function detaches the subscriber and closes its channel.
func (h *Hub) Subscribe(key string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	set, ok := h.subs[key]
	if !ok {
		set = make(map[chan Event]struct{})
		h.subs[key] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[key]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, key)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

var _ Broker = (*Hub)(nil)
