package bus

import (
	"sync"

	"github.com/bflycam/bfly/pkg/types"
)

const subscriberBuffer = 16

// Hub fans emissions out to in-process subscribers.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan types.Emission]struct{}
	closed bool
}

func NewHub() *Hub { return &Hub{subs: make(map[chan types.Emission]struct{})} }

// Subscribe returns a buffered channel receiving every following emission.
// The channel is closed by Unsubscribe or Close.
func (h *Hub) Subscribe() chan types.Emission {
	ch := make(chan types.Emission, subscriberBuffer)
	h.mu.Lock()
	if h.closed {
		close(ch)
	} else {
		h.subs[ch] = struct{}{}
	}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan types.Emission) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Publish(e types.Emission) error {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	for ch := range h.subs {
		// Non-blocking send; drop if subscriber is slow
		select {
		case ch <- e:
		default:
		}
	}
	h.mu.RUnlock()
	return nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	for ch := range h.subs {
		close(ch)
	}
	h.subs = make(map[chan types.Emission]struct{})
	h.closed = true
	h.mu.Unlock()
	return nil
}
