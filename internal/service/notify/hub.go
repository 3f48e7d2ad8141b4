package notify

import (
	"sync"

	"foodrescue/internal/model"
	"foodrescue/pkg/utils"
)

// Hub is the push channel: a registry of per-recipient subscriptions that
// receive newly persisted notifications as they are created. Delivery into
// a subscription preserves publish order; reconnect reconciliation is the
// subscriber's responsibility.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64][]chan *model.Notification
	buffer int
}

// NewHub creates a hub with the given per-subscription buffer size
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	return &Hub{
		subs:   make(map[uint64][]chan *model.Notification),
		buffer: buffer,
	}
}

// Subscribe registers a live subscription for the recipient. The returned
// cancel func must be called when the client disconnects; calling it more
// than once is safe.
func (h *Hub) Subscribe(recipientID uint64) (<-chan *model.Notification, func()) {
	ch := make(chan *model.Notification, h.buffer)

	h.mu.Lock()
	h.subs[recipientID] = append(h.subs[recipientID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		channels := h.subs[recipientID]
		found := false
		// Rebuild rather than splice: Publish may still hold the old slice.
		remaining := make([]chan *model.Notification, 0, len(channels))
		for _, c := range channels {
			if c == ch {
				found = true
				continue
			}
			remaining = append(remaining, c)
		}
		if !found {
			return
		}
		if len(remaining) == 0 {
			delete(h.subs, recipientID)
		} else {
			h.subs[recipientID] = remaining
		}
		// Closing under the write lock keeps the close out of any Publish,
		// which sends under the read lock.
		close(ch)
	}

	return ch, cancel
}

// Publish delivers a notification to every live subscription of the
// recipient. Returns ErrDeliveryUnavailable when nobody is connected or a
// subscription buffer is saturated; the notification is already persisted,
// so the caller absorbs this.
func (h *Hub) Publish(recipientID uint64, notification *model.Notification) error {
	// The read lock is held across the sends. Sends never block, and cancel
	// closes channels only under the write lock, so a send can never hit a
	// closed channel.
	h.mu.RLock()
	defer h.mu.RUnlock()

	channels := h.subs[recipientID]
	if len(channels) == 0 {
		return utils.ErrDeliveryUnavailable
	}

	var dropped bool
	for _, ch := range channels {
		select {
		case ch <- notification:
		default:
			// Slow consumer: never block the fan-out. The subscriber will
			// recover the gap on its next reconciliation fetch.
			dropped = true
		}
	}

	if dropped {
		return utils.ErrDeliveryUnavailable
	}
	return nil
}

// Subscribers returns the number of live subscriptions for a recipient.
func (h *Hub) Subscribers(recipientID uint64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[recipientID])
}
