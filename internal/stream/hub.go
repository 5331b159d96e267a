// Package stream fans one producer channel out to many subscribers, so any
// number of websocket clients, sinks and debug tails can watch the same
// pipeline output without coupling to the worker.
package stream

import (
	"context"
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"tailscale.com/tsweb"

	"github.com/banshee-data/motion.report/internal/monitoring"
)

// Hub copies every item read from its source to all current subscribers.
// Fan-out never blocks: a subscriber whose channel is full misses that item,
// so one stalled consumer cannot hold up the rest.
type Hub[T any] struct {
	name    string
	source  <-chan T
	buffer  int
	skipped atomic.Uint64

	subscriberMu sync.Mutex
	subscribers  map[string]chan T
	closed       bool
}

// NewHub creates a hub named name (used in logs and admin routes) reading
// from source. buffer sets each subscriber channel's capacity; with 0 a
// subscriber must be mid-receive to see an item at all.
func NewHub[T any](name string, source <-chan T, buffer int) *Hub[T] {
	return &Hub[T]{
		name:        name,
		source:      source,
		buffer:      buffer,
		subscribers: make(map[string]chan T),
	}
}

// randomID generates a random subscriber ID (8 byte random hex encoded value)
func randomID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber and returns its id and channel. Once
// the hub has shut down the returned channel is already closed.
func (h *Hub[T]) Subscribe() (string, <-chan T) {
	id := randomID()
	ch := make(chan T, h.buffer)
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if h.closed {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub[T]) Unsubscribe(id string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// SubscriberCount returns the number of active subscribers.
func (h *Hub[T]) SubscriberCount() int {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	return len(h.subscribers)
}

// Skipped returns how many per-subscriber deliveries were dropped because
// the subscriber's channel was full.
func (h *Hub[T]) Skipped() uint64 {
	return h.skipped.Load()
}

// Run fans out items until ctx is cancelled or the source closes. All
// subscriber channels are closed on the way out.
func (h *Hub[T]) Run(ctx context.Context) error {
	defer h.closeAll()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case item, ok := <-h.source:
			if !ok {
				monitoring.Logf("stream %s: source closed", h.name)
				return nil
			}
			h.publish(item)
		}
	}
}

func (h *Hub[T]) publish(item T) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- item:
		default:
			// full channel; the subscriber misses this item
			h.skipped.Add(1)
		}
	}
}

func (h *Hub[T]) closeAll() {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	h.closed = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
}

// AttachAdminRoutes mounts an SSE tail of the stream's items as JSON on the
// debug handler, named after the hub.
func (h *Hub[T]) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleSilentFunc(h.name+"-tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := h.Subscribe()
		defer h.Unsubscribe(id)

		// Send initial ping to establish connection
		w.Write([]byte(": ping\n\n"))
		w.(http.Flusher).Flush()

		for {
			select {
			case item, ok := <-c:
				if !ok {
					return
				}
				payload, err := json.Marshal(item)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
					return
				}
				w.(http.Flusher).Flush()
			case <-r.Context().Done():
				return
			}
		}
	})
}
