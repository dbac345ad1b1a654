package sensor

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Source produces sample batches from one physical sensor. Next blocks until
// a batch is available or ctx is done.
type Source interface {
	Next(ctx context.Context) (*SampleBatch, error)
	Close() error
}

// HubStats is a snapshot of hub counters.
type HubStats struct {
	Subscribers int    `json:"subscribers"`
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Running     bool   `json:"running"`
}

// Hub fans batches from a single Source out to any number of subscribers.
// Delivery never blocks the source: a subscriber whose queue is full misses
// that batch.
type Hub struct {
	depth        int
	subscribers  map[string]chan *SampleBatch
	subscriberMu sync.Mutex
	closing      bool

	published atomic.Uint64
	dropped   atomic.Uint64
	running   atomic.Bool
}

// NewHub returns a Hub whose subscriber queues hold depth batches.
func NewHub(depth int) *Hub {
	if depth < 1 {
		depth = 1
	}
	return &Hub{
		depth:       depth,
		subscribers: make(map[string]chan *SampleBatch),
	}
}

// Subscribe registers a new queue. The ID is used to unsubscribe. Subscribing
// to a closed hub yields an already closed channel.
func (h *Hub) Subscribe() (string, <-chan *SampleBatch) {
	id := uuid.NewString()
	ch := make(chan *SampleBatch, h.depth)
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if h.closing {
		close(ch)
		return id, ch
	}
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscriber queue. Unknown IDs are ignored.
func (h *Hub) Unsubscribe(id string) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish offers b to every subscriber.
func (h *Hub) Publish(b *SampleBatch) {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	if h.closing {
		return
	}
	h.published.Add(1)
	for _, ch := range h.subscribers {
		select {
		case ch <- b:
		default:
			h.dropped.Add(1)
		}
	}
}

// Monitor pulls from src and publishes until ctx is done, the hub closes, or
// src fails.
func (h *Hub) Monitor(ctx context.Context, src Source) error {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		b, err := src.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		h.subscriberMu.Lock()
		closing := h.closing
		h.subscriberMu.Unlock()
		if closing {
			return nil
		}
		h.Publish(b)
	}
}

// Close closes every subscriber queue. Further publishes are discarded.
func (h *Hub) Close() error {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	h.closing = true
	for id, ch := range h.subscribers {
		close(ch)
		delete(h.subscribers, id)
	}
	return nil
}

// SubscriberCount returns the number of live subscribers.
func (h *Hub) SubscriberCount() int {
	h.subscriberMu.Lock()
	defer h.subscriberMu.Unlock()
	return len(h.subscribers)
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() HubStats {
	return HubStats{
		Subscribers: h.SubscriberCount(),
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Running:     h.running.Load(),
	}
}
