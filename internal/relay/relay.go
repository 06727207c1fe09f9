// Package relay fans content change events out to live subscribers.
package relay

import (
	"context"
	"sync"
	"time"
)

// Action names the kind of write that produced a ChangeEvent.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionBulkDelete Action = "bulk-delete"
)

const defaultBufferSize = 16

// ChangeEvent describes one committed write to a collection.
type ChangeEvent struct {
	Collection string    `json:"collection"`
	Action     Action    `json:"action"`
	Data       any       `json:"data"`
	Timestamp  time.Time `json:"timestamp"`
}

// BulkDeletePayload is the Data of a bulk-delete event.
type BulkDeletePayload struct {
	IDs   []string `json:"ids"`
	Count int64    `json:"count"`
}

// Config tunes a Relay.
type Config struct {
	BufferSize int
}

// Relay delivers events to subscribers without blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Relay struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
}

type subscriber struct {
	id          int64
	collections map[string]struct{}
	stream      chan ChangeEvent
	closeOnce   sync.Once
}

// New constructs a Relay.
func New(cfg Config) *Relay {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	return &Relay{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a stream for the given collections; no collections
// means every collection. The returned cleanup, which also runs when ctx
// ends, unsubscribes and closes the stream.
func (r *Relay) Subscribe(ctx context.Context, collections ...string) (<-chan ChangeEvent, func()) {
	sub := &subscriber{
		stream: make(chan ChangeEvent, r.bufferSize),
	}
	for _, collection := range collections {
		if collection == "" {
			continue
		}
		if sub.collections == nil {
			sub.collections = make(map[string]struct{}, len(collections))
		}
		sub.collections[collection] = struct{}{}
	}

	r.mu.Lock()
	r.nextID++
	sub.id = r.nextID
	r.subscribers[sub.id] = sub
	r.mu.Unlock()

	done := make(chan struct{})
	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			close(done)
			r.unregister(sub)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

// Publish fans the event out to every matching subscriber.
func (r *Relay) Publish(event ChangeEvent) {
	if event.Collection == "" || event.Action == "" {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	// Holding the read lock while sending keeps unregister from closing a
	// stream mid-send; sends never block.
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sub := range r.subscribers {
		if !sub.wants(event.Collection) {
			continue
		}
		select {
		case sub.stream <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of live subscriptions.
func (r *Relay) SubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subscribers)
}

func (r *Relay) unregister(sub *subscriber) {
	r.mu.Lock()
	delete(r.subscribers, sub.id)
	r.mu.Unlock()
	sub.closeOnce.Do(func() {
		close(sub.stream)
	})
}

func (s *subscriber) wants(collection string) bool {
	if len(s.collections) == 0 {
		return true
	}
	_, ok := s.collections[collection]
	return ok
}
