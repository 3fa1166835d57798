// Package listener reacts to row-change notifications on a session's
// backing records: it invalidates the cached session, reloads the profile,
// and republishes the result.
package listener

import (
	"fmt"
	"sync"

	"avanza/internal/sentinel"
)

// Record kinds carried by change notifications.
const (
	KindProfile      = "profile"
	KindOrganization = "organization"
	KindReview       = "review"
)

// ChangeEvent is one row-change notification.
type ChangeEvent struct {
	Kind string `json:"kind"`
	Key  string `json:"key"` // subject id or organization id, per kind
}

// Subscription is a handle to an active subscription. Handles are tracked
// explicitly by their owner so teardown is an iterate-and-unsubscribe,
// not a wait for the garbage collector.
type Subscription interface {
	Unsubscribe()
}

// Source delivers change events for a (kind, key) pair.
type Source interface {
	Subscribe(kind, key string, fn func(ChangeEvent)) (Subscription, error)
}

// MemoryBus is an in-process Source for tests and single-node deployments.
type MemoryBus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func(ChangeEvent)
}

// NewMemoryBus constructs an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]func(ChangeEvent))}
}

func busKey(kind, key string) string {
	return kind + ":" + key
}

// Subscribe registers fn for events matching (kind, key).
func (b *MemoryBus) Subscribe(kind, key string, fn func(ChangeEvent)) (Subscription, error) {
	if kind == "" || key == "" || fn == nil {
		return nil, fmt.Errorf("kind, key, and handler are required: %w", sentinel.ErrInvalidInput)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	topic := busKey(kind, key)
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]func(ChangeEvent))
	}
	id := b.next
	b.next++
	b.subs[topic][id] = fn
	return &memorySubscription{bus: b, topic: topic, id: id}, nil
}

// Publish delivers the event to all matching subscribers synchronously.
func (b *MemoryBus) Publish(event ChangeEvent) {
	b.mu.RLock()
	handlers := make([]func(ChangeEvent), 0, len(b.subs[busKey(event.Kind, event.Key)]))
	for _, fn := range b.subs[busKey(event.Kind, event.Key)] {
		handlers = append(handlers, fn)
	}
	b.mu.RUnlock()

	for _, fn := range handlers {
		fn(event)
	}
}

// SubscriberCount reports how many handlers are registered for (kind, key).
func (b *MemoryBus) SubscriberCount(kind, key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[busKey(kind, key)])
}

type memorySubscription struct {
	bus   *MemoryBus
	topic string
	id    int
	once  sync.Once
}

func (s *memorySubscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		delete(s.bus.subs[s.topic], s.id)
		if len(s.bus.subs[s.topic]) == 0 {
			delete(s.bus.subs, s.topic)
		}
	})
}
