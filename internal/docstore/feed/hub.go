package feed

import (
	"sync"
)

type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
)

const DefaultSubscriberBuffer = 64

// Event is one committed write to a collection. Document always carries the
// full record as stored after the write.
type Event[T any] struct {
	Type     EventType `json:"type"`
	Document T         `json:"document"`
}

// Hub fans events for one collection out to predicate-filtered subscribers.
// Slow subscribers are never allowed to block a publisher: an event that does
// not fit in a subscriber's buffer is dropped and the subscription is flagged
// lagged so its owner can resynchronise.
type Hub[T any] struct {
	mu               sync.RWMutex
	subs             map[uint64]*Subscription[T]
	nextID           uint64
	subscriberBuffer int
}

type Subscription[T any] struct {
	hub       *Hub[T]
	id        uint64
	predicate func(T) bool
	ch        chan Event[T]
	lagged    chan struct{}
	once      sync.Once
}

func NewHub[T any](subscriberBuffer int) *Hub[T] {
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	return &Hub[T]{
		subs:             make(map[uint64]*Subscription[T]),
		subscriberBuffer: subscriberBuffer,
	}
}

// Publish delivers ev to every subscriber whose predicate accepts the
// document. Callers serialise publishes per document to keep per-record order.
func (h *Hub[T]) Publish(ev Event[T]) {
	if h == nil {
		return
	}

	h.mu.RLock()
	targets := make([]*Subscription[T], 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.predicate == nil || sub.predicate(ev.Document) {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.ch <- ev:
		default:
			select {
			case sub.lagged <- struct{}{}:
			default:
			}
		}
	}
}

// Subscribe registers predicate. A nil predicate receives every event.
func (h *Hub[T]) Subscribe(predicate func(T) bool) *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	sub := &Subscription[T]{
		hub:       h,
		id:        id,
		predicate: predicate,
		ch:        make(chan Event[T], h.subscriberBuffer),
		lagged:    make(chan struct{}, 1),
	}
	h.subs[id] = sub
	return sub
}

func (h *Hub[T]) Subscribers() int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub[T]) unsubscribe(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

func (s *Subscription[T]) Events() <-chan Event[T] {
	if s == nil {
		return nil
	}
	return s.ch
}

// Lagged fires once per overflow episode.
func (s *Subscription[T]) Lagged() <-chan struct{} {
	if s == nil {
		return nil
	}
	return s.lagged
}

func (s *Subscription[T]) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s.id)
	})
}
