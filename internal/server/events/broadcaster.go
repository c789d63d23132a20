package events

import (
	"sync"

	"github.com/brianhealey/smart-inventory/internal/server/models"
)

// Subscriber receives broadcast events over a bounded channel. Consume from
// Events; a subscriber that falls behind loses its oldest buffered events,
// never blocking publishers.
type Subscriber struct {
	ch chan models.Event
}

func (s *Subscriber) Events() <-chan models.Event {
	return s.ch
}

// Broadcaster fans events out to all live subscribers. The subscriber set
// and each queue hand-off are protected by one mutex; Publish never blocks.
type Broadcaster struct {
	mu        sync.Mutex
	subs      map[*Subscriber]struct{}
	queueSize int
}

func NewBroadcaster(queueSize int) *Broadcaster {
	if queueSize < 10 {
		queueSize = 10
	}
	return &Broadcaster{
		subs:      make(map[*Subscriber]struct{}),
		queueSize: queueSize,
	}
}

func (b *Broadcaster) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan models.Event, b.queueSize)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish enqueues the event for every subscriber. A full queue drops its
// oldest entry first: newest wins on slow consumers.
func (b *Broadcaster) Publish(event models.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		select {
		case sub.ch <- event:
		default:
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- event:
			default:
			}
		}
	}
}

// SubscriberCount reports the current number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
