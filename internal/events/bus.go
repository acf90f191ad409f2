package events

import "sync"

// Bus fans stage events out to subscribers in subscription order. Publish
// returns only after every subscriber has seen the event; there is no
// batching and no delivery goroutine.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id       int
	listener Listener
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers listener and returns the id used to remove it.
func (b *Bus) Subscribe(listener Listener) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, listener: listener})
	return b.nextID
}

// Unsubscribe removes the listener registered under id. Removal takes effect
// on the next publish; a publish already in flight may still deliver once.
func (b *Bus) Unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers ev to every subscriber before returning.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.listener.HandleEvent(ev)
	}
}

// Len reports the current subscriber count.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
