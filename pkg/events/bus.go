package events

import (
	"sync"

	"github.com/crystal-mush/mushkeeper/pkg/gamedb"
)

// Subscriber receives events from the bus.
type Subscriber interface {
	Receive(ev Event)
	Closed() bool
}

// Bus is a per-player pub/sub event bus with support for global subscribers.
// The game emits owner notifications and dbck results; the admin stream and
// the audit log subscribe globally.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[gamedb.DBRef][]Subscriber
	global      []Subscriber
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[gamedb.DBRef][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific player's events.
func (b *Bus) Subscribe(player gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[player] = append(b.subscribers[player], sub)
}

// Unsubscribe removes a subscriber, per-player or global.
func (b *Bus) Unsubscribe(player gamedb.DBRef, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[player] = remove(b.subscribers[player], sub)
	if len(b.subscribers[player]) == 0 {
		delete(b.subscribers, player)
	}
	b.global = remove(b.global, sub)
}

func remove(subs []Subscriber, sub Subscriber) []Subscriber {
	for i, s := range subs {
		if s == sub {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// SubscribeGlobal registers a subscriber that receives all events.
func (b *Bus) SubscribeGlobal(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.global = append(b.global, sub)
}

// Emit sends an event to the player in ev.Player and all global subscribers.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Player]
	globals := b.global
	b.mu.RUnlock()

	for _, s := range subs {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
	for _, s := range globals {
		if !s.Closed() {
			s.Receive(ev)
		}
	}
}

// EmitToPlayer sends an event to a specific player (overriding ev.Player).
func (b *Bus) EmitToPlayer(player gamedb.DBRef, ev Event) {
	ev.Player = player
	b.Emit(ev)
}

// Broadcast sends an event to global subscribers only.
func (b *Bus) Broadcast(ev Event) {
	ev.Player = gamedb.Nothing
	b.Emit(ev)
}

// PlayerSubscribers returns the number of subscribers for a player.
func (b *Bus) PlayerSubscribers(player gamedb.DBRef) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[player])
}

// Cleanup removes closed subscribers from all lists.
func (b *Bus) Cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for player, subs := range b.subscribers {
		var active []Subscriber
		for _, s := range subs {
			if !s.Closed() {
				active = append(active, s)
			}
		}
		if len(active) == 0 {
			delete(b.subscribers, player)
		} else {
			b.subscribers[player] = active
		}
	}

	var activeGlobal []Subscriber
	for _, s := range b.global {
		if !s.Closed() {
			activeGlobal = append(activeGlobal, s)
		}
	}
	b.global = activeGlobal
}

// ChanSubscriber delivers events on a buffered channel. When the reader
// falls behind, events are dropped and counted rather than blocking Emit.
type ChanSubscriber struct {
	C chan Event

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewChanSubscriber returns a subscriber with room for size pending events.
func NewChanSubscriber(size int) *ChanSubscriber {
	return &ChanSubscriber{C: make(chan Event, size)}
}

func (c *ChanSubscriber) Receive(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.C <- ev:
	default:
		c.dropped++
	}
}

func (c *ChanSubscriber) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close stops delivery and closes C.
func (c *ChanSubscriber) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.C)
	}
}

// Dropped returns how many events did not fit in the buffer.
func (c *ChanSubscriber) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
