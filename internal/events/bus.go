package events

import (
	"sync"
	"time"

	"trading-gateway/pkg/id"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan Envelope
	account string
	now     func() time.Time
	dropped uint64
}

// NewBus creates an event bus. account is stamped on every envelope.
func NewBus(account string) *Bus {
	return &Bus{
		subs:    make(map[Event][]chan Envelope),
		account: account,
		now:     time.Now,
	}
}

// Subscribe registers a listener for a topic (or EventAll) and returns the
// channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Envelope, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// Publish wraps payload in an Envelope and fans it out without blocking.
func (b *Bus) Publish(e Event, payload any) Envelope {
	if b == nil {
		return Envelope{}
	}
	at := b.now()
	env := Envelope{
		ID:      id.New(at),
		Topic:   e,
		At:      at,
		Account: b.account,
		Payload: payload,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, topic := range []Event{e, EventAll} {
		for _, ch := range b.subs[topic] {
			select {
			case ch <- env:
			default:
				// drop if subscriber is slow; keep broker non-blocking
				b.dropped++
			}
		}
	}
	return env
}

// Dropped returns how many deliveries were skipped for slow subscribers.
func (b *Bus) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}
