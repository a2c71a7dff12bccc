package internal

import (
	"sync"
	"time"

	"github.com/cskr/pubsub/v2"
)

const presenceTopic = "presence"

// limits how far the history recorder may lag behind the trackers before events are dropped
const eventBusCapacity = 1024

// PresenceEvent is published after every count broadcast.
type PresenceEvent struct {
	Page     string    `json:"page"`
	Count    int       `json:"count"`
	Sessions int       `json:"sessions"`
	At       time.Time `json:"at"`
}

type EventBus = pubsub.PubSub[string, PresenceEvent]

// EventPublisher fans presence events out to subscribers. A nil publisher drops events.
type EventPublisher struct {
	mu     sync.RWMutex
	events *EventBus
	closed bool
}

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{events: pubsub.New[string, PresenceEvent](eventBusCapacity)}
}

// Publish never blocks an actor: a full subscriber just misses the event.
func (p *EventPublisher) Publish(e PresenceEvent) {
	if p == nil {
		return
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	p.events.TryPub(e, presenceTopic)
}

// Subscribe returns a channel of presence events; release it with Unsubscribe.
func (p *EventPublisher) Subscribe() chan PresenceEvent {
	return p.events.Sub(presenceTopic)
}

func (p *EventPublisher) Unsubscribe(ch chan PresenceEvent) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	p.events.Unsub(ch, presenceTopic)
}

// Close shuts the bus down and closes every subscription. Later publishes are dropped.
func (p *EventPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.events.Shutdown()
}
