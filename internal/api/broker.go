package api

import (
	"sync"

	"mapahead/internal/discover"
)

// Broker is the in-memory EventBroker: discovery events keyed by route id,
// fanned out to every subscribed watcher. Slow watchers drop events rather
// than stall the pipeline.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan discover.Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: map[string]map[chan discover.Event]struct{}{}}
}

func (b *Broker) Subscribe(routeID string) chan discover.Event {
	ch := make(chan discover.Event, 16)
	b.mu.Lock()
	if b.subs[routeID] == nil {
		b.subs[routeID] = map[chan discover.Event]struct{}{}
	}
	b.subs[routeID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(routeID string, ch chan discover.Event) {
	b.mu.Lock()
	if m := b.subs[routeID]; m != nil {
		delete(m, ch)
		if len(m) == 0 {
			delete(b.subs, routeID)
		}
	}
	b.mu.Unlock()
	close(ch)
}

func (b *Broker) Publish(routeID string, evt discover.Event) {
	b.mu.Lock()
	for ch := range b.subs[routeID] {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.Unlock()
}
