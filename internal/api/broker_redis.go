package api

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"mapahead/internal/discover"
)

// EventBroker fans discovery events out to watchers of a route.
type EventBroker interface {
	Subscribe(routeID string) chan discover.Event
	Unsubscribe(routeID string, ch chan discover.Event)
	Publish(routeID string, evt discover.Event)
}

// RedisBroker implements EventBroker over Redis Pub/Sub so watchers on one
// instance see events from discovery runs on another.
type RedisBroker struct {
	rdb *redis.Client

	mu   sync.Mutex
	subs map[chan discover.Event]*redis.PubSub
}

func NewRedisBroker() (*RedisBroker, error) {
	opt, err := redis.ParseURL(os.Getenv("REDIS_URL"))
	if err != nil {
		return nil, err
	}
	return &RedisBroker{rdb: redis.NewClient(opt), subs: map[chan discover.Event]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(routeID string) chan discover.Event {
	ch := make(chan discover.Event, 16)
	ctx := context.Background()
	ps := b.rdb.Subscribe(ctx, b.chanName(routeID))
	// first Receive confirms the subscription is live
	_, _ = ps.Receive(ctx)

	b.mu.Lock()
	b.subs[ch] = ps
	b.mu.Unlock()

	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt discover.Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
				select {
				case ch <- evt:
				default:
				}
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(routeID string, ch chan discover.Event) {
	b.mu.Lock()
	ps := b.subs[ch]
	delete(b.subs, ch)
	b.mu.Unlock()
	if ps != nil {
		// closing the PubSub ends ps.Channel(), which closes ch
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(routeID string, evt discover.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, _ := json.Marshal(evt)
	_ = b.rdb.Publish(ctx, b.chanName(routeID), data).Err()
}

func (b *RedisBroker) chanName(routeID string) string { return "route:" + routeID }
