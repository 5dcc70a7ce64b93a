package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
)

type EventBroker interface {
    Subscribe(orgID string) chan StatusEvent
    Unsubscribe(orgID string, ch chan StatusEvent)
    Publish(orgID string, evt StatusEvent)
}

// In-memory broker already implemented in broker.go and satisfies EventBroker

// RedisBroker implements EventBroker over Redis Pub/Sub, so status streams
// work when the API runs as multiple replicas behind a load balancer.
type RedisBroker struct {
    rdb *redis.Client

    mu   sync.Mutex
    subs map[chan StatusEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opt, err := redis.ParseURL(url)
    if err != nil { return nil, err }
    return &RedisBroker{rdb: redis.NewClient(opt), subs: map[chan StatusEvent]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(orgID string) chan StatusEvent {
    ch := make(chan StatusEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(orgID))
    // initial consume to ensure subscription
    _, _ = ps.Receive(ctx)
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt StatusEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

func (b *RedisBroker) Unsubscribe(orgID string, ch chan StatusEvent) {
    b.mu.Lock()
    ps := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    // closing the subscription ends ps.Channel, which closes ch in the reader
    if ps != nil { _ = ps.Close() }
}

func (b *RedisBroker) Publish(orgID string, evt StatusEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    _ = b.rdb.Publish(ctx, b.chanName(orgID), data).Err()
}

func (b *RedisBroker) chanName(orgID string) string { return "hookrelay:deliveries:" + orgID }
