package api

import (
    "sync"
)

// StatusEvent is a delivery status update fanned out to live subscribers.
type StatusEvent struct {
    Type string
    Data map[string]any
}

type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan StatusEvent]struct{} // orgID -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan StatusEvent]struct{}{}}
}

func (b *Broker) Subscribe(orgID string) chan StatusEvent {
    ch := make(chan StatusEvent, 8)
    b.mu.Lock()
    if b.subs[orgID] == nil { b.subs[orgID] = map[chan StatusEvent]struct{}{} }
    b.subs[orgID][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(orgID string, ch chan StatusEvent) {
    b.mu.Lock()
    if m := b.subs[orgID]; m != nil {
        delete(m, ch)
        if len(m) == 0 { delete(b.subs, orgID) }
    }
    b.mu.Unlock()
    close(ch)
}

func (b *Broker) Publish(orgID string, evt StatusEvent) {
    b.mu.Lock()
    m := b.subs[orgID]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}
