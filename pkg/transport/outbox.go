package transport

import (
    "context"
    "sync"
)

// Outbox serializes outbound messages per target and message type. Each
// (target, type) pair has one sender goroutine and a single pending slot: a
// message posted while an earlier one is still being delivered replaces any
// message already waiting, so a peer never receives an older usage snapshot
// after a newer one.
type Outbox struct {
    deliver func(target Target, msg Message)

    mu     sync.Mutex
    slots  map[outboxKey]*outboxSlot
    closed bool
    wg     sync.WaitGroup
}

type outboxKey struct {
    target Target
    typ    string
}

type outboxSlot struct {
    pending *Message
    busy    bool
}

// NewOutbox returns an outbox handing messages to deliver, which runs on the
// pair's sender goroutine and may block until the message is sent or given up.
func NewOutbox(deliver func(target Target, msg Message)) *Outbox {
    return &Outbox{deliver: deliver, slots: make(map[outboxKey]*outboxSlot)}
}

// Post queues msg for target. It reports whether an undelivered message of
// the same type was superseded. Posts after Close are dropped.
func (o *Outbox) Post(msg Message, target Target) (superseded bool) {
    o.mu.Lock()
    defer o.mu.Unlock()
    if o.closed { return false }
    key := outboxKey{target: target, typ: msg.Type}
    s, ok := o.slots[key]
    if !ok {
        s = &outboxSlot{}
        o.slots[key] = s
    }
    superseded = s.pending != nil
    s.pending = &msg
    if !s.busy {
        s.busy = true
        o.wg.Add(1)
        go o.drain(key, s)
    }
    return superseded
}

func (o *Outbox) drain(key outboxKey, s *outboxSlot) {
    defer o.wg.Done()
    for {
        o.mu.Lock()
        if s.pending == nil || o.closed {
            s.pending, s.busy = nil, false
            delete(o.slots, key)
            o.mu.Unlock()
            return
        }
        msg := *s.pending
        s.pending = nil
        o.mu.Unlock()
        o.deliver(key.target, msg)
    }
}

// Close drops pending messages and waits for in-flight deliveries until ctx
// ends.
func (o *Outbox) Close(ctx context.Context) error {
    o.mu.Lock()
    o.closed = true
    for _, s := range o.slots { s.pending = nil }
    o.mu.Unlock()
    done := make(chan struct{})
    go func() { o.wg.Wait(); close(done) }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}
