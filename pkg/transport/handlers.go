package transport

import "sync"

// Handlers is a registry of inbound callbacks shared by Endpoint
// implementations.
type Handlers struct {
    mu   sync.RWMutex
    msg  []MessageHandler
    disc []DisconnectHandler
}

func (h *Handlers) OnMessage(fn MessageHandler) {
    if fn == nil { return }
    h.mu.Lock(); h.msg = append(h.msg, fn); h.mu.Unlock()
}

func (h *Handlers) OnDisconnect(fn DisconnectHandler) {
    if fn == nil { return }
    h.mu.Lock(); h.disc = append(h.disc, fn); h.mu.Unlock()
}

// Deliver invokes every message handler in registration order.
func (h *Handlers) Deliver(msg Message, source string) {
    h.mu.RLock()
    fns := append([]MessageHandler(nil), h.msg...)
    h.mu.RUnlock()
    for _, fn := range fns { fn(msg, source) }
}

// Disconnected invokes every disconnect handler in registration order.
func (h *Handlers) Disconnected(source string) {
    h.mu.RLock()
    fns := append([]DisconnectHandler(nil), h.disc...)
    h.mu.RUnlock()
    for _, fn := range fns { fn(source) }
}
