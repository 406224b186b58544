package collector

import (
    "sync"

    "github.com/amirimatin/go-usage/pkg/topology"
    "github.com/amirimatin/go-usage/pkg/transport"
)

type sent struct {
    msg    transport.Message
    target transport.Target
}

type fakeTransport struct {
    transport.Handlers
    mu   sync.Mutex
    sent []sent
}

func (f *fakeTransport) Send(msg transport.Message, target transport.Target) {
    f.mu.Lock(); f.sent = append(f.sent, sent{msg: msg, target: target}); f.mu.Unlock()
}

func (f *fakeTransport) Sent() []sent {
    f.mu.Lock(); defer f.mu.Unlock()
    return append([]sent(nil), f.sent...)
}

type fakeTopology struct{ fns []func(topology.Update) }

func (f *fakeTopology) OnUpdate(fn func(topology.Update)) { f.fns = append(f.fns, fn) }

func (f *fakeTopology) emit(u topology.Update) {
    for _, fn := range f.fns { fn(u) }
}

func nodes(ids ...string) topology.Update {
    u := topology.Update{Nodes: []topology.Node{}}
    for _, id := range ids { u.Nodes = append(u.Nodes, topology.Node{ID: id}) }
    return u
}
