package node

import (
    "context"
    "sync"
    "time"

    "github.com/amirimatin/go-usage/pkg/consensus"
    "github.com/amirimatin/go-usage/pkg/membership"
    "github.com/amirimatin/go-usage/pkg/transport"
)

type fakeCons struct {
    mu       sync.Mutex
    leader   bool
    leaderID string
    applied  []consensus.Command
    voters   []string
    removed  []string
}

func (f *fakeCons) Start(context.Context) error { return nil }
func (f *fakeCons) Stop() error                  { return nil }
func (f *fakeCons) Term() uint64                 { return 3 }

func (f *fakeCons) Apply(cmd consensus.Command, _ time.Duration) error {
    f.mu.Lock(); defer f.mu.Unlock()
    f.applied = append(f.applied, cmd)
    return nil
}

func (f *fakeCons) IsLeader() bool {
    f.mu.Lock(); defer f.mu.Unlock()
    return f.leader
}

func (f *fakeCons) Leader() (string, string, bool) {
    f.mu.Lock(); defer f.mu.Unlock()
    return f.leaderID, "", f.leaderID != ""
}

func (f *fakeCons) AddVoter(id, addr string, _ time.Duration) error {
    f.mu.Lock(); defer f.mu.Unlock()
    f.voters = append(f.voters, id+"@"+addr)
    return nil
}

func (f *fakeCons) RemoveServer(id string, _ time.Duration) error {
    f.mu.Lock(); defer f.mu.Unlock()
    f.removed = append(f.removed, id)
    return nil
}

func (f *fakeCons) set(leader bool, id string) {
    f.mu.Lock(); f.leader, f.leaderID = leader, id; f.mu.Unlock()
}

func (f *fakeCons) ops() []string {
    f.mu.Lock(); defer f.mu.Unlock()
    out := make([]string, 0, len(f.applied))
    for _, c := range f.applied { out = append(out, c.Op) }
    return out
}

var (
    _ consensus.Consensus    = (*fakeCons)(nil)
    _ consensus.Reconfigurer = (*fakeCons)(nil)
)

type fakeMem struct {
    self    membership.MemberInfo
    members []membership.MemberInfo
    evts    chan membership.Event
}

func (f *fakeMem) Start(context.Context) error            { return nil }
func (f *fakeMem) Join([]string) error                    { return nil }
func (f *fakeMem) Local() membership.MemberInfo           { return f.self }
func (f *fakeMem) Members() []membership.MemberInfo       { return f.members }
func (f *fakeMem) Events() <-chan membership.Event        { return f.evts }
func (f *fakeMem) Leave() error                           { return nil }
func (f *fakeMem) Stop() error                            { return nil }

// fakeEndpoint records sends and never listens.
type fakeEndpoint struct {
    transport.Handlers
    mu      sync.Mutex
    resolve transport.Resolver
    sent    []transport.Target
}

func (f *fakeEndpoint) SetResolver(r transport.Resolver)                 { f.resolve = r }
func (f *fakeEndpoint) Start(context.Context, transport.Views) error     { return nil }
func (f *fakeEndpoint) Addr() string                                     { return "10.0.0.1:8080" }
func (f *fakeEndpoint) Stop(context.Context) error                       { return nil }

func (f *fakeEndpoint) Send(_ transport.Message, target transport.Target) {
    f.mu.Lock(); f.sent = append(f.sent, target); f.mu.Unlock()
}

func member(id string) membership.MemberInfo {
    return membership.MemberInfo{ID: id, Addr: id + ":7946", Meta: map[string]string{
        membership.MetaEndpoint: id + ":8080",
        membership.MetaRaft:     id + ":9000",
    }}
}
